package wsrelay

import (
	"errors"

	"github.com/olahol/wsrelay/frame"
)

var (
	ErrClosed            = errors.New("relay is closed")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrHandshakeFailed   = errors.New("websocket handshake failed")
	ErrPayloadTooLarge   = frame.ErrPayloadTooLarge
	ErrMalformedEnvelope = errors.New("malformed message envelope")
	ErrDeliveryFailure   = errors.New("delivery to session failed")
	ErrTransportClosed   = errors.New("transport closed")
	ErrCapacityExceeded  = errors.New("session capacity exceeded")
	ErrNotConnected      = errors.New("client is not connected")
	ErrNoReply           = errors.New("no reply received")
)
