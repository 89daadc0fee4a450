package wsrelay

import (
	"time"

	"github.com/olahol/wsrelay/frame"
)

// Mode selects how frame payloads are interpreted.
type Mode int

const (
	// ModeJSON carries Envelope documents in every payload.
	ModeJSON Mode = iota
	// ModeText carries raw text; a leading "[ID]<name>" payload names the session.
	ModeText
)

func (m Mode) String() string {
	switch m {
	case ModeJSON:
		return "json"
	case ModeText:
		return "text"
	default:
		return "unknown"
	}
}

// HeadlessPolicy decides when a headless client stops after it got a reply.
type HeadlessPolicy int

const (
	// LingerAfterReply stops ReplyLinger after the first reply.
	LingerAfterReply HeadlessPolicy = iota
	// LingerIdle stops once no reply arrived for ReplyLinger.
	LingerIdle
)

const (
	DefaultAddr        = "0.0.0.0:9999"
	DefaultMaxSessions = 10
	DefaultUsername    = "Anonym"
)

type Config struct {
	Addr             string
	Mode             Mode
	MaxSessions      int
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	MaxMessageSize   int
}

func newConfig() *Config {
	return &Config{
		Addr:             DefaultAddr,
		Mode:             ModeJSON,
		MaxSessions:      DefaultMaxSessions,
		WriteWait:        10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		MaxMessageSize:   frame.MaxPayload,
	}
}

type ClientConfig struct {
	Mode             Mode
	Username         string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	ReadBufferSize   int
	MaxMessageSize   int
	FixedKey         bool
	HeadlessPolicy   HeadlessPolicy
	ReplyLinger      time.Duration
	HeadlessTimeout  time.Duration
}

func newClientConfig() *ClientConfig {
	return &ClientConfig{
		Mode:             ModeJSON,
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		ReadBufferSize:   4096,
		MaxMessageSize:   0,
		HeadlessPolicy:   LingerAfterReply,
		ReplyLinger:      5 * time.Second,
		HeadlessTimeout:  50 * time.Second,
	}
}
