package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olahol/wsrelay/frame"
)

// State is the lifecycle stage of a Client.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Message is one payload received from the relay.
type Message struct {
	Username   string
	Text       string
	Payload    []byte
	ReceivedAt time.Time
}

type handleClientMessageFunc func(Message)
type handleClientErrorFunc func(error)
type handleClientStateFunc func()
type handleClientSentFunc func(text string)

// Client is one chat connection to a relay.
type Client struct {
	Config            *ClientConfig
	addr              string
	conn              net.Conn
	pending           []byte
	state             atomic.Int32
	writeMu           sync.Mutex
	closeOnce         sync.Once
	chatLog           io.Writer
	logger            *slog.Logger
	messageHandler    handleClientMessageFunc
	sentHandler       handleClientSentFunc
	errorHandler      handleClientErrorFunc
	connectHandler    handleClientStateFunc
	disconnectHandler handleClientStateFunc
}

// NewClient returns a client for the relay at addr (host:port). Nothing is
// dialed until Connect.
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{
		Config:            newClientConfig(),
		addr:              addr,
		logger:            discardLogger(),
		messageHandler:    func(Message) {},
		sentHandler:       func(string) {},
		errorHandler:      func(error) {},
		connectHandler:    func() {},
		disconnectHandler: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleMessage fires fn for every text frame received.
func (c *Client) HandleMessage(fn func(Message)) {
	c.messageHandler = fn
}

// HandleSentMessage fires fn after a chat line was written to the relay.
func (c *Client) HandleSentMessage(fn func(text string)) {
	c.sentHandler = fn
}

// HandleError fires fn when the receive duty fails.
func (c *Client) HandleError(fn func(error)) {
	c.errorHandler = fn
}

// HandleConnect fires fn once the handshake succeeded.
func (c *Client) HandleConnect(fn func()) {
	c.connectHandler = fn
}

// HandleDisconnect fires fn when the connection is torn down.
func (c *Client) HandleDisconnect(fn func()) {
	c.disconnectHandler = fn
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("state changed", "from", old, "to", s)
	}
}

// Connect dials the relay and performs the opening handshake. Dialing and
// handshaking together are bounded by Config.HandshakeTimeout. On success the
// client is Ready and, if a username is configured, has announced it.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() != StateConnecting || c.conn != nil {
		return fmt.Errorf("connect in state %s", c.State())
	}

	hctx, cancel := context.WithTimeout(ctx, c.Config.HandshakeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(hctx, "tcp", c.addr)
	if err != nil {
		c.setState(StateClosed)
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: dial %s: %v", ErrConnectionTimeout, c.addr, err)
		}
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}

	c.setState(StateHandshaking)
	if deadline, ok := hctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(hctx, func() { conn.SetDeadline(time.Now()) })

	key := newHandshakeKey(c.Config.FixedKey)
	pending, err := clientHandshake(conn, c.addr, key, !c.Config.FixedKey)
	stop()
	if err != nil {
		conn.Close()
		c.setState(StateClosed)
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return err
	}
	conn.SetDeadline(time.Time{})

	c.conn = conn
	c.pending = pending
	c.setState(StateReady)
	c.logger.Info("connected", "addr", c.addr, "mode", c.Config.Mode)
	c.connectHandler()

	if c.Config.Username != "" {
		if err := c.announce(c.Config.Username); err != nil {
			c.Close()
			return err
		}
	}
	return nil
}

// SetUsername renames this client on the relay. In text mode only the first
// payload of a session may carry a name, so it only has effect before any
// chat line was sent.
func (c *Client) SetUsername(name string) error {
	c.Config.Username = name
	return c.announce(name)
}

func (c *Client) announce(name string) error {
	var payload []byte
	switch c.Config.Mode {
	case ModeText:
		payload = []byte(idPrefix + name)
	default:
		b, err := NewEnvelope(name, "null", ChangeUsername|NoBroadcast).Marshal()
		if err != nil {
			return err
		}
		payload = b
	}
	return c.writeText(payload)
}

// Send writes one chat line to the relay. A payload over the frame limit
// fails only this send.
func (c *Client) Send(text string) error {
	var payload []byte
	switch c.Config.Mode {
	case ModeText:
		payload = []byte(text)
	default:
		name := c.Config.Username
		if name == "" {
			name = DefaultUsername
		}
		b, err := NewEnvelope(name, text, 0).Marshal()
		if err != nil {
			return err
		}
		payload = b
	}

	if err := c.writeText(payload); err != nil {
		return err
	}
	c.sentHandler(text)
	return nil
}

func (c *Client) writeText(payload []byte) error {
	if c.State() != StateReady {
		return ErrNotConnected
	}

	b, err := frame.Encode(payload)
	if err != nil {
		return err
	}
	if err := c.write(b); err != nil {
		c.conn.Close()
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

func (c *Client) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.Config.WriteWait))
	_, err := c.conn.Write(b)
	return err
}

// Close sends a close frame and tears the connection down. It is safe to call
// more than once.
func (c *Client) Close() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.closeOnce.Do(func() {
		if c.State() == StateReady {
			c.setState(StateClosing)
			if err := c.write(frame.EncodeClose()); err != nil {
				c.logger.Debug("close frame not sent", "error", err)
			}
		}
		c.setState(StateClosing)
		c.conn.Close()
		c.setState(StateClosed)
		c.logger.Info("disconnected", "addr", c.addr)
		c.disconnectHandler()
	})
	return nil
}

// LocalAddr returns the local addr of the connection.
func (c *Client) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}
