package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/olahol/wsrelay/frame"
)

// receive reads frames until the relay closes, the connection is torn down
// or the stream fails. Every text frame is handed to the message handler and
// a signal is offered on replies.
func (c *Client) receive(ctx context.Context, replies chan<- struct{}) error {
	buf := frame.NewBuffer(c.Config.MaxMessageSize)
	buf.Write(c.pending)
	c.pending = nil

	if done, err := c.drain(buf, replies); done || err != nil {
		return err
	}

	chunk := make([]byte, c.Config.ReadBufferSize)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if done, derr := c.drain(buf, replies); done || derr != nil {
				return derr
			}
		}
		if err != nil {
			if ctx.Err() != nil || c.State() >= StateClosing {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.logger.Info("relay closed the connection")
				return nil
			}
			err = fmt.Errorf("%w: %v", ErrTransportClosed, err)
			c.errorHandler(err)
			return err
		}
	}
}

// drain consumes every complete frame in buf and reports whether a close frame
// was seen.
func (c *Client) drain(buf *frame.Buffer, replies chan<- struct{}) (bool, error) {
	for {
		f, err := buf.Next()
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrNeedMoreData):
			return false, nil
		case errors.Is(err, frame.ErrConnectionClose):
			c.logger.Info("relay sent close frame")
			return true, nil
		default:
			c.errorHandler(err)
			return true, err
		}

		if f.Opcode.IsControl() {
			continue
		}

		msg := c.decodeMessage(f.Payload)
		if len(f.Payload) > 0 && c.chatLog != nil {
			if _, err := fmt.Fprintf(c.chatLog, "%s\n", f.Text()); err != nil {
				c.logger.Warn("chat log write failed", "error", err)
			}
		}
		c.messageHandler(msg)

		select {
		case replies <- struct{}{}:
		default:
		}
	}
}

func (c *Client) decodeMessage(payload []byte) Message {
	msg := Message{
		Text:       frame.Frame{Payload: payload}.Text(),
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	switch c.Config.Mode {
	case ModeText:
		if name, text, ok := strings.Cut(msg.Text, ": "); ok {
			msg.Username, msg.Text = name, text
		}
	default:
		if env, err := ParseEnvelope(payload); err == nil {
			msg.Username = env.User.Name
			msg.Text = env.Message.Text
		}
	}
	return msg
}
