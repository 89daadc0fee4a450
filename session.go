package wsrelay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/olahol/wsrelay/frame"
)

// transport is the write side of one accepted connection.
type transport interface {
	WriteText(payload []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// Session is one admitted connection. It is owned by the Registry; other
// goroutines refer to it by ID only.
type Session struct {
	ID          int
	Username    string
	ConnectedAt time.Time
	conn        transport
	routed      int
}

func (s *Session) write(payload []byte) error {
	return s.conn.WriteText(payload)
}

func (s *Session) close() error {
	return s.conn.Close()
}

// RemoteAddr returns the remote addr of the connection.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// rawConn speaks the frame codec over a plain TCP connection.
type rawConn struct {
	conn      net.Conn
	writeWait time.Duration
}

func (c *rawConn) WriteText(payload []byte) error {
	b, err := frame.EncodeUnmasked(payload)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	_, err = c.conn.Write(b)
	return err
}

func (c *rawConn) Close() error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	c.conn.Write(frame.EncodeCloseUnmasked())
	return c.conn.Close()
}

func (c *rawConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// gorillaConn carries sessions that arrived through HandleRequest.
type gorillaConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (c *gorillaConn) WriteText(payload []byte) error {
	if len(payload) > frame.MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *gorillaConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
	return c.conn.Close()
}

func (c *gorillaConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// readPump decodes frames from r and posts their payloads to the hub until the
// peer closes, the stream fails or the hub shuts down.
func (s *Server) readPump(id int, conn net.Conn, r io.Reader) {
	defer func() {
		conn.Close()
		s.hub.leave(id)
		s.disconnectHandler(id)
	}()

	buf := frame.NewBuffer(s.Config.MaxMessageSize)
	chunk := make([]byte, s.Config.ReadBufferSize)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if !s.drain(id, buf) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read failed", "session", id, "error", err)
				go s.errorHandler(id, fmt.Errorf("%w: %v", ErrTransportClosed, err))
			}
			return
		}
	}
}

func (s *Server) drain(id int, buf *frame.Buffer) bool {
	for {
		f, err := buf.Next()
		switch {
		case err == nil:
		case errors.Is(err, frame.ErrNeedMoreData):
			return true
		case errors.Is(err, frame.ErrConnectionClose):
			s.logger.Debug("close frame received", "session", id)
			return false
		default:
			s.logger.Warn("dropping connection", "session", id, "error", err)
			go s.errorHandler(id, err)
			return false
		}

		if f.Opcode.IsControl() {
			continue
		}
		s.logger.Debug("message received", "session", id, "message", f.Text())
		if !s.hub.inbound(id, f.Payload) {
			return false
		}
	}
}

func (s *Server) readGorilla(id int, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		s.hub.leave(id)
		s.disconnectHandler(id)
	}()

	for {
		t, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read failed", "session", id, "error", err)
				go s.errorHandler(id, fmt.Errorf("%w: %v", ErrTransportClosed, err))
			}
			return
		}
		if t != websocket.TextMessage && t != websocket.BinaryMessage {
			continue
		}
		s.logger.Debug("message received", "session", id, "message", string(msg))
		if !s.hub.inbound(id, msg) {
			return
		}
	}
}
