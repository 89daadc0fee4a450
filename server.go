package wsrelay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type handleSessionFunc func(id int)
type handleErrorFunc func(id int, err error)

// Server accepts chat clients, keeps them in a bounded registry and routes
// every inbound payload through a Router.
type Server struct {
	Config            *Config
	Upgrader          *websocket.Upgrader
	connectHandler    handleSessionFunc
	disconnectHandler handleSessionFunc
	errorHandler      handleErrorFunc
	logger            *slog.Logger
	hub               *hub
}

// New creates a server with default Config, applies opts and starts its hub.
func New(opts ...Option) *Server {
	config := newConfig()
	s := &Server{
		Config: config,
		Upgrader: &websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.ReadBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		connectHandler:    func(int) {},
		disconnectHandler: func(int) {},
		errorHandler:      func(int, error) {},
		logger:            discardLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	registry := NewRegistry(s.Config.MaxSessions)
	s.hub = newHub(s, registry, NewRouter(registry, s.Config.Mode, s.logger))

	go s.hub.run()

	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// HandleConnect fires fn when a session is admitted. It runs on the
// session's own goroutine before any of its messages are read.
func (s *Server) HandleConnect(fn func(id int)) {
	s.connectHandler = fn
}

// HandleDisconnect fires fn after a session left the registry, including
// when the server is closed. It always follows the session's connect call.
func (s *Server) HandleDisconnect(fn func(id int)) {
	s.disconnectHandler = fn
}

// HandleError fires fn when a session's stream fails or one of its payloads
// cannot be routed. The session stays registered unless its stream failed.
func (s *Server) HandleError(fn func(id int, err error)) {
	s.errorHandler = fn
}

// ListenAndServe listens on Config.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts raw TCP connections on ln until ctx is done or the server is
// closed. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.hub.closed() {
		ln.Close()
		return ErrClosed
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.hub.done:
		case <-stop:
		}
		ln.Close()
	}()

	s.logger.Info("listening", "addr", ln.Addr().String(), "mode", s.Config.Mode, "max_sessions", s.Config.MaxSessions)

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.hub.closed() {
				return ErrClosed
			}
			if !isTemporary(err) {
				return err
			}

			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.logger.Warn("accept failed, retrying", "error", err, "delay", tempDelay)

			retry := time.NewTimer(tempDelay)
			select {
			case <-retry.C:
			case <-ctx.Done():
				retry.Stop()
				return nil
			case <-s.hub.done:
				retry.Stop()
				return ErrClosed
			}
			continue
		}
		tempDelay = 0
		go s.serveConn(conn)
	}
}

// isTemporary reports whether an Accept error may clear up on its own, such
// as running out of file descriptors.
func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}

func (s *Server) serveConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(s.Config.HandshakeTimeout))

	br := bufio.NewReaderSize(conn, s.Config.ReadBufferSize)
	key, err := readUpgradeRequest(br)
	if err != nil {
		s.logger.Warn("handshake failed", "addr", conn.RemoteAddr(), "error", err)
		writeHandshakeError(conn, http.StatusBadRequest)
		conn.Close()
		return
	}

	id, err := s.hub.admit(&rawConn{conn: conn, writeWait: s.Config.WriteWait}, func() error {
		return writeUpgradeResponse(conn, key)
	})
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrClosed) {
			writeHandshakeError(conn, http.StatusServiceUnavailable)
		}
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	s.connectHandler(id)
	s.readPump(id, conn, br)
}

// HandleRequest upgrades an http request and joins the connection to the same
// registry as Serve. It blocks until the session leaves.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) error {
	stats, err := s.hub.stats()
	if err != nil {
		return err
	}
	if stats.Sessions >= stats.MaxSessions {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return fmt.Errorf("%w: %d of %d sessions in use", ErrCapacityExceeded, stats.Sessions, stats.MaxSessions)
	}

	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	if s.Config.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.Config.MaxMessageSize))
	}

	id, err := s.hub.admit(&gorillaConn{conn: conn, writeWait: s.Config.WriteWait}, nil)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "capacity exceeded")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.Config.WriteWait))
		conn.Close()
		return err
	}

	s.connectHandler(id)
	s.readGorilla(id, conn)
	return nil
}

// Stats reports the current number of sessions and the cap.
func (s *Server) Stats() (Stats, error) {
	return s.hub.stats()
}

// Len returns the number of connected sessions.
func (s *Server) Len() int {
	stats, _ := s.hub.stats()
	return stats.Sessions
}

// IsClosed returns the status of the server.
func (s *Server) IsClosed() bool {
	return s.hub.closed()
}

// Close disconnects every session and stops the hub. Listeners passed to
// Serve are closed as well.
func (s *Server) Close() error {
	if s.hub.closed() {
		return ErrClosed
	}
	s.hub.close()
	return nil
}
