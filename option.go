package wsrelay

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Option func(*Server)

// WithAddr sets the address ListenAndServe listens on.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.Config.Addr = addr
	}
}

func WithMode(mode Mode) Option {
	return func(s *Server) {
		s.Config.Mode = mode
	}
}

func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.Config.MaxSessions = n
		}
	}
}

func WithWriteWait(d time.Duration) Option {
	return func(s *Server) {
		s.Config.WriteWait = d
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.Config.HandshakeTimeout = d
		s.Upgrader.HandshakeTimeout = d
	}
}

func WithReadBufferSize(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.Config.ReadBufferSize = size
			s.Upgrader.ReadBufferSize = size
		}
	}
}

func WithMaxMessageSize(size int) Option {
	return func(s *Server) {
		s.Config.MaxMessageSize = size
	}
}

func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.Upgrader.CheckOrigin = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type ClientOption func(*Client)

func WithUsername(name string) ClientOption {
	return func(c *Client) {
		c.Config.Username = name
	}
}

func WithClientMode(mode Mode) ClientOption {
	return func(c *Client) {
		c.Config.Mode = mode
	}
}

// WithFixedKey makes the client send the well-known sample key and accept any
// Sec-WebSocket-Accept value. It exists for peers that never computed one.
func WithFixedKey() ClientOption {
	return func(c *Client) {
		c.Config.FixedKey = true
	}
}

func WithClientHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.Config.HandshakeTimeout = d
	}
}

func WithHeadlessPolicy(policy HeadlessPolicy, linger time.Duration) ClientOption {
	return func(c *Client) {
		c.Config.HeadlessPolicy = policy
		c.Config.ReplyLinger = linger
	}
}

func WithHeadlessTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.Config.HeadlessTimeout = d
	}
}

// WithChatLog appends every non-empty inbound payload to w.
func WithChatLog(w io.Writer) ClientOption {
	return func(c *Client) {
		c.chatLog = w
	}
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}
