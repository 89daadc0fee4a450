package wsrelay

import (
	"errors"
	"sync"
)

// Stats is a snapshot of the registry.
type Stats struct {
	Sessions    int `json:"sessions"`
	MaxSessions int `json:"max"`
}

type admitRequest struct {
	conn transport
	// accept runs on the hub goroutine after the session is registered and
	// before any routed payload can reach it.
	accept func() error
	reply  chan admitResult
}

type admitResult struct {
	id  int
	err error
}

type leaveRequest struct {
	id   int
	done chan struct{}
}

type inbound struct {
	id      int
	payload []byte
}

// hub serializes every registry and routing decision on one goroutine.
type hub struct {
	srv      *Server
	registry *Registry
	router   *Router

	admitc   chan admitRequest
	inboundc chan inbound
	leavec   chan leaveRequest
	statsc   chan chan Stats
	exit     chan struct{}
	done     chan struct{}
	exitOnce sync.Once
}

func newHub(srv *Server, registry *Registry, router *Router) *hub {
	return &hub{
		srv:      srv,
		registry: registry,
		router:   router,
		admitc:   make(chan admitRequest),
		inboundc: make(chan inbound),
		leavec:   make(chan leaveRequest),
		statsc:   make(chan chan Stats),
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *hub) run() {
	defer close(h.done)

	logger := h.srv.logger
	for {
		select {
		case req := <-h.admitc:
			s, err := h.registry.Admit(req.conn)
			if err != nil {
				logger.Warn("connection refused", "addr", req.conn.RemoteAddr(), "error", err)
				req.reply <- admitResult{err: err}
				continue
			}
			if req.accept != nil {
				if err := req.accept(); err != nil {
					h.registry.Remove(s.ID)
					req.reply <- admitResult{err: err}
					continue
				}
			}
			logger.Info("session connected", "session", s.ID, "addr", s.RemoteAddr(), "sessions", h.registry.Len())
			req.reply <- admitResult{id: s.ID}
		case m := <-h.inboundc:
			if err := h.router.Route(m.id, m.payload); err != nil {
				logger.Warn("dropping message", "session", m.id, "error", err)
				if !errors.Is(err, ErrTransportClosed) {
					go h.srv.errorHandler(m.id, err)
				}
			}
		case req := <-h.leavec:
			if _, ok := h.registry.Get(req.id); ok {
				h.registry.Remove(req.id)
				logger.Info("session disconnected", "session", req.id, "sessions", h.registry.Len())
			}
			close(req.done)
		case reply := <-h.statsc:
			reply <- Stats{Sessions: h.registry.Len(), MaxSessions: h.registry.Cap()}
		case <-h.exit:
			for _, s := range h.registry.Sessions() {
				s.close()
				h.registry.Remove(s.ID)
			}
			return
		}
	}
}

// admit registers conn, running accept before the session becomes routable.
func (h *hub) admit(conn transport, accept func() error) (int, error) {
	reply := make(chan admitResult, 1)
	select {
	case h.admitc <- admitRequest{conn: conn, accept: accept, reply: reply}:
	case <-h.done:
		return 0, ErrClosed
	}
	r := <-reply
	return r.id, r.err
}

func (h *hub) inbound(id int, payload []byte) bool {
	select {
	case h.inboundc <- inbound{id: id, payload: payload}:
		return true
	case <-h.done:
		return false
	}
}

// leave removes id and returns once the session is no longer routable.
func (h *hub) leave(id int) {
	req := leaveRequest{id: id, done: make(chan struct{})}
	select {
	case h.leavec <- req:
		<-req.done
	case <-h.done:
	}
}

func (h *hub) stats() (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.statsc <- reply:
	case <-h.done:
		return Stats{}, ErrClosed
	}
	return <-reply, nil
}

func (h *hub) close() {
	h.exitOnce.Do(func() { close(h.exit) })
	<-h.done
}

func (h *hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
