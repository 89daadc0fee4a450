package wsrelay

import (
	"fmt"
	"sort"
	"time"
)

// Registry is the bounded set of admitted sessions.
//
// A Registry is not safe for concurrent use. The server's hub goroutine owns
// it and every other goroutine reaches it through the hub.
type Registry struct {
	sessions map[int]*Session
	max      int
}

// NewRegistry returns an empty registry admitting at most max sessions.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Registry{
		sessions: make(map[int]*Session, max),
		max:      max,
	}
}

// Admit registers conn as a new session named DefaultUsername. The lowest id
// not held by a live session is assigned.
func (r *Registry) Admit(conn transport) (*Session, error) {
	if len(r.sessions) >= r.max {
		return nil, fmt.Errorf("%w: %d of %d sessions in use", ErrCapacityExceeded, len(r.sessions), r.max)
	}

	id := 1
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id++
	}

	s := &Session{
		ID:          id,
		Username:    DefaultUsername,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	r.sessions[id] = s
	return s, nil
}

// Remove drops the session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id int) {
	delete(r.sessions, id)
}

// SetUsername renames the session and reports whether it exists.
func (r *Registry) SetUsername(id int, name string) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Username = name
	return true
}

func (r *Registry) Get(id int) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

func (r *Registry) Cap() int {
	return r.max
}

// IDs returns the live session ids in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Sessions returns the live sessions ordered by id.
func (r *Registry) Sessions() []*Session {
	result := make([]*Session, 0, len(r.sessions))
	for _, id := range r.IDs() {
		result = append(result, r.sessions[id])
	}
	return result
}
