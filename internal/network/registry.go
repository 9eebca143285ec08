package network

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of live connections a host broadcasts to.
type Registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]*Connection),
	}
}

func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
}

func (r *Registry) Get(id uuid.UUID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Except returns a snapshot of every connection other than exclude. Pass
// uuid.Nil to get all of them.
func (r *Registry) Except(exclude uuid.UUID) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		if id != exclude {
			out = append(out, c)
		}
	}
	return out
}

// Drain removes and returns every connection.
func (r *Registry) Drain() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	clear(r.conns)
	return out
}
