// Package presence tracks which live connections belong to which user so
// server-initiated events can be targeted at a user across all of their
// open devices and tabs.
package presence

import (
	"log"
	"sync"
)

// Conn is a live connection handle capable of receiving events. The
// realtime layer's client satisfies this.
type Conn interface {
	// ID uniquely identifies the connection for the registry.
	ID() string
	// QueueEvent enqueues an event for delivery. It returns false when
	// the connection's buffer is full; delivery is best-effort.
	QueueEvent(event string, payload any) bool
}

// Registry maps user ids to their open connections. A single mutex
// guards the whole structure: entries are created and destroyed too
// frequently for per-entry locking to pay off.
type Registry struct {
	mu    sync.Mutex
	conns map[int]map[string]Conn
	log   *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		conns: make(map[int]map[string]Conn),
		log:   logger,
	}
}

// AddConnection registers a connection for the user. Adding the same
// handle twice is a no-op.
func (r *Registry) AddConnection(userId int, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userId]
	if !ok {
		set = make(map[string]Conn)
		r.conns[userId] = set
	}
	set[c.ID()] = c
}

// RemoveConnection deregisters a connection. The user's entry is dropped
// entirely once its last connection goes away so churn can't grow the map
// without bound.
func (r *Registry) RemoveConnection(userId int, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userId]
	if !ok {
		return
	}

	delete(set, c.ID())
	if len(set) == 0 {
		delete(r.conns, userId)
	}
}

// EmitToUser delivers the event to every connection the user currently
// has open. A user with no connections is not an error; offline delivery
// is not guaranteed. Returns the number of delivery attempts.
func (r *Registry) EmitToUser(userId int, event string, payload any) int {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns[userId]))
	for _, c := range r.conns[userId] {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		if !c.QueueEvent(event, payload) {
			r.log.Printf("presence: dropped %q event for user %d, send buffer full", event, userId)
		}
	}

	return len(conns)
}

// Connections returns the user's current connections. Used by tests and
// diagnostics.
func (r *Registry) Connections(userId int) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]Conn, 0, len(r.conns[userId]))
	for _, c := range r.conns[userId] {
		conns = append(conns, c)
	}

	return conns
}
