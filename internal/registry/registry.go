// Package registry tracks which users currently hold a live signaling
// connection.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is a live signaling connection bound to a user
type Conn interface {
	// SendEvent marshals and delivers an event to the connected client.
	// Delivery is best-effort; errors mean the connection is unusable.
	SendEvent(event string, payload any) error
	// UserID returns the identity the connection was registered under
	UserID() uuid.UUID
}

// Registry maps user identity to at most one live connection. A user
// reconnecting from a new device replaces the old entry (last writer wins).
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
}

// New creates an empty Registry
func New() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]Conn),
	}
}

// Register binds a connection to a user, replacing any previous connection.
// Returns the replaced connection, if any, so the caller can close it.
func (r *Registry) Register(userID uuid.UUID, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.conns[userID]
	r.conns[userID] = conn
	return old
}

// Unregister removes the user's entry only if it still points at the given
// connection. A stale pump shutting down after the user reconnected must
// not evict the newer connection.
func (r *Registry) Unregister(userID uuid.UUID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Get returns the user's live connection, if any
func (r *Registry) Get(userID uuid.UUID) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// IsOnline reports whether the user has a live connection
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	_, ok := r.Get(userID)
	return ok
}

// Len returns the number of connected users
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
