package presence

import (
	"errors"
	"sync"
)

// ErrAlreadyBound is returned when a connection handle is bound twice.
// Reconnects must come in on a fresh handle.
var ErrAlreadyBound = errors.New("connection already bound")

// Conn is a live connection handle. Send must not block: it reports false
// when the peer's outbound buffer is full or closed.
type Conn interface {
	ID() string
	Send(payload []byte) bool
}

// Registry is the volatile session store: which connection belongs to
// which user, and which connections a user currently has online. A user
// may hold any number of concurrent connections (multi-device).
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]string          // conn id -> user id
	byUser map[string]map[string]Conn // user id -> conn id -> conn
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]Conn),
	}
}

// Bind associates a connection with a user identity.
func (r *Registry) Bind(conn Conn, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn.ID()]; ok {
		return ErrAlreadyBound
	}
	r.byConn[conn.ID()] = userID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]Conn)
	}
	r.byUser[userID][conn.ID()] = conn
	return nil
}

// Unbind removes the association and returns the prior user id. A
// disconnect racing ahead of its connect is a no-op, not an error.
func (r *Registry) Unbind(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
	return userID, true
}

// ConnectionsFor returns every live connection a user has.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// UserFor returns the user a connection is bound to.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	return userID, ok
}
