// Package presence tracks which users currently hold a live connection.
//
// The Registry is the single source of truth for "is this user reachable
// right now". Every operation takes the same mutex, so a register, an
// unregister, a send or a broadcast never interleaves with another.
package presence

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/Tyrowin/tickchat/internal/metrics"
)

// Conn is a live connection handle. Send may wait a bounded time for a slow
// reader to catch up; any error it returns marks the connection as dead.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Registry maps usernames to their active connection. At most one
// connection is held per username.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]Conn
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

// Register binds username to conn. A previous connection for the same
// username is dropped from the registry but left open.
func (r *Registry) Register(username string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[username]; ok && old != conn {
		r.logger.Info("replacing connection", "username", username)
	}
	r.conns[username] = conn
	metrics.OnlineUsers.Set(float64(len(r.conns)))
	r.logger.Debug("registered", "username", username, "online", len(r.conns))
}

// Unregister removes username. It is a no-op for unknown usernames.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(username)
}

// ReleaseOutcome describes what Release did.
type ReleaseOutcome int

const (
	// Released means the entry was bound to the connection and is gone now.
	Released ReleaseOutcome = iota
	// NotRegistered means nothing was registered under the username, for
	// example because a failed send already evicted it.
	NotRegistered
	// Superseded means a newer connection owns the username; nothing changed.
	Superseded
)

// Release removes username only while it is still bound to conn.
func (r *Registry) Release(username string, conn Conn) ReleaseOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[username]
	if !ok {
		return NotRegistered
	}
	if current != conn {
		return Superseded
	}
	r.remove(username)
	return Released
}

// IsOnline reports whether username has a live connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[username]
	return ok
}

// Online returns the registered usernames in sorted order.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of registered usernames.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

// Send pushes event to username's connection. It returns false when the
// user is not registered, when the event cannot be encoded, or when the
// connection is dead; a dead connection is evicted and closed.
func (r *Registry) Send(username string, event any) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("encode event", "username", username, "error", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[username]
	if !ok {
		return false
	}
	return r.push(username, conn, payload)
}

// BroadcastAll pushes event to every registered connection except the one
// registered under exclude. Dead connections are evicted and skipped.
func (r *Registry) BroadcastAll(event any, exclude string) int {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("encode broadcast", "error", err)
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for username, conn := range r.conns {
		if username == exclude {
			continue
		}
		if r.push(username, conn, payload) {
			delivered++
		}
	}
	return delivered
}

// push must be called with r.mu held.
func (r *Registry) push(username string, conn Conn, payload []byte) bool {
	if err := conn.Send(payload); err != nil {
		r.logger.Warn("evicting dead connection", "username", username, "error", err)
		r.remove(username)
		metrics.RegistryEvictions.Inc()
		if err := conn.Close(); err != nil {
			r.logger.Debug("close evicted connection", "username", username, "error", err)
		}
		return false
	}
	return true
}

// remove must be called with r.mu held.
func (r *Registry) remove(username string) {
	if _, ok := r.conns[username]; !ok {
		return
	}
	delete(r.conns, username)
	metrics.OnlineUsers.Set(float64(len(r.conns)))
	r.logger.Debug("unregistered", "username", username, "online", len(r.conns))
}
