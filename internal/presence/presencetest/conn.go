// Package presencetest provides an in-memory presence.Conn that records
// every payload it receives, for use in tests of the registry and the
// delivery layer.
package presencetest

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrDead is returned by a Conn that was marked dead.
var ErrDead = errors.New("connection is dead")

// Conn records payloads pushed to it.
type Conn struct {
	mu     sync.Mutex
	frames [][]byte
	dead   bool
	closed bool
}

// NewConn returns a live recording connection.
func NewConn() *Conn {
	return &Conn{}
}

// Send records payload, or fails with ErrDead once Kill was called.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return ErrDead
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

// Kill makes every following Send fail.
func (c *Conn) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dead = true
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Events decodes every recorded payload as a JSON object.
func (c *Conn) Events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make([]map[string]any, 0, len(c.frames))
	for _, frame := range c.frames {
		var ev map[string]any
		if err := json.Unmarshal(frame, &ev); err != nil {
			ev = map[string]any{"raw": string(frame)}
		}
		events = append(events, ev)
	}
	return events
}

// EventsOfType returns the recorded events whose "type" equals typ.
func (c *Conn) EventsOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range c.Events() {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets the recorded payloads.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames = nil
}
