package chat

import (
	"fmt"
	"time"
)

// Presence is the online/offline state of a user.
type Presence string

// Presence values.
const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// Status is the delivery state of a message. It only ever moves forward:
// sent, then delivered, then read.
type Status string

// Status values in delivery order.
const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.rank() > 0
}

// Before reports whether s comes strictly before other in delivery order.
// Moving a message from s to other is allowed only when s.Before(other).
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

// Kind is the content kind of a message.
type Kind string

// Message kinds.
const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// User is the persisted presence record of a username.
type User struct {
	Username string     `json:"username"`
	Status   Presence   `json:"status"`
	LastSeen *time.Time `json:"last_seen"`
}

// Message is a direct message between two users. Its JSON form is also the
// payload pushed to an online recipient.
type Message struct {
	ID        MessageID `json:"id"`
	Sender    string    `json:"sender"`
	Target    string    `json:"target"`
	Body      string    `json:"message"`
	Kind      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Between reports whether the message was exchanged between a and b, in
// either direction.
func (m Message) Between(a, b string) bool {
	return (m.Sender == a && m.Target == b) || (m.Sender == b && m.Target == a)
}

// Partner returns the other side of the conversation from username's point
// of view.
func (m Message) Partner(username string) string {
	if m.Sender == username {
		return m.Target
	}
	return m.Sender
}

// DeleteMode selects how a deleted conversation is presented to both parties.
type DeleteMode string

// Delete modes. Clear keeps the conversation entry but empties it; Delete
// removes the entry from the client's conversation list.
const (
	ModeClear  DeleteMode = "clear"
	ModeDelete DeleteMode = "delete"
)

// ParseDeleteMode maps the HTTP "type" query value to a DeleteMode. An empty
// value means clear.
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(s) {
	case "", ModeClear:
		return ModeClear, nil
	case ModeDelete:
		return ModeDelete, nil
	default:
		return "", fmt.Errorf("unknown delete mode %q", s)
	}
}

// EventType is the outbound event type notifying users of the deletion.
func (m DeleteMode) EventType() string {
	if m == ModeDelete {
		return EventChatRemoved
	}
	return EventChatCleared
}
