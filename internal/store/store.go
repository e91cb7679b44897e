package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
)

var (
	// ErrNotFound is returned when a user or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned by InsertMessage when the id is taken.
	ErrDuplicateID = errors.New("duplicate message id")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")
)

//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Store is the persistence interface used by the delivery layer.
type Store interface {
	// SetPresence upserts username with the given status and last_seen.
	SetPresence(ctx context.Context, username string, status chat.Presence, at time.Time) error
	// GetUser returns ErrNotFound for unknown usernames.
	GetUser(ctx context.Context, username string) (chat.User, error)
	ListUsers(ctx context.Context) ([]chat.User, error)

	// InsertMessage returns ErrDuplicateID when msg.ID is already stored.
	InsertMessage(ctx context.Context, msg chat.Message) error
	// GetMessage returns ErrNotFound for unknown ids.
	GetMessage(ctx context.Context, id chat.MessageID) (chat.Message, error)
	// PendingFor lists messages addressed to target still in the sent state,
	// oldest first.
	PendingFor(ctx context.Context, target string) ([]chat.Message, error)
	// AdvanceStatus moves a message forward to status. It reports false when
	// the message is already at or past status.
	AdvanceStatus(ctx context.Context, id chat.MessageID, status chat.Status) (bool, error)
	// MarkRead moves every sender→reader message that is not read yet to
	// read and returns how many changed.
	MarkRead(ctx context.Context, sender, reader string) (int, error)
	// MessagesFor lists messages sent or received by username, oldest first.
	// A positive limit keeps only the most recent messages.
	MessagesFor(ctx context.Context, username string, limit int) ([]chat.Message, error)
	// Conversation lists messages exchanged between a and b, oldest first.
	// A positive limit keeps only the most recent messages.
	Conversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error)
	// DeleteMessage removes a message. Deleting an unknown id is not an error.
	DeleteMessage(ctx context.Context, id chat.MessageID) error
	// DeleteConversation removes every message between a and b and returns
	// how many were removed.
	DeleteConversation(ctx context.Context, a, b string) (int, error)

	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Open returns the engine selected by driver. path is ignored for the memory
// driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverBadger:
		return OpenBadger(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// sortMessages orders messages by timestamp, then id.
func sortMessages(msgs []chat.Message) {
	slices.SortFunc(msgs, func(a, b chat.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// lastN keeps the newest limit messages of a sorted slice.
func lastN(msgs []chat.Message, limit int) []chat.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
