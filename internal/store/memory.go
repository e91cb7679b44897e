package store

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/samber/lo"
)

// MemoryStore implements Store in process memory. It is used by tests and
// by the "memory" driver for throwaway deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]chat.User
	messages map[chat.MessageID]chat.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]chat.User),
		messages: make(map[chat.MessageID]chat.Message),
	}
}

func (m *MemoryStore) SetPresence(_ context.Context, username string, status chat.Presence, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[username] = chat.User{Username: username, Status: status, LastSeen: &at}
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, username string) (chat.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return chat.User{}, ErrNotFound
	}
	return user, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]chat.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Values(m.users), nil
}

func (m *MemoryStore) InsertMessage(_ context.Context, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return ErrDuplicateID
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id chat.MessageID) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *MemoryStore) PendingFor(_ context.Context, target string) ([]chat.Message, error) {
	return m.filter(func(msg chat.Message) bool {
		return msg.Target == target && msg.Status == chat.StatusSent
	}), nil
}

func (m *MemoryStore) AdvanceStatus(_ context.Context, id chat.MessageID, status chat.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if !msg.Status.Before(status) {
		return false, nil
	}
	msg.Status = status
	m.messages[id] = msg
	return true, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, sender, reader string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for id, msg := range m.messages {
		if msg.Sender != sender || msg.Target != reader || msg.Status == chat.StatusRead {
			continue
		}
		msg.Status = chat.StatusRead
		m.messages[id] = msg
		changed++
	}
	return changed, nil
}

func (m *MemoryStore) MessagesFor(_ context.Context, username string, limit int) ([]chat.Message, error) {
	return lastN(m.filter(func(msg chat.Message) bool {
		return msg.Sender == username || msg.Target == username
	}), limit), nil
}

func (m *MemoryStore) Conversation(_ context.Context, a, b string, limit int) ([]chat.Message, error) {
	return lastN(m.filter(func(msg chat.Message) bool {
		return msg.Between(a, b)
	}), limit), nil
}

func (m *MemoryStore) DeleteMessage(_ context.Context, id chat.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, a, b string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, msg := range m.messages {
		if msg.Between(a, b) {
			delete(m.messages, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// filter returns the matching messages sorted oldest first.
func (m *MemoryStore) filter(keep func(chat.Message) bool) []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := lo.Filter(lo.Values(m.messages), func(msg chat.Message, _ int) bool {
		return keep(msg)
	})
	sortMessages(msgs)
	return msgs
}
