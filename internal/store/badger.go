package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/dgraph-io/badger/v4"
)

const (
	userPrefix    = "user:"
	messagePrefix = "msg:"

	// conflictRetries bounds how often an update transaction is retried after
	// badger reports a write conflict with a concurrent transaction.
	conflictRetries = 5
)

// BadgerStore implements Store on top of BadgerDB.
//
// Users live under "user:{username}" and messages under "msg:{id}", both as
// JSON documents. Message queries are prefix scans over "msg:".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB directory at path. An empty path
// opens an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return NewBadgerStore(db), nil
}

// NewBadgerStore wraps an already opened database. Close closes db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func userKey(username string) []byte {
	return []byte(userPrefix + username)
}

func messageKey(id chat.MessageID) []byte {
	return []byte(messagePrefix + id.String())
}

func (b *BadgerStore) SetPresence(_ context.Context, username string, status chat.Presence, at time.Time) error {
	user := chat.User{Username: username, Status: status, LastSeen: &at}
	return b.update(func(txn *badger.Txn) error {
		return putJSON(txn, userKey(username), user)
	})
}

func (b *BadgerStore) GetUser(_ context.Context, username string) (chat.User, error) {
	var user chat.User
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(username), &user)
	})
	return user, err
}

func (b *BadgerStore) ListUsers(_ context.Context) ([]chat.User, error) {
	var users []chat.User
	err := b.db.View(func(txn *badger.Txn) error {
		return scan(txn, userPrefix, func(u chat.User) bool {
			users = append(users, u)
			return true
		})
	})
	return users, err
}

func (b *BadgerStore) InsertMessage(_ context.Context, msg chat.Message) error {
	return b.update(func(txn *badger.Txn) error {
		key := messageKey(msg.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateID
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putJSON(txn, key, msg)
	})
}

func (b *BadgerStore) GetMessage(_ context.Context, id chat.MessageID) (chat.Message, error) {
	var msg chat.Message
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(id), &msg)
	})
	return msg, err
}

func (b *BadgerStore) PendingFor(_ context.Context, target string) ([]chat.Message, error) {
	return b.messages(func(msg chat.Message) bool {
		return msg.Target == target && msg.Status == chat.StatusSent
	})
}

func (b *BadgerStore) AdvanceStatus(_ context.Context, id chat.MessageID, status chat.Status) (bool, error) {
	changed := false
	err := b.update(func(txn *badger.Txn) error {
		changed = false
		var msg chat.Message
		if err := getJSON(txn, messageKey(id), &msg); err != nil {
			return err
		}
		if !msg.Status.Before(status) {
			return nil
		}
		msg.Status = status
		changed = true
		return putJSON(txn, messageKey(id), msg)
	})
	return changed, err
}

func (b *BadgerStore) MarkRead(_ context.Context, sender, reader string) (int, error) {
	changed := 0
	err := b.update(func(txn *badger.Txn) error {
		var unread []chat.Message
		err := scan(txn, messagePrefix, func(msg chat.Message) bool {
			if msg.Sender == sender && msg.Target == reader && msg.Status != chat.StatusRead {
				unread = append(unread, msg)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, msg := range unread {
			msg.Status = chat.StatusRead
			if err := putJSON(txn, messageKey(msg.ID), msg); err != nil {
				return err
			}
		}
		changed = len(unread)
		return nil
	})
	return changed, err
}

func (b *BadgerStore) MessagesFor(_ context.Context, username string, limit int) ([]chat.Message, error) {
	msgs, err := b.messages(func(msg chat.Message) bool {
		return msg.Sender == username || msg.Target == username
	})
	return lastN(msgs, limit), err
}

func (b *BadgerStore) Conversation(_ context.Context, a, c string, limit int) ([]chat.Message, error) {
	msgs, err := b.messages(func(msg chat.Message) bool {
		return msg.Between(a, c)
	})
	return lastN(msgs, limit), err
}

func (b *BadgerStore) DeleteMessage(_ context.Context, id chat.MessageID) error {
	return b.update(func(txn *badger.Txn) error {
		return txn.Delete(messageKey(id))
	})
}

func (b *BadgerStore) DeleteConversation(_ context.Context, a, c string) (int, error) {
	removed := 0
	err := b.update(func(txn *badger.Txn) error {
		var ids []chat.MessageID
		err := scan(txn, messagePrefix, func(msg chat.Message) bool {
			if msg.Between(a, c) {
				ids = append(ids, msg.ID)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := txn.Delete(messageKey(id)); err != nil {
				return err
			}
		}
		removed = len(ids)
		return nil
	})
	return removed, err
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (b *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// messages scans every message and returns the matching ones oldest first.
func (b *BadgerStore) messages(keep func(chat.Message) bool) ([]chat.Message, error) {
	var msgs []chat.Message
	err := b.db.View(func(txn *badger.Txn) error {
		return scan(txn, messagePrefix, func(msg chat.Message) bool {
			if keep(msg) {
				msgs = append(msgs, msg)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sortMessages(msgs)
	return msgs, nil
}

// scan decodes every value under prefix and hands it to visit until visit
// returns false. The iterator is closed before scan returns so callers may
// write in the same transaction afterwards.
func scan[T any](txn *badger.Txn, prefix string, visit func(T) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if !visit(v) {
			return nil
		}
	}
	return nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
