package delivery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/Tyrowin/tickchat/internal/metrics"
	"github.com/Tyrowin/tickchat/internal/presence"
	"github.com/Tyrowin/tickchat/internal/store"
	"github.com/samber/lo"
)

// DefaultHistoryLimit bounds how many messages Conversations loads.
const DefaultHistoryLimit = 1000

// Coordinator applies delivery state transitions and fans out notifications.
type Coordinator struct {
	store        store.Store
	registry     *presence.Registry
	status       *Broadcaster
	logger       *slog.Logger
	now          func() time.Time
	historyLimit int
	presence     presenceLocks
}

// presenceLocks serializes connect and disconnect bookkeeping per username.
type presenceLocks struct {
	stripes [64]sync.Mutex
}

func (p *presenceLocks) lock(username string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	m := &p.stripes[h.Sum32()%uint32(len(p.stripes))]
	m.Lock()
	return m.Unlock
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHistoryLimit bounds Conversations. Non-positive values mean no limit.
func WithHistoryLimit(limit int) Option {
	return func(c *Coordinator) {
		c.historyLimit = limit
	}
}

// NewCoordinator wires a Coordinator to its store and registry.
func NewCoordinator(st store.Store, registry *presence.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        st,
		registry:     registry,
		status:       NewBroadcaster(registry),
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the presence registry the coordinator fans out through.
func (c *Coordinator) Registry() *presence.Registry {
	return c.registry
}

// OnConnect marks username online, registers conn, announces the user to
// every other peer and returns the directory snapshot meant for conn only.
func (c *Coordinator) OnConnect(ctx context.Context, username string, conn presence.Conn) ([]chat.StatusEvent, error) {
	now, err := c.markOnline(ctx, username, conn)
	if err != nil {
		return nil, err
	}

	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users for %s: %w", username, err)
	}
	return c.status.Snapshot(username, users, now), nil
}

func (c *Coordinator) markOnline(ctx context.Context, username string, conn presence.Conn) (time.Time, error) {
	unlock := c.presence.lock(username)
	defer unlock()

	now := c.now()
	if err := c.store.SetPresence(ctx, username, chat.Online, now); err != nil {
		return now, fmt.Errorf("mark %s online: %w", username, err)
	}
	c.registry.Register(username, conn)
	peers := c.status.Announce(username, chat.Online, now)
	c.logger.Info("user connected", "username", username, "notified", peers)
	return now, nil
}

// DeliverPending flips every message still waiting for username to
// delivered and notifies each original sender individually. It stops as
// soon as username is no longer registered.
func (c *Coordinator) DeliverPending(ctx context.Context, username string) (int, error) {
	pending, err := c.store.PendingFor(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("load pending messages for %s: %w", username, err)
	}

	write := context.WithoutCancel(ctx)
	delivered := 0
	for _, msg := range pending {
		if !c.registry.IsOnline(username) {
			c.logger.Info("recipient left during pending delivery", "username", username, "delivered", delivered)
			break
		}
		changed, err := c.store.AdvanceStatus(write, msg.ID, chat.StatusDelivered)
		if err != nil {
			return delivered, fmt.Errorf("mark %s delivered: %w", msg.ID, err)
		}
		if !changed {
			continue
		}
		delivered++
		metrics.StatusTransitions.WithLabelValues(string(chat.StatusDelivered)).Inc()
		c.registry.Send(msg.Sender, chat.NewMessageStatusEvent(msg.ID, chat.StatusDelivered))
	}

	if delivered > 0 {
		c.logger.Info("pending messages delivered", "username", username, "count", delivered)
	}
	return delivered, nil
}

// OnDisconnect marks username offline and tells the remaining peers, unless
// conn was already superseded by a newer session or the disconnect was
// already processed.
func (c *Coordinator) OnDisconnect(ctx context.Context, username string, conn presence.Conn) error {
	ctx = context.WithoutCancel(ctx)
	unlock := c.presence.lock(username)
	defer unlock()

	switch c.registry.Release(username, conn) {
	case presence.Superseded:
		c.logger.Debug("stale session closed", "username", username)
		return nil
	case presence.NotRegistered:
		user, err := c.store.GetUser(ctx, username)
		if err == nil && user.Status == chat.Offline {
			return nil
		}
	}

	now := c.now()
	err := c.store.SetPresence(ctx, username, chat.Offline, now)
	peers := c.status.Announce(username, chat.Offline, now)
	c.logger.Info("user disconnected", "username", username, "notified", peers)
	if err != nil {
		return fmt.Errorf("mark %s offline: %w", username, err)
	}
	return nil
}

// SendMessage stores a message from sender and pushes it to the target when
// the target is online. The returned message carries the status reached.
func (c *Coordinator) SendMessage(ctx context.Context, sender string, req chat.SendRequest) (chat.Message, error) {
	ctx = context.WithoutCancel(ctx)

	msg := chat.Message{
		ID:        req.ID,
		Sender:    sender,
		Target:    req.Target,
		Body:      req.Body,
		Kind:      req.Kind,
		Timestamp: c.now(),
		Status:    chat.StatusSent,
	}
	if msg.Kind == "" {
		msg.Kind = chat.KindText
	}
	if msg.ID.IsZero() {
		msg.ID = chat.NewMessageID()
	}

	stored, duplicate, err := c.insert(ctx, msg)
	if err != nil {
		return chat.Message{}, err
	}
	if duplicate {
		return stored, nil
	}
	msg = stored
	metrics.StatusTransitions.WithLabelValues(string(chat.StatusSent)).Inc()

	if !c.registry.IsOnline(msg.Target) {
		c.logger.Debug("message queued for offline user", "id", msg.ID, "target", msg.Target)
		return msg, nil
	}

	delivered := msg
	delivered.Status = chat.StatusDelivered
	if !c.registry.Send(msg.Target, delivered) {
		c.logger.Info("recipient dropped before delivery", "id", msg.ID, "target", msg.Target)
		return msg, nil
	}
	if _, err := c.store.AdvanceStatus(ctx, msg.ID, chat.StatusDelivered); err != nil {
		return msg, fmt.Errorf("mark %s delivered: %w", msg.ID, err)
	}
	metrics.StatusTransitions.WithLabelValues(string(chat.StatusDelivered)).Inc()
	c.registry.Send(sender, chat.NewMessageStatusEvent(msg.ID, chat.StatusDelivered))
	return delivered, nil
}

// insert persists msg. A client id already used by the same sender for the
// same target is a retransmission: the stored copy is returned with
// duplicate set and the sender is re-acked. An id already used by anyone
// else is replaced with a fresh one.
func (c *Coordinator) insert(ctx context.Context, msg chat.Message) (chat.Message, bool, error) {
	err := c.store.InsertMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateID) {
		existing, getErr := c.store.GetMessage(ctx, msg.ID)
		if getErr == nil && existing.Sender == msg.Sender && existing.Target == msg.Target {
			c.logger.Debug("duplicate send ignored", "id", msg.ID, "sender", msg.Sender)
			if existing.Status != chat.StatusSent {
				c.registry.Send(msg.Sender, chat.NewMessageStatusEvent(existing.ID, existing.Status))
			}
			return existing, true, nil
		}
		fresh := chat.NewMessageID()
		c.logger.Warn("client message id collision, assigning a new id",
			"id", msg.ID, "new_id", fresh, "sender", msg.Sender)
		msg.ID = fresh
		err = c.store.InsertMessage(ctx, msg)
	}
	if err != nil {
		return chat.Message{}, false, fmt.Errorf("store message %s: %w", msg.ID, err)
	}
	return msg, false, nil
}

// MarkRead marks every message from sender to reader as read and sends the
// sender a single bulk_read_update when it is online.
func (c *Coordinator) MarkRead(ctx context.Context, reader, sender string) (int, error) {
	changed, err := c.store.MarkRead(context.WithoutCancel(ctx), sender, reader)
	if err != nil {
		return 0, fmt.Errorf("mark %s→%s read: %w", sender, reader, err)
	}
	metrics.StatusTransitions.WithLabelValues(string(chat.StatusRead)).Add(float64(changed))
	c.registry.Send(sender, chat.NewBulkReadEvent(reader))
	return changed, nil
}

// RelayTyping forwards a typing indicator to target when it is online. It
// is best effort: nothing is stored and nothing is retried.
func (c *Coordinator) RelayTyping(from, target string, isTyping bool) bool {
	return c.registry.Send(target, chat.NewTypingEvent(from, isTyping))
}

// DeleteConversation removes every message between a and b and tells both
// of them, when online, which way the conversation went.
func (c *Coordinator) DeleteConversation(ctx context.Context, a, b string, mode chat.DeleteMode) (int, error) {
	removed, err := c.store.DeleteConversation(context.WithoutCancel(ctx), a, b)
	if err != nil {
		return 0, fmt.Errorf("delete conversation %s/%s: %w", a, b, err)
	}
	c.registry.Send(a, chat.NewConversationEvent(mode, b))
	c.registry.Send(b, chat.NewConversationEvent(mode, a))
	c.logger.Info("conversation deleted", "a", a, "b", b, "mode", mode, "removed", removed)
	return removed, nil
}

// DeleteMessage removes one message and tells both participants. It reports
// false, without error, when the message does not exist.
func (c *Coordinator) DeleteMessage(ctx context.Context, id chat.MessageID) (bool, error) {
	msg, err := c.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load message %s: %w", id, err)
	}

	if err := c.store.DeleteMessage(context.WithoutCancel(ctx), id); err != nil {
		return false, fmt.Errorf("delete message %s: %w", id, err)
	}
	event := chat.NewMessageDeletedEvent(id)
	c.registry.Send(msg.Sender, event)
	if msg.Target != msg.Sender {
		c.registry.Send(msg.Target, event)
	}
	return true, nil
}

// Conversations groups username's recent history by conversation partner,
// oldest message first within each group.
func (c *Coordinator) Conversations(ctx context.Context, username string) (map[string][]chat.Message, error) {
	msgs, err := c.store.MessagesFor(ctx, username, c.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", username, err)
	}
	return lo.GroupBy(msgs, func(m chat.Message) string {
		return m.Partner(username)
	}), nil
}

// Conversation returns the most recent limit messages between a and b.
func (c *Coordinator) Conversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error) {
	msgs, err := c.store.Conversation(ctx, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s/%s: %w", a, b, err)
	}
	return msgs, nil
}

// UserStatus returns the stored user with its live presence. It returns
// store.ErrNotFound for users that never connected.
func (c *Coordinator) UserStatus(ctx context.Context, username string) (chat.User, error) {
	user, err := c.store.GetUser(ctx, username)
	if err != nil {
		return chat.User{}, err
	}
	return c.status.resolve(user, c.now()), nil
}

// ReconcilePresence marks offline every stored user that claims to be
// online without a registry entry, as left behind by an unclean shutdown.
func (c *Coordinator) ReconcilePresence(ctx context.Context) (int, error) {
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	fixed := 0
	for _, user := range users {
		if user.Status != chat.Online || c.registry.IsOnline(user.Username) {
			continue
		}
		at := c.now()
		if user.LastSeen != nil {
			at = *user.LastSeen
		}
		if err := c.store.SetPresence(ctx, user.Username, chat.Offline, at); err != nil {
			return fixed, fmt.Errorf("mark %s offline: %w", user.Username, err)
		}
		fixed++
	}
	if fixed > 0 {
		c.logger.Info("reset stale online users", "count", fixed)
	}
	return fixed, nil
}
