package delivery

import (
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/Tyrowin/tickchat/internal/presence"
)

// Broadcaster builds status_update events and hands them to the registry.
// It keeps no state of its own.
type Broadcaster struct {
	registry *presence.Registry
}

// NewBroadcaster returns a Broadcaster sending through registry.
func NewBroadcaster(registry *presence.Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Announce tells every connected peer except username about its new status.
func (b *Broadcaster) Announce(username string, status chat.Presence, at time.Time) int {
	return b.registry.BroadcastAll(chat.NewStatusEvent(username, status, &at), username)
}

// Snapshot returns the directory seen by self: one status event per known
// user other than self, sorted by username. Registered users are online as
// of now; everyone else is offline with their last stored last_seen.
func (b *Broadcaster) Snapshot(self string, users []chat.User, now time.Time) []chat.StatusEvent {
	events := make([]chat.StatusEvent, 0, len(users))
	for _, user := range users {
		if user.Username == self {
			continue
		}
		current := b.resolve(user, now)
		events = append(events, chat.NewStatusEvent(current.Username, current.Status, current.LastSeen))
	}
	slices.SortFunc(events, func(x, y chat.StatusEvent) int {
		return strings.Compare(x.Username, y.Username)
	})
	return events
}

// resolve overlays live registry state on a stored user record. A stored
// "online" without a registry entry is stale and reported as offline.
func (b *Broadcaster) resolve(user chat.User, now time.Time) chat.User {
	if b.registry.IsOnline(user.Username) {
		at := now
		return chat.User{Username: user.Username, Status: chat.Online, LastSeen: &at}
	}
	user.Status = chat.Offline
	return user
}
