// Package directory maintains the in-memory chat list: the summary
// snapshot merged with live message activity and promoted search results.
package directory

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/bus"
	"github.com/matfraga/papo/internal/store"
)

// Directory is the authoritative in-memory chat list. Mutations arrive
// serialized through the sync engine; reads may come from any goroutine.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*store.Chat
	order   []string // insertion order, tie-breaker for equal activity

	seeded  bool
	seedErr error

	bus    *bus.Bus
	logger *zap.Logger
}

func New(b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{
		entries: make(map[string]*store.Chat),
		bus:     b,
		logger:  logger.Named("directory"),
	}
}

// Seed merges a summary snapshot into the directory. Entries already
// advanced by live traffic keep their newer activity.
func (d *Directory) Seed(chats []store.Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range chats {
		c := chats[i]
		existing, ok := d.entries[c.ChatID]
		if !ok {
			copied := c
			d.entries[c.ChatID] = &copied
			d.order = append(d.order, c.ChatID)
			continue
		}
		if c.DisplayName != "" {
			existing.DisplayName = c.DisplayName
		}
		if c.AvatarRef != "" {
			existing.AvatarRef = c.AvatarRef
		}
		if c.LastActivityAt > existing.LastActivityAt {
			existing.LastActivityAt = c.LastActivityAt
			existing.LastMessagePreview = c.LastMessagePreview
		}
	}
	d.seeded = true
	d.seedErr = nil
	d.publish()
}

// SeedFailed records that the snapshot could not be loaded. The directory
// stays usable and fills from live traffic; a later Seed clears the error.
func (d *Directory) SeedFailed(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seedErr = err
	d.logger.Warn("summary seed failed, starting empty", zap.Error(err))
}

// SeedError returns the recoverable snapshot failure, if any.
func (d *Directory) SeedError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seedErr
}

// UpsertFromLive applies a live message to the chat list. Unread count
// grows only for inbound messages to chats that are not open.
func (d *Directory) UpsertFromLive(m *store.Message, chatOpen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.entries[m.ChatID]
	if !ok {
		c = &store.Chat{ChatID: m.ChatID}
		d.entries[m.ChatID] = c
		d.order = append(d.order, m.ChatID)
	}
	if m.SentAt >= c.LastActivityAt {
		c.LastActivityAt = m.SentAt
		c.LastMessagePreview = m.Body
	}
	if !m.IsOwn && !chatOpen {
		c.UnreadCount++
	}
	d.publish()
}

// Promote ensures a user found through search has a directory entry.
// Promoting an existing chat is a no-op; its history and unread state are
// untouched.
func (d *Directory) Promote(u store.User) *store.Chat {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.entries[u.ID]; ok {
		if c.DisplayName == "" {
			c.DisplayName = u.Name
		}
		if c.AvatarRef == "" {
			c.AvatarRef = u.Avatar
		}
		return c.Clone()
	}

	c := &store.Chat{
		ChatID:         u.ID,
		DisplayName:    u.Name,
		AvatarRef:      u.Avatar,
		LastActivityAt: time.Now().UnixMilli(),
	}
	d.entries[u.ID] = c
	d.order = append(d.order, u.ID)
	d.publish()
	return c.Clone()
}

// ClearUnread zeroes the unread counter for a chat.
func (d *Directory) ClearUnread(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.entries[chatID]; ok && c.UnreadCount != 0 {
		c.UnreadCount = 0
		d.publish()
	}
}

// Get returns a copy of a single chat, or nil when unknown.
func (d *Directory) Get(chatID string) *store.Chat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.entries[chatID]; ok {
		return c.Clone()
	}
	return nil
}

// Chats returns the chat list sorted by last activity descending.
// Entries with equal activity keep their insertion order.
func (d *Directory) Chats() []store.Chat {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]store.Chat, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.entries[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt > out[j].LastActivityAt
	})
	return out
}

// Len reports the number of chats.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Directory) publish() {
	if d.bus != nil {
		d.bus.Emit(bus.KindDirectoryUpdated, nil)
	}
}
