// Package presence keeps a short-lived, in-process record of who is typing in
// which room. It is intentionally lossy: entries expire within seconds and the
// whole cache vanishes on restart, which only ever hides a transient UI
// indicator. Nothing here touches the database.
package presence

import (
	"sort"
	"sync"
	"time"
)

const (
	// entryTTL bounds how long a room's typing record survives without a
	// new keystroke before the whole record is dropped.
	entryTTL = 5 * time.Second
	// liveWindow is how recently a user must have typed to be reported as
	// "typing right now".
	liveWindow = 1500 * time.Millisecond
)

type roomEntry struct {
	users     map[string]time.Time
	expiresAt time.Time
}

// Cache is safe for concurrent use by many request handlers.
type Cache struct {
	mu    sync.Mutex
	rooms map[int64]*roomEntry
	now   func() time.Time
}

type Option interface {
	apply(*Cache)
}

type optionFunc func(c *Cache)

func (f optionFunc) apply(c *Cache) { f(c) }

// WithClock substitutes the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Cache) {
		c.now = now
	})
}

func New(opts ...Option) *Cache {
	c := &Cache{
		rooms: make(map[int64]*roomEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// MarkTyping records that user just typed in room and resets the room
// record's expiry.
func (c *Cache) MarkTyping(room int64, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.rooms[room]
	if !ok || now.After(entry.expiresAt) {
		entry = &roomEntry{users: make(map[string]time.Time)}
		c.rooms[room] = entry
	}
	entry.users[user] = now
	entry.expiresAt = now.Add(entryTTL)
}

// Typing returns the users other than requester who typed within the liveness
// window, sorted by name. Stale entries are pruned as a side effect.
func (c *Cache) Typing(room int64, requester string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.rooms[room]
	if !ok {
		return nil
	}
	if now.After(entry.expiresAt) {
		delete(c.rooms, room)
		return nil
	}

	var typing []string
	for user, last := range entry.users {
		if now.Sub(last) > liveWindow {
			delete(entry.users, user)
			continue
		}
		if user != requester {
			typing = append(typing, user)
		}
	}
	if len(entry.users) == 0 {
		delete(c.rooms, room)
	}

	sort.Strings(typing)
	return typing
}
