package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fleetline/realtime/internal/model"
)

// DeliveryChannel is an external route for a notification.
type DeliveryChannel string

const (
	ChannelEmail DeliveryChannel = "email"
	ChannelSMS   DeliveryChannel = "sms"
	ChannelPush  DeliveryChannel = "push"
)

// Preferences gate which external channels a notification is routed to.
// They never suppress the in-app record itself.
type Preferences struct {
	Email bool
	SMS   bool
	Push  bool

	// Quiet hours suppress all external channels. Local hours, 0-23;
	// the window may wrap midnight. Equal values disable quiet hours.
	QuietStart int
	QuietEnd   int
}

// DefaultPreferences enables push only, with no quiet hours.
func DefaultPreferences() Preferences {
	return Preferences{Push: true}
}

// DefaultMaxStored bounds the notification list when no capacity is configured.
const DefaultMaxStored = 200

// Center owns the user-facing notification list and unread counter.
//
// The list is a bounded most-recent-first deque: when capacity is exceeded
// the oldest entry is evicted. Ids are unique; recording a duplicate id is a
// no-op, which protects against the reconciler double-forwarding after a
// reconnect.
type Center struct {
	logger *slog.Logger

	mu        sync.Mutex
	maxStored int
	items     []model.Notification // index 0 is most recent
	ids       map[string]struct{}
	unread    int
	prefs     Preferences
}

// NewCenter creates a notification center holding at most maxStored entries.
func NewCenter(maxStored int, prefs Preferences, logger *slog.Logger) *Center {
	if logger == nil {
		logger = slog.Default()
	}
	if maxStored <= 0 {
		maxStored = DefaultMaxStored
	}
	return &Center{
		logger:    logger,
		maxStored: maxStored,
		ids:       make(map[string]struct{}),
		prefs:     prefs,
	}
}

// Record prepends a notification and increments the unread count.
// Returns false without any state change when the id is already held.
func (c *Center) Record(n model.Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.ids[n.ID]; dup {
		return false
	}

	n.Read = false
	c.ids[n.ID] = struct{}{}
	c.items = append([]model.Notification{n}, c.items...)
	c.unread++

	// Drop-oldest eviction keeps the unread counter equal to the number of
	// unread entries actually held.
	for len(c.items) > c.maxStored {
		oldest := c.items[len(c.items)-1]
		c.items = c.items[:len(c.items)-1]
		delete(c.ids, oldest.ID)
		if !oldest.Read {
			c.unread--
		}
	}

	return true
}

// MarkRead flips one notification to read. Marking an already-read or
// unknown id is a no-op; the unread counter never goes negative.
func (c *Center) MarkRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		if c.items[i].Read {
			return false
		}
		c.items[i].Read = true
		c.unread--
		return true
	}
	return false
}

// MarkAllRead flips every notification to read and zeroes the counter.
func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		c.items[i].Read = true
	}
	c.unread = 0
}

// UnreadCount returns the number of unread notifications held.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// List returns a copy of the notification list, most recent first.
func (c *Center) List() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, len(c.items))
	copy(out, c.items)
	return out
}

// SetPreferences replaces the delivery preferences.
func (c *Center) SetPreferences(p Preferences) {
	c.mu.Lock()
	c.prefs = p
	c.mu.Unlock()
}

// Preferences returns the current delivery preferences.
func (c *Center) Preferences() Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// Route returns the external channels the notification should be delivered
// to at the given time. Quiet hours suppress every external channel; the
// in-app record has already been made by Record and is unaffected.
func (c *Center) Route(n model.Notification, now time.Time) []DeliveryChannel {
	c.mu.Lock()
	prefs := c.prefs
	c.mu.Unlock()

	if inQuietHours(prefs, now) {
		return nil
	}

	var channels []DeliveryChannel
	if prefs.Email {
		channels = append(channels, ChannelEmail)
	}
	if prefs.SMS {
		channels = append(channels, ChannelSMS)
	}
	if prefs.Push {
		channels = append(channels, ChannelPush)
	}
	return channels
}

// inQuietHours reports whether now falls inside the quiet window.
func inQuietHours(p Preferences, now time.Time) bool {
	if p.QuietStart == p.QuietEnd {
		return false
	}
	h := now.Hour()
	if p.QuietStart < p.QuietEnd {
		return h >= p.QuietStart && h < p.QuietEnd
	}
	// Window wraps midnight, e.g. 22 -> 7.
	return h >= p.QuietStart || h < p.QuietEnd
}
