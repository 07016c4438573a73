package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/fleetline/realtime/internal/model"
)

func notif(id string) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.NotifyMessage,
		Title:     "New message",
		Message:   "body " + id,
		Timestamp: time.Now().UnixMicro(),
	}
}

func TestCenter_RecordDuplicateIDNoop(t *testing.T) {
	c := NewCenter(10, DefaultPreferences(), nil)

	if !c.Record(notif("x")) {
		t.Fatal("first Record returned false")
	}
	if c.Record(notif("x")) {
		t.Error("duplicate Record returned true")
	}

	if got := len(c.List()); got != 1 {
		t.Errorf("list length = %d, want 1", got)
	}
	if got := c.UnreadCount(); got != 1 {
		t.Errorf("unread = %d, want 1 (incremented once)", got)
	}
}

func TestCenter_MostRecentFirst(t *testing.T) {
	c := NewCenter(10, DefaultPreferences(), nil)

	c.Record(notif("a"))
	c.Record(notif("b"))
	c.Record(notif("c"))

	list := c.List()
	if list[0].ID != "c" || list[1].ID != "b" || list[2].ID != "a" {
		t.Errorf("order = %s,%s,%s; want c,b,a", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestCenter_MarkRead(t *testing.T) {
	c := NewCenter(10, DefaultPreferences(), nil)
	c.Record(notif("a"))
	c.Record(notif("b"))

	if !c.MarkRead("a") {
		t.Error("MarkRead(a) = false, want true")
	}
	if got := c.UnreadCount(); got != 1 {
		t.Errorf("unread = %d, want 1", got)
	}

	// Already read and unknown ids are no-ops; counter never goes negative.
	if c.MarkRead("a") {
		t.Error("second MarkRead(a) = true, want false")
	}
	if c.MarkRead("zzz") {
		t.Error("MarkRead(unknown) = true, want false")
	}
	if got := c.UnreadCount(); got != 1 {
		t.Errorf("unread = %d, want 1 after no-ops", got)
	}
}

func TestCenter_MarkAllRead(t *testing.T) {
	c := NewCenter(10, DefaultPreferences(), nil)
	for i := 0; i < 5; i++ {
		c.Record(notif(fmt.Sprintf("n%d", i)))
	}

	c.MarkAllRead()
	if got := c.UnreadCount(); got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}
	for _, n := range c.List() {
		if !n.Read {
			t.Errorf("notification %s still unread", n.ID)
		}
	}

	// Idempotent.
	c.MarkAllRead()
	if got := c.UnreadCount(); got != 0 {
		t.Errorf("unread = %d after second MarkAllRead, want 0", got)
	}
}

func TestCenter_BoundedEvictsOldest(t *testing.T) {
	c := NewCenter(3, DefaultPreferences(), nil)

	for i := 0; i < 5; i++ {
		c.Record(notif(fmt.Sprintf("n%d", i)))
	}

	list := c.List()
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	if list[0].ID != "n4" || list[2].ID != "n2" {
		t.Errorf("kept %s..%s, want n4..n2", list[0].ID, list[2].ID)
	}
	if got := c.UnreadCount(); got != 3 {
		t.Errorf("unread = %d, want 3 (evicted unread entries release their count)", got)
	}

	// An evicted id may be recorded again; it is no longer held.
	if !c.Record(notif("n0")) {
		t.Error("re-record of evicted id = false, want true")
	}
}

func TestCenter_RouteRespectesPreferences(t *testing.T) {
	c := NewCenter(10, Preferences{Email: true, Push: true}, nil)

	channels := c.Route(notif("a"), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if len(channels) != 2 || channels[0] != ChannelEmail || channels[1] != ChannelPush {
		t.Errorf("channels = %v, want [email push]", channels)
	}

	c.SetPreferences(Preferences{})
	if got := c.Route(notif("b"), time.Now()); len(got) != 0 {
		t.Errorf("channels = %v with all prefs off, want none", got)
	}
}

func TestCenter_QuietHours(t *testing.T) {
	prefs := Preferences{Push: true, QuietStart: 22, QuietEnd: 7}
	c := NewCenter(10, prefs, nil)

	tests := []struct {
		hour int
		want int // external channel count
	}{
		{23, 0}, // inside wrap window
		{3, 0},  // inside wrap window after midnight
		{7, 1},  // boundary: quiet ends
		{12, 1}, // daytime
		{22, 0}, // boundary: quiet starts
	}

	for _, tt := range tests {
		now := time.Date(2026, 3, 1, tt.hour, 30, 0, 0, time.UTC)
		if got := len(c.Route(notif("q"), now)); got != tt.want {
			t.Errorf("hour %d: channels = %d, want %d", tt.hour, got, tt.want)
		}
	}

	// The in-app record is never suppressed by quiet hours.
	if !c.Record(notif("quiet")) {
		t.Error("Record suppressed during quiet hours")
	}
}
