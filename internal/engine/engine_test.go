package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetline/realtime/internal/config"
	"github.com/fleetline/realtime/internal/connection"
	"github.com/fleetline/realtime/internal/model"
	"github.com/fleetline/realtime/internal/transport"
)

// backend is a scriptable WebSocket server standing in for the realtime
// backend: it records every inbound frame and can push events down.
type backend struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	frames []transport.Envelope
	conns  chan *websocket.Conn
}

func newBackend(t *testing.T) *backend {
	b := &backend{t: t, conns: make(chan *websocket.Conn, 4)}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		b.conns <- conn
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env transport.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Errorf("bad frame from client: %v", err)
				continue
			}
			b.mu.Lock()
			b.frames = append(b.frames, env)
			b.mu.Unlock()
		}
	}))

	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *backend) close() { b.server.Close() }

// waitConn blocks until the next client connection arrives.
func (b *backend) waitConn(t *testing.T) *websocket.Conn {
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no client connection arrived")
		return nil
	}
}

// push sends one event frame to the client.
func (b *backend) push(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, err := json.Marshal(transport.Envelope{Type: typ, Data: data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func (b *backend) received() []transport.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.Envelope, len(b.frames))
	copy(out, b.frames)
	return out
}

func (b *backend) countType(typ string) int {
	n := 0
	for _, f := range b.received() {
		if f.Type == typ {
			n++
		}
	}
	return n
}

func testConfig(url string) config.EngineConfig {
	return config.EngineConfig{
		Instance: config.InstanceConfig{ID: "test-client"},
		Backend:  config.BackendConfig{WSURL: url},
		Connection: config.ConnectionConfig{
			HandshakeTimeout:     2 * time.Second,
			PingInterval:         100 * time.Millisecond,
			PingTimeout:          time.Second,
			WriteTimeout:         time.Second,
			ReconnectBaseDelay:   10 * time.Millisecond,
			ReconnectMaxDelay:    40 * time.Millisecond,
			ReconnectMaxAttempts: 3,
			BufferSize:           100,
		},
		Notifications: config.NotificationsConfig{
			MaxStored:   50,
			Preferences: config.PreferencesConfig{Push: true},
		},
	}
}

func testCredential() connection.Credential {
	return connection.Credential{Token: "session-token"}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestEngine_SubscribeBeforeConnectReplaysOnce(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	// Subscribing while disconnected must not touch the wire.
	e.SubscribeOrderTracking("O1")
	time.Sleep(20 * time.Millisecond)
	if got := len(b.received()); got != 0 {
		t.Fatalf("frames before connect = %d, want 0", got)
	}

	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	b.waitConn(t)

	if !waitFor(t, time.Second, func() bool { return b.countType("subscribe_order_tracking") == 1 }) {
		t.Fatalf("subscribe_order_tracking frames = %d, want 1", b.countType("subscribe_order_tracking"))
	}

	var params struct {
		OrderID string `json:"order_id"`
	}
	for _, f := range b.received() {
		if f.Type == "subscribe_order_tracking" {
			if err := json.Unmarshal(f.Data, &params); err != nil {
				t.Fatalf("unmarshal params: %v", err)
			}
		}
	}
	if params.OrderID != "O1" {
		t.Errorf("subscribe order_id = %q, want O1", params.OrderID)
	}

	// Still exactly one frame: no duplicate replay.
	time.Sleep(30 * time.Millisecond)
	if got := b.countType("subscribe_order_tracking"); got != 1 {
		t.Errorf("subscribe_order_tracking frames = %d, want 1", got)
	}
}

func TestEngine_LocationLastWriteWins(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := b.waitConn(t)

	// Newer update first, stale one after: the stale one must lose.
	b.push(t, conn, "location_update", map[string]any{
		"order_id": "O1", "courier_id": "C1",
		"location": map[string]float64{"lat": 40.75, "lng": -73.99},
		"ts":       int64(200),
	})
	b.push(t, conn, "location_update", map[string]any{
		"order_id": "O1", "courier_id": "C1",
		"location": map[string]float64{"lat": 40.00, "lng": -74.50},
		"ts":       int64(100),
	})

	if !waitFor(t, time.Second, func() bool { return e.Stats().StaleLocations == 1 }) {
		t.Fatalf("stale locations = %d, want 1", e.Stats().StaleLocations)
	}

	loc, ok := e.Location("O1")
	if !ok {
		t.Fatal("Location(O1) not found")
	}
	if loc.ExchangeTS != 200 {
		t.Errorf("stored ts = %d, want 200", loc.ExchangeTS)
	}
	if loc.Latitude != 40.75 {
		t.Errorf("stored lat = %v, want 40.75", loc.Latitude)
	}
}

func TestEngine_OfflineActionsFlushOnConnect(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	// Queue while offline.
	for i := 0; i < 3; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"content":"msg-%d"}`, i))
		e.SendChatMessage(payload)
	}
	e.SendLocationPing(json.RawMessage(`{"lat":40.7,"lng":-74.0}`))

	if !e.SyncPending() {
		t.Fatal("SyncPending() = false with queued actions")
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(b.received()); got != 0 {
		t.Fatalf("frames before connect = %d, want 0", got)
	}

	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	b.waitConn(t)

	if !waitFor(t, time.Second, func() bool {
		return b.countType("send_message") == 3 && b.countType("location_ping") == 1
	}) {
		t.Fatalf("flushed frames = %d messages / %d pings, want 3 / 1",
			b.countType("send_message"), b.countType("location_ping"))
	}

	// Messages drain in enqueue order, each with its queue id.
	var contents []string
	for _, f := range b.received() {
		if f.Type != "send_message" {
			continue
		}
		if f.ID == "" {
			t.Error("send_message frame missing id")
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			t.Fatalf("unmarshal action payload: %v", err)
		}
		contents = append(contents, body.Content)
	}
	want := []string{"msg-0", "msg-1", "msg-2"}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, contents[i], want[i])
		}
	}

	if !waitFor(t, time.Second, func() bool { return !e.SyncPending() }) {
		t.Error("SyncPending() still true after flush")
	}
}

func TestEngine_SendWhileConnectedFlushesImmediately(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	b.waitConn(t)

	action := e.SendChatMessage(json.RawMessage(`{"content":"hi"}`))
	if action.ID == "" {
		t.Error("queued action missing id")
	}

	if !waitFor(t, time.Second, func() bool { return b.countType("send_message") == 1 }) {
		t.Fatalf("send_message frames = %d, want 1", b.countType("send_message"))
	}
	if !waitFor(t, time.Second, func() bool { return !e.SyncPending() }) {
		t.Error("SyncPending() still true after connected send")
	}
}

func TestEngine_StatusChangeCreatesNotification(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := b.waitConn(t)

	b.push(t, conn, "order_status_change", map[string]any{
		"order_id": "O9", "previous_status": "preparing",
		"new_status": "out_for_delivery", "ts": int64(500),
	})

	if !waitFor(t, time.Second, func() bool { return e.UnreadCount() == 1 }) {
		t.Fatalf("unread = %d, want 1", e.UnreadCount())
	}

	history := e.StatusHistory("O9")
	if len(history) != 1 || history[0].NewStatus != "out_for_delivery" {
		t.Fatalf("status history = %+v", history)
	}

	notifs := e.Notifications()
	if len(notifs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifs))
	}
	n := notifs[0]
	if n.Type != model.NotifyStatusChange || n.OrderID != "O9" {
		t.Errorf("notification = %+v", n)
	}

	if !e.MarkRead(n.ID) {
		t.Error("MarkRead() = false for stored notification")
	}
	if e.UnreadCount() != 0 {
		t.Errorf("unread after MarkRead = %d, want 0", e.UnreadCount())
	}
}

func TestEngine_MalformedEventReportedToHealth(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := b.waitConn(t)

	// Missing order_id: dropped and reported, never applied.
	b.push(t, conn, "location_update", map[string]any{
		"courier_id": "C1",
		"location":   map[string]float64{"lat": 1, "lng": 2},
		"ts":         int64(10),
	})

	if !waitFor(t, time.Second, func() bool { return e.Health().MalformedEvents == 1 }) {
		t.Fatalf("malformed events = %d, want 1", e.Health().MalformedEvents)
	}
	if e.Stats().Malformed != 1 {
		t.Errorf("reconciler malformed = %d, want 1", e.Stats().Malformed)
	}
	if len(e.Notifications()) != 0 {
		t.Errorf("notifications = %d, want 0", len(e.Notifications()))
	}
}

func TestEngine_ReconnectReplaysSubscriptions(t *testing.T) {
	b := newBackend(t)
	defer b.close()

	e := New(testConfig(b.url()), nil)
	defer e.Close()

	e.SubscribeOrderTracking("O1")
	if err := e.Connect(context.Background(), testCredential()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := b.waitConn(t)

	if !waitFor(t, time.Second, func() bool { return b.countType("subscribe_order_tracking") == 1 }) {
		t.Fatalf("initial replay missing")
	}

	// Kill the transport; the manager reconnects and replays again.
	conn.Close()
	b.waitConn(t)

	if !waitFor(t, 2*time.Second, func() bool { return b.countType("subscribe_order_tracking") == 2 }) {
		t.Fatalf("subscribe frames after reconnect = %d, want 2", b.countType("subscribe_order_tracking"))
	}

	if !waitFor(t, time.Second, func() bool { return e.Health().Reconnects == 1 }) {
		t.Errorf("health reconnects = %d, want 1", e.Health().Reconnects)
	}
}
