package subscription

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fleetline/realtime/internal/transport"
)

// Kind identifies a logical channel family.
type Kind string

const (
	KindOrderTracking    Kind = "order_tracking"
	KindNotificationFeed Kind = "notification_feed"
	KindMessaging        Kind = "messaging"
	KindSystemAlerts     Kind = "system_alerts"
)

// Key uniquely identifies a subscription. For per-order channels the ID is
// the order id; for per-user channels it is the user id; for system alerts
// it is empty.
type Key struct {
	Kind Kind
	ID   string
}

// Metadata carries the channel-specific subscribe parameters.
type Metadata struct {
	Channels     []string // notification_feed: delivery channels to receive
	Participants []string // messaging: thread participant ids
	AlertTypes   []string // system_alerts: alert categories
}

// Subscription is one held entry in the registry.
type Subscription struct {
	Key      Key
	Metadata Metadata
}

// Registry tracks which logical channels the client wants and re-establishes
// them after every reconnect. It never creates subscriptions from inbound
// data; only explicit Subscribe calls add entries.
type Registry struct {
	logger *slog.Logger
	sender transport.Sender

	mu   sync.Mutex
	subs map[Key]Subscription
}

// NewRegistry creates a subscription registry sending through the given sender.
func NewRegistry(sender transport.Sender, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		sender: sender,
		subs:   make(map[Key]Subscription),
	}
}

// Subscribe inserts or replaces the subscription for (kind, id). If the
// transport is connected the subscribe request is sent immediately;
// otherwise the entry is held locally and sent at the next connected
// transition via ReplayAll.
func (r *Registry) Subscribe(kind Kind, id string, meta Metadata) {
	key := Key{Kind: kind, ID: id}
	sub := Subscription{Key: key, Metadata: meta}

	r.mu.Lock()
	r.subs[key] = sub
	r.mu.Unlock()

	if !r.sender.IsConnected() {
		return
	}
	if err := r.send(subscribeFrame(sub)); err != nil {
		// Deferred to the next reconnect's ReplayAll; retrying mid-connection
		// risks duplicate in-flight sends.
		r.logger.Warn("subscribe send failed, deferred to replay",
			"kind", kind, "id", id, "error", err)
	}
}

// Unsubscribe removes the entry for (kind, id). Removing a key that is not
// held is a no-op. If connected, the unsubscribe request is sent immediately.
func (r *Registry) Unsubscribe(kind Kind, id string) {
	key := Key{Kind: kind, ID: id}

	r.mu.Lock()
	_, held := r.subs[key]
	delete(r.subs, key)
	r.mu.Unlock()

	if !held || !r.sender.IsConnected() {
		return
	}
	if err := r.send(unsubscribeFrame(key)); err != nil {
		r.logger.Warn("unsubscribe send failed",
			"kind", kind, "id", id, "error", err)
	}
}

// ReplayAll re-sends a subscribe request for every held entry. Invoked on
// every connected transition; the backend treats duplicate subscribes as
// idempotent.
func (r *Registry) ReplayAll() {
	r.mu.Lock()
	subs := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		if err := r.send(subscribeFrame(sub)); err != nil {
			r.logger.Warn("replay send failed, deferred to next reconnect",
				"kind", sub.Key.Kind, "id", sub.Key.ID, "error", err)
		}
	}

	r.logger.Debug("subscriptions replayed", "count", len(subs))
}

// Clear drops all held subscriptions. Used on session termination.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.subs = make(map[Key]Subscription)
	r.mu.Unlock()
}

// Len returns the number of held subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Snapshot returns a copy of all held subscriptions.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	return subs
}

// send marshals and writes one frame.
func (r *Registry) send(env transport.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.sender.Send(data)
}

// subscribeFrame builds the wire frame for a subscription.
func subscribeFrame(sub Subscription) transport.Envelope {
	var payload any
	switch sub.Key.Kind {
	case KindOrderTracking:
		payload = orderTrackingParams{OrderID: sub.Key.ID}
	case KindNotificationFeed:
		payload = notificationFeedParams{UserID: sub.Key.ID, Channels: sub.Metadata.Channels}
	case KindMessaging:
		payload = messagingParams{OrderID: sub.Key.ID, Participants: sub.Metadata.Participants}
	case KindSystemAlerts:
		payload = systemAlertParams{AlertTypes: sub.Metadata.AlertTypes}
	}
	data, _ := json.Marshal(payload)
	return transport.Envelope{Type: "subscribe_" + wireName(sub.Key.Kind), Data: data}
}

// unsubscribeFrame builds the wire frame for removing a subscription.
func unsubscribeFrame(key Key) transport.Envelope {
	var payload any
	switch key.Kind {
	case KindOrderTracking:
		payload = orderTrackingParams{OrderID: key.ID}
	case KindNotificationFeed:
		payload = notificationFeedParams{UserID: key.ID}
	case KindMessaging:
		payload = messagingParams{OrderID: key.ID}
	case KindSystemAlerts:
		payload = systemAlertParams{}
	}
	data, _ := json.Marshal(payload)
	return transport.Envelope{Type: "unsubscribe_" + wireName(key.Kind), Data: data}
}

// wireName maps a subscription kind to its frame-type suffix. The backend
// calls the per-user feed channel "notifications" on the wire.
func wireName(kind Kind) string {
	if kind == KindNotificationFeed {
		return "notifications"
	}
	return string(kind)
}

// Wire parameter shapes.

type orderTrackingParams struct {
	OrderID string `json:"order_id"`
}

type notificationFeedParams struct {
	UserID   string   `json:"user_id"`
	Channels []string `json:"channels,omitempty"`
}

type messagingParams struct {
	OrderID      string   `json:"order_id"`
	Participants []string `json:"participants,omitempty"`
}

type systemAlertParams struct {
	AlertTypes []string `json:"alert_types,omitempty"`
}
