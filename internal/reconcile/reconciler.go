package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetline/realtime/internal/model"
	"github.com/fleetline/realtime/internal/transport"
)

// Reconciler applies inbound events to canonical, deduplicated state.
//
// Events are processed in arrival order with no reordering buffer; staleness
// and re-delivery are handled per entity: last-write-wins by event timestamp
// for locations, id dedup for messages/assignments/alerts, and unconditional
// append for status transitions.
type Reconciler struct {
	logger   *slog.Logger
	notifier Notifier
	reporter Reporter // may be nil

	statusObserver func(model.StatusChange) // may be nil

	handlers map[string]func(json.RawMessage, time.Time) error

	mu        sync.Mutex
	locations map[string]model.LocationUpdate
	statusLog map[string][]model.StatusChange
	messages  map[string][]model.ChatMessage
	alerts    []model.SystemAlert
	assigned  map[string]model.CourierAssignment
	etas      map[string]model.ETAUpdate
	seen      map[string]struct{} // dedup keys across id-guarded streams
	stats     Stats
}

// NewReconciler creates an event reconciler forwarding derived notifications
// to the given notifier. The reporter may be nil.
func NewReconciler(notifier Notifier, reporter Reporter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reconciler{
		logger:    logger,
		notifier:  notifier,
		reporter:  reporter,
		locations: make(map[string]model.LocationUpdate),
		statusLog: make(map[string][]model.StatusChange),
		messages:  make(map[string][]model.ChatMessage),
		assigned:  make(map[string]model.CourierAssignment),
		etas:      make(map[string]model.ETAUpdate),
		seen:      make(map[string]struct{}),
	}

	// Dispatch table: event type -> reconciliation function. Invoked
	// synchronously per received event to keep ordering auditable.
	r.handlers = map[string]func(json.RawMessage, time.Time) error{
		"location_update":     r.applyLocationUpdate,
		"order_status_change": r.applyStatusChange,
		"message_received":    r.applyMessage,
		"courier_assignment":  r.applyCourierAssignment,
		"notification_push":   r.applyNotificationPush,
		"eta_update":          r.applyETAUpdate,
		"system_alert":        r.applySystemAlert,
	}

	return r
}

// SetStatusObserver registers a callback invoked for every appended status
// transition, after the log update. Used to feed the event archiver.
func (r *Reconciler) SetStatusObserver(fn func(model.StatusChange)) {
	r.mu.Lock()
	r.statusObserver = fn
	r.mu.Unlock()
}

// Apply reconciles one raw inbound frame. Malformed events are dropped and
// reported; they never corrupt the entity log they target.
func (r *Reconciler) Apply(msg transport.TimestampedMessage) {
	var env transport.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type == "" {
		r.recordMalformed("", ErrBadEnvelope)
		return
	}

	switch env.Type {
	case "connect_ack", "disconnect", "reconnect_attempt":
		// Transport lifecycle signals; the connection manager handles
		// these, they carry no entity state.
		return
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.mu.Lock()
		r.stats.Unknown++
		r.mu.Unlock()
		r.logger.Debug("unknown event type", "type", env.Type)
		return
	}

	if err := handler(env.Data, msg.ReceivedAt); err != nil {
		r.recordMalformed(env.Type, err)
	}
}

// applyLocationUpdate keeps only the update with the greatest event
// timestamp per order; older arrivals are discarded silently.
func (r *Reconciler) applyLocationUpdate(data json.RawMessage, receivedAt time.Time) error {
	var wire locationUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.OrderID == "" {
		return ErrMissingOrderID
	}
	if wire.Ts == 0 {
		return ErrMissingTimestamp
	}

	update := model.LocationUpdate{
		OrderID:    wire.OrderID,
		CourierID:  wire.CourierID,
		Latitude:   wire.Location.Lat,
		Longitude:  wire.Location.Lng,
		ExchangeTS: wire.Ts,
		ReceivedAt: receivedAt.UnixMicro(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.locations[update.OrderID]; ok && update.ExchangeTS <= stored.ExchangeTS {
		r.stats.StaleLocations++
		return nil
	}
	r.locations[update.OrderID] = update
	r.stats.EventsApplied++
	return nil
}

// applyStatusChange appends unconditionally: each transition is materially
// distinct, even when timestamps collide, and derives exactly one notification.
func (r *Reconciler) applyStatusChange(data json.RawMessage, receivedAt time.Time) error {
	var wire statusChangeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.OrderID == "" {
		return ErrMissingOrderID
	}
	if wire.NewStatus == "" {
		return fmt.Errorf("missing new_status for order %s", wire.OrderID)
	}

	change := model.StatusChange{
		OrderID:        wire.OrderID,
		PreviousStatus: wire.PreviousStatus,
		NewStatus:      wire.NewStatus,
		ExchangeTS:     wire.Ts,
		ReceivedAt:     receivedAt.UnixMicro(),
	}

	r.mu.Lock()
	r.statusLog[change.OrderID] = append(r.statusLog[change.OrderID], change)
	r.stats.EventsApplied++
	observer := r.statusObserver
	r.mu.Unlock()

	if observer != nil {
		observer(change)
	}

	r.notifier.Record(model.Notification{
		ID:        uuid.NewString(),
		Type:      model.NotifyStatusChange,
		Title:     "Order status updated",
		Message:   fmt.Sprintf("Order %s is now %s", change.OrderID, change.NewStatus),
		Timestamp: change.ExchangeTS,
		OrderID:   change.OrderID,
		Payload:   data,
	})
	return nil
}

// applyMessage appends a chat message, deduplicating by message id to guard
// against re-delivery after a reconnect-triggered resubscribe.
func (r *Reconciler) applyMessage(data json.RawMessage, receivedAt time.Time) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.MessageID == "" {
		return ErrMissingID
	}
	if wire.OrderID == "" {
		return ErrMissingOrderID
	}

	if !r.markSeen("msg:" + wire.MessageID) {
		return nil
	}

	msg := model.ChatMessage{
		MessageID:  wire.MessageID,
		OrderID:    wire.OrderID,
		SenderID:   wire.SenderID,
		Content:    wire.Content,
		ExchangeTS: wire.Ts,
		ReceivedAt: receivedAt.UnixMicro(),
	}

	r.mu.Lock()
	r.messages[msg.OrderID] = append(r.messages[msg.OrderID], msg)
	r.stats.EventsApplied++
	r.mu.Unlock()

	r.notifier.Record(model.Notification{
		ID:        "msg-" + msg.MessageID,
		Type:      model.NotifyMessage,
		Title:     "New message",
		Message:   msg.Content,
		Timestamp: msg.ExchangeTS,
		OrderID:   msg.OrderID,
		Payload:   data,
	})
	return nil
}

// applyCourierAssignment records the courier matched to an order.
func (r *Reconciler) applyCourierAssignment(data json.RawMessage, _ time.Time) error {
	var wire courierAssignmentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.OrderID == "" {
		return ErrMissingOrderID
	}
	if wire.CourierID == "" {
		return fmt.Errorf("missing courier_id for order %s", wire.OrderID)
	}

	key := "assign:" + wire.OrderID + ":" + wire.CourierID
	if !r.markSeen(key) {
		return nil
	}

	assignment := model.CourierAssignment{
		OrderID:     wire.OrderID,
		CourierID:   wire.CourierID,
		CourierName: wire.CourierName,
		ExchangeTS:  wire.Ts,
	}

	r.mu.Lock()
	r.assigned[assignment.OrderID] = assignment
	r.stats.EventsApplied++
	r.mu.Unlock()

	name := assignment.CourierName
	if name == "" {
		name = assignment.CourierID
	}
	r.notifier.Record(model.Notification{
		ID:        key,
		Type:      model.NotifyCourierAssignment,
		Title:     "Courier assigned",
		Message:   fmt.Sprintf("%s is handling order %s", name, assignment.OrderID),
		Timestamp: assignment.ExchangeTS,
		OrderID:   assignment.OrderID,
		Payload:   data,
	})
	return nil
}

// applyNotificationPush rebuilds a backend push as a locally verified
// notification; inbound data never becomes a Notification directly.
func (r *Reconciler) applyNotificationPush(data json.RawMessage, _ time.Time) error {
	var wire notificationPushWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ID == "" {
		return ErrMissingID
	}

	if !r.markSeen("push:" + wire.ID) {
		return nil
	}

	r.mu.Lock()
	r.stats.EventsApplied++
	r.mu.Unlock()

	r.notifier.Record(model.Notification{
		ID:        "push-" + wire.ID,
		Type:      model.NotifyPush,
		Title:     wire.Title,
		Message:   wire.Message,
		Timestamp: wire.Ts,
		OrderID:   wire.OrderID,
		Payload:   data,
	})
	return nil
}

// applyETAUpdate keeps the latest estimate per order, deduplicating exact
// re-deliveries by (order, ts).
func (r *Reconciler) applyETAUpdate(data json.RawMessage, _ time.Time) error {
	var wire etaUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.OrderID == "" {
		return ErrMissingOrderID
	}
	if wire.Ts == 0 {
		return ErrMissingTimestamp
	}

	key := fmt.Sprintf("eta:%s:%d", wire.OrderID, wire.Ts)
	if !r.markSeen(key) {
		return nil
	}

	update := model.ETAUpdate{
		OrderID:    wire.OrderID,
		ETA:        wire.ETA,
		ExchangeTS: wire.Ts,
	}

	r.mu.Lock()
	if stored, ok := r.etas[update.OrderID]; ok && update.ExchangeTS <= stored.ExchangeTS {
		r.stats.StaleLocations++
		r.mu.Unlock()
		return nil
	}
	r.etas[update.OrderID] = update
	r.stats.EventsApplied++
	r.mu.Unlock()

	r.notifier.Record(model.Notification{
		ID:        key,
		Type:      model.NotifyETA,
		Title:     "Delivery time updated",
		Message:   fmt.Sprintf("New estimated arrival for order %s", update.OrderID),
		Timestamp: update.ExchangeTS,
		OrderID:   update.OrderID,
		Payload:   data,
	})
	return nil
}

// applySystemAlert appends a platform announcement, deduplicating by alert id.
func (r *Reconciler) applySystemAlert(data json.RawMessage, _ time.Time) error {
	var wire systemAlertWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ID == "" {
		return ErrMissingID
	}

	if !r.markSeen("alert:" + wire.ID) {
		return nil
	}

	alert := model.SystemAlert{
		ID:         wire.ID,
		Type:       wire.Type,
		Message:    wire.Message,
		ExchangeTS: wire.Ts,
	}

	r.mu.Lock()
	r.alerts = append(r.alerts, alert)
	r.stats.EventsApplied++
	r.mu.Unlock()

	r.notifier.Record(model.Notification{
		ID:        "alert-" + alert.ID,
		Type:      model.NotifySystemAlert,
		Title:     "Service announcement",
		Message:   alert.Message,
		Timestamp: alert.ExchangeTS,
		Payload:   data,
	})
	return nil
}

// markSeen records a dedup key, returning false if it was already present.
func (r *Reconciler) markSeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[key]; dup {
		r.stats.Duplicates++
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

// recordMalformed counts and escalates a dropped event.
func (r *Reconciler) recordMalformed(eventType string, err error) {
	r.mu.Lock()
	r.stats.Malformed++
	r.mu.Unlock()

	r.logger.Warn("malformed event dropped", "type", eventType, "error", err)
	if r.reporter != nil {
		r.reporter.ReportMalformedEvent(eventType, err)
	}
}

// -----------------------------------------------------------------------------
// Snapshot accessors (copies; callers never see internal state)
// -----------------------------------------------------------------------------

// Location returns the canonical location for an order.
func (r *Reconciler) Location(orderID string) (model.LocationUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.locations[orderID]
	return loc, ok
}

// StatusHistory returns a copy of the order's transition log, oldest first.
func (r *Reconciler) StatusHistory(orderID string) []model.StatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.statusLog[orderID]
	out := make([]model.StatusChange, len(log))
	copy(out, log)
	return out
}

// Messages returns a copy of the order's chat thread, oldest first.
func (r *Reconciler) Messages(orderID string) []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[orderID]
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Assignment returns the courier assigned to an order.
func (r *Reconciler) Assignment(orderID string) (model.CourierAssignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assigned[orderID]
	return a, ok
}

// ETA returns the latest arrival estimate for an order.
func (r *Reconciler) ETA(orderID string) (model.ETAUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.etas[orderID]
	return e, ok
}

// Alerts returns a copy of received system alerts, oldest first.
func (r *Reconciler) Alerts() []model.SystemAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SystemAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Stats returns current reconciler counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
