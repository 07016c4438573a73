package reconcile

import (
	"errors"

	"github.com/fleetline/realtime/internal/model"
)

// Errors
var (
	ErrMissingOrderID   = errors.New("missing order_id")
	ErrMissingTimestamp = errors.New("missing ts")
	ErrMissingID        = errors.New("missing id")
	ErrBadEnvelope      = errors.New("malformed event envelope")
)

// Notifier receives notifications derived from reconciled events.
// Implemented by the notification center.
type Notifier interface {
	// Record stores a notification, returning false for duplicate ids.
	Record(n model.Notification) bool
}

// Reporter receives malformed-event reports. Implemented by the health tracker.
type Reporter interface {
	ReportMalformedEvent(eventType string, err error)
}

// Stats contains reconciler counters.
type Stats struct {
	EventsApplied  int64 // Events accepted into canonical state
	StaleLocations int64 // Location updates discarded by last-write-wins
	Duplicates     int64 // Events discarded by id dedup
	Malformed      int64 // Events dropped for missing required fields
	Unknown        int64 // Events with unrecognized types
}

// Wire shapes for inbound event payloads.

type geoPointWire struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type locationUpdateWire struct {
	OrderID   string       `json:"order_id"`
	CourierID string       `json:"courier_id"`
	Location  geoPointWire `json:"location"`
	Ts        int64        `json:"ts"`
}

type statusChangeWire struct {
	OrderID        string `json:"order_id"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Ts             int64  `json:"ts"`
}

type messageWire struct {
	MessageID string `json:"message_id"`
	OrderID   string `json:"order_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Ts        int64  `json:"ts"`
}

type courierAssignmentWire struct {
	OrderID     string `json:"order_id"`
	CourierID   string `json:"courier_id"`
	CourierName string `json:"courier_name"`
	Ts          int64  `json:"ts"`
}

type notificationPushWire struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	OrderID string `json:"order_id"`
	Ts      int64  `json:"ts"`
}

type etaUpdateWire struct {
	OrderID string `json:"order_id"`
	ETA     int64  `json:"eta"`
	Ts      int64  `json:"ts"`
}

type systemAlertWire struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}
