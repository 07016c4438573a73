package model

import "encoding/json"

// ConnectionStatus is the lifecycle state of the realtime connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// -----------------------------------------------------------------------------
// Inbound event types
// -----------------------------------------------------------------------------

// LocationUpdate is a courier position report for an order.
// Only the update with the greatest ExchangeTS is retained per order.
type LocationUpdate struct {
	OrderID    string  // Order being tracked
	CourierID  string  // Courier reporting the position
	Latitude   float64 // WGS84 degrees
	Longitude  float64 // WGS84 degrees
	ExchangeTS int64   // Backend event timestamp (µs since epoch)
	ReceivedAt int64   // Local receive timestamp (µs since epoch)
}

// StatusChange is one entry in an order's append-only transition log.
type StatusChange struct {
	OrderID        string // Order the transition belongs to
	PreviousStatus string // Status before the transition
	NewStatus      string // Status after the transition
	ExchangeTS     int64  // Backend event timestamp (µs since epoch)
	ReceivedAt     int64  // Local receive timestamp (µs since epoch)
}

// ChatMessage is a message delivered on an order's messaging thread.
type ChatMessage struct {
	MessageID  string // Backend-assigned id, used for re-delivery dedup
	OrderID    string // Thread the message belongs to
	SenderID   string // Author
	Content    string // Message body
	ExchangeTS int64  // Backend event timestamp (µs since epoch)
	ReceivedAt int64  // Local receive timestamp (µs since epoch)
}

// CourierAssignment announces the courier matched to an order.
type CourierAssignment struct {
	OrderID     string // Order being assigned
	CourierID   string // Assigned courier
	CourierName string // Display name
	ExchangeTS  int64  // Backend event timestamp (µs since epoch)
}

// ETAUpdate is a revised estimated arrival time for an order.
type ETAUpdate struct {
	OrderID    string // Order the estimate applies to
	ETA        int64  // Estimated arrival (µs since epoch)
	ExchangeTS int64  // Backend event timestamp (µs since epoch)
}

// SystemAlert is a platform-wide announcement (maintenance, surge, outage).
type SystemAlert struct {
	ID         string // Backend-assigned id, used for re-delivery dedup
	Type       string // Alert category
	Message    string // Alert body
	ExchangeTS int64  // Backend event timestamp (µs since epoch)
}

// -----------------------------------------------------------------------------
// Derived and outbound types
// -----------------------------------------------------------------------------

// NotificationType classifies a derived notification.
type NotificationType string

const (
	NotifyStatusChange      NotificationType = "status_change"
	NotifyMessage           NotificationType = "message"
	NotifyCourierAssignment NotificationType = "courier_assignment"
	NotifyETA               NotificationType = "eta_update"
	NotifySystemAlert       NotificationType = "system_alert"
	NotifyPush              NotificationType = "push"
)

// Notification is a user-facing record derived from a reconciled event.
// Only the Read flag is mutated after creation.
type Notification struct {
	ID        string           // Unique id; duplicates are rejected on record
	Type      NotificationType // Source event category
	Title     string           // Short headline
	Message   string           // Body text
	Timestamp int64            // Source event timestamp (µs since epoch)
	Read      bool             // Read flag, flipped by the notification center
	OrderID   string           // Related order, empty for system alerts
	Payload   json.RawMessage  // Raw source event, if retained
}

// ActionType identifies which outbox queue an action belongs to.
type ActionType string

const (
	ActionSendMessage  ActionType = "send_message"
	ActionLocationPing ActionType = "location_ping"
)

// QueuedAction is an outbound action held in the offline outbox.
type QueuedAction struct {
	ID        string          // Client-assigned uuid, lets the backend dedup retries
	Type      ActionType      // Queue the action belongs to
	Payload   json.RawMessage // Action body, forwarded verbatim on flush
	CreatedAt int64           // Enqueue time (µs since epoch), defines flush order
}
