package transport

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Envelope is the JSON frame shape used in both directions:
// an event type plus a type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"` // Client-assigned id on outbound actions
	Data json.RawMessage `json:"data,omitempty"`
}

// Sender is the narrow write-side view of a connection. The subscription
// registry and outbox send through this; only the connection manager may
// mutate the underlying connection.
type Sender interface {
	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://rt.fleetline.example/v1/stream)
	Token            string        // Session token for the Authorization header
	HandshakeTimeout time.Duration // Dial timeout
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      45 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}
