package connection

import (
	"errors"
	"log/slog"
	"time"

	"github.com/fleetline/realtime/internal/model"
	"github.com/fleetline/realtime/internal/transport"
)

// Errors
var (
	ErrNoCredential      = errors.New("missing or expired credential")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// Credential is the opaque session token supplied by the authentication
// collaborator. A zero ExpiresAt means no known expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can be used to connect at the given time.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return false
	}
	return true
}

// State is a value snapshot of the connection lifecycle.
type State struct {
	Status        model.ConnectionStatus
	ConnID        string    // Opaque id assigned on each successful connect
	Attempts      int       // Consecutive reconnect attempts, zeroed on connect
	LastHeartbeat time.Time // Receive time of the most recent inbound frame
}

// DialFunc constructs a transport client. Tests substitute fakes here.
type DialFunc func(cfg transport.ClientConfig, logger *slog.Logger) transport.Client

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                  string        // WebSocket URL of the realtime backend
	HandshakeTimeout     time.Duration // Dial timeout
	PingInterval         time.Duration // Keepalive ping cadence
	PingTimeout          time.Duration // Staleness threshold
	WriteTimeout         time.Duration // Write deadline for sends
	ReconnectBaseDelay   time.Duration // First backoff delay
	ReconnectMaxDelay    time.Duration // Backoff cap
	ReconnectMaxAttempts int           // Consecutive failures before giving up
	BufferSize           int           // Inbound message channel buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:     10 * time.Second,
		PingInterval:         15 * time.Second,
		PingTimeout:          45 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 10,
		BufferSize:           1000,
	}
}

// backoffDelay returns the wait before the given attempt (1-based),
// doubling from the base delay up to the cap.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
