package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fleetline/realtime/internal/model"
)

// Status is the aggregate health used to gate UI affordances.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Snapshot is a value copy of the tracker's state.
type Snapshot struct {
	Status           Status
	Connection       model.ConnectionStatus
	Reconnects       int64 // Reconnecting transitions observed
	MalformedEvents  int64 // Dropped inbound events
	TerminalFailures int64 // Reconnect-given-up errors
	LastError        string
	LastErrorAt      time.Time
}

// Tracker aggregates connection state and backend error reports into an
// overall status. It only consumes reports; it never mutates other
// components' state.
type Tracker struct {
	logger *slog.Logger

	mu               sync.Mutex
	connection       model.ConnectionStatus
	reconnects       int64
	malformedEvents  int64
	terminalFailures int64
	lastError        string
	lastErrorAt      time.Time
}

// NewTracker creates a health tracker starting from a disconnected state.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:     logger,
		connection: model.StatusDisconnected,
	}
}

// ReportConnection records a connection status transition.
func (t *Tracker) ReportConnection(status model.ConnectionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if status == model.StatusReconnecting && t.connection != model.StatusReconnecting {
		t.reconnects++
	}
	t.connection = status
}

// ReportTerminalError records a terminal connectivity failure.
func (t *Tracker) ReportTerminalError(err error) {
	t.mu.Lock()
	t.terminalFailures++
	t.lastError = err.Error()
	t.lastErrorAt = time.Now()
	t.mu.Unlock()

	t.logger.Error("terminal connectivity failure", "error", err)
}

// ReportMalformedEvent records a dropped inbound event.
func (t *Tracker) ReportMalformedEvent(eventType string, err error) {
	t.mu.Lock()
	t.malformedEvents++
	t.lastError = err.Error()
	t.lastErrorAt = time.Now()
	t.mu.Unlock()
}

// Snapshot returns the current aggregate health.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := StatusOffline
	switch t.connection {
	case model.StatusConnected:
		status = StatusHealthy
	case model.StatusConnecting, model.StatusReconnecting:
		status = StatusDegraded
	}

	return Snapshot{
		Status:           status,
		Connection:       t.connection,
		Reconnects:       t.reconnects,
		MalformedEvents:  t.malformedEvents,
		TerminalFailures: t.terminalFailures,
		LastError:        t.lastError,
		LastErrorAt:      t.lastErrorAt,
	}
}
