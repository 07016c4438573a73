package health

import (
	"errors"
	"testing"

	"github.com/fleetline/realtime/internal/model"
)

func TestTracker_StatusMapping(t *testing.T) {
	tests := []struct {
		conn model.ConnectionStatus
		want Status
	}{
		{model.StatusConnected, StatusHealthy},
		{model.StatusConnecting, StatusDegraded},
		{model.StatusReconnecting, StatusDegraded},
		{model.StatusDisconnected, StatusOffline},
	}

	for _, tt := range tests {
		tr := NewTracker(nil)
		tr.ReportConnection(tt.conn)
		if got := tr.Snapshot().Status; got != tt.want {
			t.Errorf("connection %s: status = %s, want %s", tt.conn, got, tt.want)
		}
	}
}

func TestTracker_CountsReconnectTransitions(t *testing.T) {
	tr := NewTracker(nil)

	tr.ReportConnection(model.StatusConnected)
	tr.ReportConnection(model.StatusReconnecting)
	tr.ReportConnection(model.StatusReconnecting) // same state, not a new transition
	tr.ReportConnection(model.StatusConnected)
	tr.ReportConnection(model.StatusReconnecting)

	if got := tr.Snapshot().Reconnects; got != 2 {
		t.Errorf("reconnects = %d, want 2", got)
	}
}

func TestTracker_Reports(t *testing.T) {
	tr := NewTracker(nil)

	tr.ReportTerminalError(errors.New("reconnect attempts exhausted"))
	tr.ReportMalformedEvent("location_update", errors.New("missing order_id"))

	snap := tr.Snapshot()
	if snap.TerminalFailures != 1 {
		t.Errorf("terminal failures = %d, want 1", snap.TerminalFailures)
	}
	if snap.MalformedEvents != 1 {
		t.Errorf("malformed events = %d, want 1", snap.MalformedEvents)
	}
	if snap.LastError != "missing order_id" {
		t.Errorf("last error = %q", snap.LastError)
	}
	if snap.LastErrorAt.IsZero() {
		t.Error("last error time not set")
	}
}
