package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetline/realtime/internal/model"
)

// Config configures the event archiver.
type Config struct {
	InstanceID    string        // Client instance id stamped on every row
	BatchSize     int           // Rows per batch before an early flush
	FlushInterval time.Duration // Max time a row waits in the batch
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Metrics contains archiver counters.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// statusRow is the insert shape for the status_changes table.
type statusRow struct {
	InstanceID     string
	OrderID        string
	PreviousStatus string
	NewStatus      string
	ExchangeTS     int64
	ReceivedAt     int64
}

// notificationRow is the insert shape for the notifications table.
type notificationRow struct {
	InstanceID string
	ID         string
	Type       string
	Title      string
	Message    string
	Timestamp  int64
	OrderID    string
}

// Archiver batches reconciled status changes and derived notifications and
// bulk-inserts them into Postgres. It is a diagnostics sidecar: the sync
// engine itself owns no persisted state and runs fine without it.
type Archiver struct {
	cfg    Config
	logger *slog.Logger
	db     *pgxpool.Pool

	batchMu     sync.Mutex
	statusBatch []statusRow
	notifBatch  []notificationRow
	metrics     Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiver creates an event archiver writing through the given pool.
func NewArchiver(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		statusBatch: make([]statusRow, 0, cfg.BatchSize),
		notifBatch:  make([]notificationRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.flushLoop()

	a.logger.Info("event archiver started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop drains outstanding batches and shuts down.
func (a *Archiver) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("archiver stop timed out")
	}

	a.flush()
	a.logger.Info("event archiver stopped")
	return nil
}

// RecordStatusChange enqueues a status transition for archiving.
func (a *Archiver) RecordStatusChange(change model.StatusChange) {
	row := a.transformStatus(change)

	a.batchMu.Lock()
	a.statusBatch = append(a.statusBatch, row)
	shouldFlush := len(a.statusBatch) >= a.cfg.BatchSize
	a.batchMu.Unlock()

	if shouldFlush {
		a.flush()
	}
}

// RecordNotification enqueues a derived notification for archiving.
func (a *Archiver) RecordNotification(n model.Notification) {
	row := a.transformNotification(n)

	a.batchMu.Lock()
	a.notifBatch = append(a.notifBatch, row)
	shouldFlush := len(a.notifBatch) >= a.cfg.BatchSize
	a.batchMu.Unlock()

	if shouldFlush {
		a.flush()
	}
}

// Stats returns current counters.
func (a *Archiver) Stats() Metrics {
	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	return a.metrics
}

func (a *Archiver) transformStatus(change model.StatusChange) statusRow {
	return statusRow{
		InstanceID:     a.cfg.InstanceID,
		OrderID:        change.OrderID,
		PreviousStatus: change.PreviousStatus,
		NewStatus:      change.NewStatus,
		ExchangeTS:     change.ExchangeTS,
		ReceivedAt:     change.ReceivedAt,
	}
}

func (a *Archiver) transformNotification(n model.Notification) notificationRow {
	return notificationRow{
		InstanceID: a.cfg.InstanceID,
		ID:         n.ID,
		Type:       string(n.Type),
		Title:      n.Title,
		Message:    n.Message,
		Timestamp:  n.Timestamp,
		OrderID:    n.OrderID,
	}
}

// flushLoop periodically flushes both batches.
func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// flush writes both batches to the database.
func (a *Archiver) flush() {
	a.batchMu.Lock()
	statuses := a.statusBatch
	notifs := a.notifBatch
	a.statusBatch = make([]statusRow, 0, a.cfg.BatchSize)
	a.notifBatch = make([]notificationRow, 0, a.cfg.BatchSize)
	a.batchMu.Unlock()

	if len(statuses) == 0 && len(notifs) == 0 {
		return
	}

	start := time.Now()
	inserted := 0

	if len(statuses) > 0 {
		n, err := a.copyStatuses(statuses)
		if err != nil {
			a.logger.Error("status batch insert failed", "error", err, "count", len(statuses))
			a.batchMu.Lock()
			a.metrics.Errors++
			a.batchMu.Unlock()
		} else {
			inserted += n
		}
	}

	if len(notifs) > 0 {
		n, err := a.copyNotifications(notifs)
		if err != nil {
			a.logger.Error("notification batch insert failed", "error", err, "count", len(notifs))
			a.batchMu.Lock()
			a.metrics.Errors++
			a.batchMu.Unlock()
		} else {
			inserted += n
		}
	}

	a.batchMu.Lock()
	a.metrics.Inserts += int64(inserted)
	a.metrics.Flushes++
	a.batchMu.Unlock()

	a.logger.Debug("archive flushed",
		"statuses", len(statuses),
		"notifications", len(notifs),
		"duration", time.Since(start),
	)
}

func (a *Archiver) copyStatuses(rows []statusRow) (int, error) {
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.InstanceID, r.OrderID, r.PreviousStatus, r.NewStatus, r.ExchangeTS, r.ReceivedAt}, nil
	})

	n, err := a.db.CopyFrom(
		context.Background(),
		pgx.Identifier{"status_changes"},
		[]string{"instance_id", "order_id", "previous_status", "new_status", "exchange_ts", "received_at"},
		src,
	)
	return int(n), err
}

func (a *Archiver) copyNotifications(rows []notificationRow) (int, error) {
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.InstanceID, r.ID, r.Type, r.Title, r.Message, r.Timestamp, r.OrderID}, nil
	})

	n, err := a.db.CopyFrom(
		context.Background(),
		pgx.Identifier{"notifications"},
		[]string{"instance_id", "id", "type", "title", "message", "ts", "order_id"},
		src,
	)
	return int(n), err
}
