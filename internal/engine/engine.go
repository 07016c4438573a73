package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetline/realtime/internal/archive"
	"github.com/fleetline/realtime/internal/config"
	"github.com/fleetline/realtime/internal/connection"
	"github.com/fleetline/realtime/internal/health"
	"github.com/fleetline/realtime/internal/model"
	"github.com/fleetline/realtime/internal/notify"
	"github.com/fleetline/realtime/internal/outbox"
	"github.com/fleetline/realtime/internal/reconcile"
	"github.com/fleetline/realtime/internal/subscription"
)

// Engine composes the connection manager, subscription registry, event
// reconciler, offline outbox, notification center, and health tracker into
// one realtime sync facade for the app layer.
//
// All methods are safe for concurrent use. Enqueue-style methods never
// block on the network: sends ride on a background flush.
type Engine struct {
	logger *slog.Logger

	manager    connection.Manager
	registry   *subscription.Registry
	reconciler *reconcile.Reconciler
	outbox     *outbox.Outbox
	center     *notify.Center
	health     *health.Tracker
	archiver   *archive.Archiver // optional

	pumpOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	dial     connection.DialFunc
	archiver *archive.Archiver
}

// WithDialFunc substitutes the transport dialer. Used by tests.
func WithDialFunc(dial connection.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithArchiver attaches an event archiver that receives every reconciled
// status change and stored notification.
func WithArchiver(a *archive.Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// New assembles an engine from configuration.
func New(cfg config.EngineConfig, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mgrCfg := connection.ManagerConfig{
		URL:                  cfg.Backend.WSURL,
		HandshakeTimeout:     cfg.Connection.HandshakeTimeout,
		PingInterval:         cfg.Connection.PingInterval,
		PingTimeout:          cfg.Connection.PingTimeout,
		WriteTimeout:         cfg.Connection.WriteTimeout,
		ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Connection.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.Connection.ReconnectMaxAttempts,
		BufferSize:           cfg.Connection.BufferSize,
	}

	prefs := notify.Preferences{
		Email:      cfg.Notifications.Preferences.Email,
		SMS:        cfg.Notifications.Preferences.SMS,
		Push:       cfg.Notifications.Preferences.Push,
		QuietStart: cfg.Notifications.Preferences.QuietStart,
		QuietEnd:   cfg.Notifications.Preferences.QuietEnd,
	}

	e := &Engine{
		logger:   logger,
		manager:  connection.NewManager(mgrCfg, o.dial, logger),
		outbox:   outbox.NewOutbox(logger),
		center:   notify.NewCenter(cfg.Notifications.MaxStored, prefs, logger),
		health:   health.NewTracker(logger),
		archiver: o.archiver,
		done:     make(chan struct{}),
	}

	e.registry = subscription.NewRegistry(e.manager, logger)
	e.reconciler = reconcile.NewReconciler(e.notificationSink(), e.health, logger)

	if e.archiver != nil {
		e.reconciler.SetStatusObserver(e.archiver.RecordStatusChange)
	}

	// Every successful (re)connect replays the subscription set, then
	// drains queued offline actions in order.
	e.manager.OnConnected(func() {
		e.registry.ReplayAll()
		e.flushOutbox()
	})
	e.manager.OnStatusChange(e.health.ReportConnection)
	e.manager.OnTerminalError(e.health.ReportTerminalError)

	return e
}

// notificationSink builds the reconciler's notifier: the notification
// center first, then the archiver for anything the center accepted.
func (e *Engine) notificationSink() reconcile.Notifier {
	return notifierFunc(func(n model.Notification) bool {
		stored := e.center.Record(n)
		if stored && e.archiver != nil {
			e.archiver.RecordNotification(n)
		}
		return stored
	})
}

type notifierFunc func(model.Notification) bool

func (f notifierFunc) Record(n model.Notification) bool { return f(n) }

// Connect establishes the realtime connection with the given credential
// and starts consuming inbound events. Safe to call again after a
// disconnect; the inbound pump persists across reconnects.
func (e *Engine) Connect(ctx context.Context, cred connection.Credential) error {
	if err := e.manager.Connect(ctx, cred); err != nil {
		return err
	}
	e.pumpOnce.Do(func() {
		e.wg.Add(1)
		go e.pump()
	})
	return nil
}

// Disconnect tears down the connection. Subscriptions and queued actions
// survive for the next connect.
func (e *Engine) Disconnect() {
	e.manager.Disconnect()
}

// Close disconnects and stops the inbound pump. The engine cannot be
// reused afterwards.
func (e *Engine) Close() {
	e.manager.Disconnect()
	close(e.done)
	e.wg.Wait()
}

// pump feeds inbound frames into the reconciler until Close.
func (e *Engine) pump() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case msg, ok := <-e.manager.Messages():
			if !ok {
				return
			}
			e.reconciler.Apply(msg)
		}
	}
}

// SubscribeOrderTracking follows location, status, and ETA events for an order.
func (e *Engine) SubscribeOrderTracking(orderID string) {
	e.registry.Subscribe(subscription.KindOrderTracking, orderID, subscription.Metadata{})
}

// UnsubscribeOrderTracking stops following an order. No-op if not subscribed.
func (e *Engine) UnsubscribeOrderTracking(orderID string) {
	e.registry.Unsubscribe(subscription.KindOrderTracking, orderID)
}

// SubscribeNotificationFeed follows the per-user notification stream.
func (e *Engine) SubscribeNotificationFeed(userID string, channels []string) {
	e.registry.Subscribe(subscription.KindNotificationFeed, userID, subscription.Metadata{Channels: channels})
}

// UnsubscribeNotificationFeed stops the per-user notification stream.
func (e *Engine) UnsubscribeNotificationFeed(userID string) {
	e.registry.Unsubscribe(subscription.KindNotificationFeed, userID)
}

// SubscribeMessaging follows a conversation thread.
func (e *Engine) SubscribeMessaging(threadID string, participants []string) {
	e.registry.Subscribe(subscription.KindMessaging, threadID, subscription.Metadata{Participants: participants})
}

// UnsubscribeMessaging leaves a conversation thread.
func (e *Engine) UnsubscribeMessaging(threadID string) {
	e.registry.Unsubscribe(subscription.KindMessaging, threadID)
}

// SubscribeSystemAlerts follows platform-wide announcements.
func (e *Engine) SubscribeSystemAlerts(alertTypes []string) {
	e.registry.Subscribe(subscription.KindSystemAlerts, "", subscription.Metadata{AlertTypes: alertTypes})
}

// UnsubscribeSystemAlerts stops platform-wide announcements.
func (e *Engine) UnsubscribeSystemAlerts() {
	e.registry.Unsubscribe(subscription.KindSystemAlerts, "")
}

// SendChatMessage queues an outbound chat message and flushes in the
// background when connected. Never blocks on the network.
func (e *Engine) SendChatMessage(payload json.RawMessage) model.QueuedAction {
	action := e.outbox.EnqueueMessage(payload)
	e.kickFlush()
	return action
}

// SendLocationPing queues an outbound location ping and flushes in the
// background when connected. Never blocks on the network.
func (e *Engine) SendLocationPing(payload json.RawMessage) model.QueuedAction {
	action := e.outbox.EnqueueLocationPing(payload)
	e.kickFlush()
	return action
}

// kickFlush attempts a background outbox flush if the transport is up.
func (e *Engine) kickFlush() {
	if !e.manager.IsConnected() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.flushOutbox()
	}()
}

func (e *Engine) flushOutbox() {
	err := e.outbox.Flush(e.manager)
	if err != nil && !errors.Is(err, outbox.ErrFlushInProgress) {
		e.logger.Warn("outbox flush incomplete", "error", err)
	}
}

// SyncPending reports whether queued actions still await delivery.
func (e *Engine) SyncPending() bool { return e.outbox.SyncPending() }

// Notifications returns stored notifications, most recent first.
func (e *Engine) Notifications() []model.Notification { return e.center.List() }

// UnreadCount returns the number of unread notifications.
func (e *Engine) UnreadCount() int { return e.center.UnreadCount() }

// MarkRead marks one notification as read. Idempotent.
func (e *Engine) MarkRead(id string) bool { return e.center.MarkRead(id) }

// MarkAllRead marks every stored notification as read.
func (e *Engine) MarkAllRead() { e.center.MarkAllRead() }

// SetPreferences replaces the delivery-channel preferences.
func (e *Engine) SetPreferences(p notify.Preferences) { e.center.SetPreferences(p) }

// Route returns the external channels a notification may use right now.
func (e *Engine) Route(n model.Notification) []notify.DeliveryChannel {
	return e.center.Route(n, time.Now())
}

// Location returns the freshest known courier location for an order.
func (e *Engine) Location(orderID string) (model.LocationUpdate, bool) {
	return e.reconciler.Location(orderID)
}

// StatusHistory returns the full status transition log for an order.
func (e *Engine) StatusHistory(orderID string) []model.StatusChange {
	return e.reconciler.StatusHistory(orderID)
}

// Messages returns the stored chat messages for a thread.
func (e *Engine) Messages(threadID string) []model.ChatMessage {
	return e.reconciler.Messages(threadID)
}

// Assignment returns the courier assigned to an order, if any.
func (e *Engine) Assignment(orderID string) (model.CourierAssignment, bool) {
	return e.reconciler.Assignment(orderID)
}

// ETA returns the latest delivery estimate for an order, if any.
func (e *Engine) ETA(orderID string) (model.ETAUpdate, bool) {
	return e.reconciler.ETA(orderID)
}

// Alerts returns stored system alerts.
func (e *Engine) Alerts() []model.SystemAlert { return e.reconciler.Alerts() }

// ConnectionState returns a snapshot of the connection lifecycle.
func (e *Engine) ConnectionState() connection.State { return e.manager.State() }

// Health returns the aggregate health snapshot.
func (e *Engine) Health() health.Snapshot { return e.health.Snapshot() }

// Stats returns reconciler counters.
func (e *Engine) Stats() reconcile.Stats { return e.reconciler.Stats() }
