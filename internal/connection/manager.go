package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetline/realtime/internal/model"
	"github.com/fleetline/realtime/internal/transport"
)

// Manager owns the realtime connection's lifecycle and reconnection policy.
//
// State machine:
//
//	disconnected -(Connect)-> connecting -(ack)-> connected
//	connected -(transport loss)-> reconnecting -(ack)-> connected
//	reconnecting -(attempts exhausted)-> disconnected
//	connected/reconnecting -(Disconnect)-> disconnected
type Manager interface {
	// Connect establishes the transport with the given credential.
	// Fails fast with ErrNoCredential if the credential is absent or expired.
	Connect(ctx context.Context, cred Credential) error

	// Disconnect tears down the transport, cancels any pending reconnect,
	// and clears the attempt counter. Idempotent.
	Disconnect()

	// Send writes raw bytes to the transport, failing with
	// transport.ErrNotConnected when no connection is established.
	Send(data []byte) error

	// IsConnected reports whether the connection is currently established.
	IsConnected() bool

	// State returns a value snapshot of the connection lifecycle.
	State() State

	// Messages returns a channel of inbound frames that remains stable
	// across reconnects.
	Messages() <-chan transport.TimestampedMessage

	// OnConnected registers a hook run after every successful (re)connect.
	// The engine uses this for subscription replay and outbox flush.
	OnConnected(fn func())

	// OnStatusChange registers a hook run on every status transition.
	OnStatusChange(fn func(model.ConnectionStatus))

	// OnTerminalError registers a hook run when reconnection gives up.
	OnTerminalError(fn func(error))
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	dial   DialFunc

	// Stable inbound channel across reconnects
	messages chan transport.TimestampedMessage

	mu            sync.Mutex
	status        model.ConnectionStatus
	connID        string
	attempts      int
	lastHeartbeat time.Time
	credential    Credential
	client        transport.Client
	watchDone     chan struct{}
	retryTimer    *time.Timer
	gen           int // bumped on Disconnect; stale completions are dropped

	hookMu      sync.Mutex
	onConnected []func()
	onStatus    []func(model.ConnectionStatus)
	onTerminal  []func(error)
}

// NewManager creates a connection manager. A nil dial uses the real
// WebSocket transport.
func NewManager(cfg ManagerConfig, dial DialFunc, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if dial == nil {
		dial = func(c transport.ClientConfig, l *slog.Logger) transport.Client {
			return transport.NewClient(c, l)
		}
	}

	return &manager{
		cfg:      cfg,
		logger:   logger,
		dial:     dial,
		messages: make(chan transport.TimestampedMessage, cfg.BufferSize),
		status:   model.StatusDisconnected,
	}
}

// OnConnected registers a connected hook.
func (m *manager) OnConnected(fn func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnStatusChange registers a status transition hook.
func (m *manager) OnStatusChange(fn func(model.ConnectionStatus)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onStatus = append(m.onStatus, fn)
}

// OnTerminalError registers a terminal connectivity hook.
func (m *manager) OnTerminalError(fn func(error)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onTerminal = append(m.onTerminal, fn)
}

// Connect establishes the transport with the given credential.
func (m *manager) Connect(ctx context.Context, cred Credential) error {
	if !cred.Valid(time.Now()) {
		return ErrNoCredential
	}

	m.mu.Lock()
	if m.status == model.StatusConnected || m.status == model.StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	// An explicit Connect supersedes any pending automatic retry.
	m.cancelRetryLocked()
	m.credential = cred
	gen := m.gen
	m.setStatusLocked(model.StatusConnecting)
	m.mu.Unlock()
	m.emitStatus(model.StatusConnecting)

	client := m.dial(m.clientConfig(cred), m.logger)
	err := client.Connect(ctx)

	m.mu.Lock()
	if m.gen != gen {
		// Torn down while dialing; a late success must not resurrect it.
		m.mu.Unlock()
		client.Close()
		return nil
	}
	if err != nil {
		m.setStatusLocked(model.StatusDisconnected)
		m.mu.Unlock()
		m.emitStatus(model.StatusDisconnected)
		return err
	}
	m.adoptClientLocked(client, gen)
	m.mu.Unlock()

	m.emitStatus(model.StatusConnected)
	m.runConnectedHooks()
	return nil
}

// Disconnect tears down the transport deterministically.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.cancelRetryLocked()
	if m.watchDone != nil {
		close(m.watchDone)
		m.watchDone = nil
	}
	client := m.client
	m.client = nil
	m.connID = ""
	m.attempts = 0
	changed := m.status != model.StatusDisconnected
	m.setStatusLocked(model.StatusDisconnected)
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if changed {
		m.emitStatus(model.StatusDisconnected)
	}
}

// Send writes raw bytes to the transport.
func (m *manager) Send(data []byte) error {
	m.mu.Lock()
	client := m.client
	connected := m.status == model.StatusConnected
	m.mu.Unlock()

	if !connected || client == nil {
		return transport.ErrNotConnected
	}
	return client.Send(data)
}

// IsConnected reports whether the connection is established.
func (m *manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == model.StatusConnected
}

// State returns a snapshot of the connection lifecycle.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Status:        m.status,
		ConnID:        m.connID,
		Attempts:      m.attempts,
		LastHeartbeat: m.lastHeartbeat,
	}
}

// Messages returns the stable inbound channel.
func (m *manager) Messages() <-chan transport.TimestampedMessage {
	return m.messages
}

// clientConfig builds the transport config for a connect attempt.
func (m *manager) clientConfig(cred Credential) transport.ClientConfig {
	return transport.ClientConfig{
		URL:              m.cfg.URL,
		Token:            cred.Token,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		PingInterval:     m.cfg.PingInterval,
		PingTimeout:      m.cfg.PingTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}
}

// adoptClientLocked installs a freshly connected client and transitions to
// connected. Caller holds m.mu.
func (m *manager) adoptClientLocked(client transport.Client, gen int) {
	m.client = client
	m.connID = uuid.NewString()
	m.attempts = 0
	m.lastHeartbeat = time.Now()
	m.setStatusLocked(model.StatusConnected)

	done := make(chan struct{})
	m.watchDone = done
	go m.watch(client, gen, done)

	m.logger.Info("connected", "conn_id", m.connID)
}

// setStatusLocked records a status transition. Caller holds m.mu.
func (m *manager) setStatusLocked(status model.ConnectionStatus) {
	m.status = status
}

// cancelRetryLocked stops a pending backoff timer. Caller holds m.mu.
func (m *manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// emitStatus runs status hooks outside the state lock.
func (m *manager) emitStatus(status model.ConnectionStatus) {
	m.hookMu.Lock()
	hooks := append([]func(model.ConnectionStatus){}, m.onStatus...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn(status)
	}
}

// runConnectedHooks runs resubscribe/flush hooks after a (re)connect.
func (m *manager) runConnectedHooks() {
	m.hookMu.Lock()
	hooks := append([]func(){}, m.onConnected...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// emitTerminal reports a terminal connectivity failure.
func (m *manager) emitTerminal(err error) {
	m.hookMu.Lock()
	hooks := append([]func(error){}, m.onTerminal...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
}

// watch forwards inbound frames to the stable channel and triggers
// reconnection on transport loss.
func (m *manager) watch(client transport.Client, gen int, done chan struct{}) {
	for {
		select {
		case <-done:
			return

		case err := <-client.Errors():
			m.handleLoss(client, gen, err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.mu.Lock()
			stale := m.gen != gen || m.client != client
			if !stale {
				m.lastHeartbeat = msg.ReceivedAt
			}
			m.mu.Unlock()
			if stale {
				return
			}

			select {
			case m.messages <- msg:
			case <-done:
				return
			default:
				m.logger.Warn("inbound buffer full, dropping frame")
			}
		}
	}
}

// handleLoss reacts to an unexpected transport drop.
func (m *manager) handleLoss(client transport.Client, gen int, err error) {
	m.mu.Lock()
	if m.gen != gen || m.client != client {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.connID = ""
	m.watchDone = nil
	m.setStatusLocked(model.StatusReconnecting)
	m.scheduleRetryLocked(gen)
	m.mu.Unlock()

	client.Close()
	m.logger.Warn("transport lost, reconnecting", "error", err)
	m.emitStatus(model.StatusReconnecting)
}

// scheduleRetryLocked arms the backoff timer for the next reconnect attempt,
// or gives up once the attempt cap is exceeded. Caller holds m.mu.
func (m *manager) scheduleRetryLocked(gen int) {
	m.attempts++
	if m.attempts > m.cfg.ReconnectMaxAttempts {
		m.setStatusLocked(model.StatusDisconnected)
		m.logger.Error("reconnect attempts exhausted", "attempts", m.attempts-1)
		go func() {
			m.emitStatus(model.StatusDisconnected)
			m.emitTerminal(ErrAttemptsExhausted)
		}()
		return
	}

	delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, m.attempts)
	m.logger.Info("scheduling reconnect", "attempt", m.attempts, "delay", delay)
	m.retryTimer = time.AfterFunc(delay, func() {
		m.retryConnect(gen)
	})
}

// retryConnect performs one reconnect attempt.
func (m *manager) retryConnect(gen int) {
	m.mu.Lock()
	if m.gen != gen || m.status != model.StatusReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	cred := m.credential
	m.mu.Unlock()

	if !cred.Valid(time.Now()) {
		m.mu.Lock()
		m.setStatusLocked(model.StatusDisconnected)
		m.mu.Unlock()
		m.emitStatus(model.StatusDisconnected)
		m.emitTerminal(ErrNoCredential)
		return
	}

	client := m.dial(m.clientConfig(cred), m.logger)
	err := client.Connect(context.Background())

	m.mu.Lock()
	if m.gen != gen || m.status != model.StatusReconnecting {
		m.mu.Unlock()
		client.Close()
		return
	}
	if err != nil {
		m.logger.Warn("reconnect attempt failed", "attempt", m.attempts, "error", err)
		m.scheduleRetryLocked(gen)
		m.mu.Unlock()
		return
	}
	m.adoptClientLocked(client, gen)
	m.mu.Unlock()

	m.emitStatus(model.StatusConnected)
	// The backend does not retain per-connection state across a drop, so
	// every reconnect replays subscriptions and flushes the outbox.
	m.runConnectedHooks()
}
