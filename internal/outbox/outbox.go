package outbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetline/realtime/internal/model"
	"github.com/fleetline/realtime/internal/transport"
)

// ErrFlushInProgress is returned when a flush is already draining the queues.
var ErrFlushInProgress = errors.New("flush already in progress")

// Outbox buffers outbound actions issued while disconnected and flushes them
// in creation order once connectivity resumes. Chat messages and location
// pings are separate FIFO queues; an action leaves its queue only after a
// confirmed send.
type Outbox struct {
	logger *slog.Logger

	mu          sync.Mutex
	messages    []model.QueuedAction
	locations   []model.QueuedAction
	syncPending bool
	flushing    bool
}

// NewOutbox creates an empty outbox.
func NewOutbox(logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{logger: logger}
}

// EnqueueMessage appends a chat message action to its queue, stamped with a
// client-assigned id and creation time.
func (o *Outbox) EnqueueMessage(payload json.RawMessage) model.QueuedAction {
	return o.enqueue(&o.messages, model.ActionSendMessage, payload)
}

// EnqueueLocationPing appends a location ping action to its queue.
func (o *Outbox) EnqueueLocationPing(payload json.RawMessage) model.QueuedAction {
	return o.enqueue(&o.locations, model.ActionLocationPing, payload)
}

func (o *Outbox) enqueue(queue *[]model.QueuedAction, typ model.ActionType, payload json.RawMessage) model.QueuedAction {
	action := model.QueuedAction{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UnixMicro(),
	}

	o.mu.Lock()
	*queue = append(*queue, action)
	o.syncPending = true
	pending := len(o.messages) + len(o.locations)
	o.mu.Unlock()

	o.logger.Debug("action enqueued", "type", typ, "id", action.ID, "pending", pending)
	return action
}

// Flush drains each queue strictly from head to tail, sending one action at
// a time. On the first failed send the affected queue halts with its
// unflushed suffix intact and in order; the other queue is still attempted.
// sync_pending clears only when both queues fully drain.
func (o *Outbox) Flush(sender transport.Sender) error {
	o.mu.Lock()
	if o.flushing {
		o.mu.Unlock()
		return ErrFlushInProgress
	}
	o.flushing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.flushing = false
		o.mu.Unlock()
	}()

	msgErr := o.drain(&o.messages, sender)
	locErr := o.drain(&o.locations, sender)

	o.mu.Lock()
	if len(o.messages) == 0 && len(o.locations) == 0 {
		o.syncPending = false
	}
	o.mu.Unlock()

	return errors.Join(msgErr, locErr)
}

// drain sends queue entries head to tail, removing each only after its send
// is confirmed.
func (o *Outbox) drain(queue *[]model.QueuedAction, sender transport.Sender) error {
	for {
		o.mu.Lock()
		if len(*queue) == 0 {
			o.mu.Unlock()
			return nil
		}
		action := (*queue)[0]
		o.mu.Unlock()

		data, err := json.Marshal(transport.Envelope{
			Type: string(action.Type),
			ID:   action.ID,
			Data: action.Payload,
		})
		if err != nil {
			// Unmarshalable payloads cannot ever send; drop rather than wedge the queue.
			o.logger.Error("dropping unmarshalable action", "id", action.ID, "error", err)
			o.mu.Lock()
			*queue = (*queue)[1:]
			o.mu.Unlock()
			continue
		}

		if err := sender.Send(data); err != nil {
			o.logger.Warn("flush halted, keeping queued suffix",
				"type", action.Type, "id", action.ID, "error", err)
			return err
		}

		o.mu.Lock()
		*queue = (*queue)[1:]
		o.mu.Unlock()
	}
}

// SyncPending reports whether any enqueued action has not yet been confirmed.
func (o *Outbox) SyncPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncPending
}

// PendingMessages returns the number of queued chat message actions.
func (o *Outbox) PendingMessages() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// PendingLocations returns the number of queued location ping actions.
func (o *Outbox) PendingLocations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.locations)
}

// Snapshot returns copies of both queues in flush order.
func (o *Outbox) Snapshot() (messages, locations []model.QueuedAction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	messages = make([]model.QueuedAction, len(o.messages))
	copy(messages, o.messages)
	locations = make([]model.QueuedAction, len(o.locations))
	copy(locations, o.locations)
	return messages, locations
}
