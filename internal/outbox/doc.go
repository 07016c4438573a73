// Package outbox implements the OfflineOutbox component.
//
// Actions issued while disconnected are held in two FIFO queues (chat
// messages, location pings) and flushed strictly in creation order after
// every connected transition. A failed send halts its queue with the
// unflushed suffix intact; nothing is dropped without a confirmed send.
package outbox
