// Package notify implements the NotificationCenter component.
//
// Notifications are created exclusively by the reconciler, recorded here
// into a bounded most-recent-first list with id dedup and an unread counter.
// Delivery preferences and quiet hours gate external routing only.
package notify
