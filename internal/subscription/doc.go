// Package subscription implements the SubscriptionRegistry component.
//
// The registry holds the set of logical channels the client wants, keyed by
// (kind, key). Duplicate subscribes replace the held entry, unsubscribing a
// missing key is a no-op, and the whole set is replayed on every connected
// transition because the backend retains no per-connection subscription
// state across a drop.
package subscription
