// Package engine is the composition root of the realtime sync client.
// It wires the connection manager, subscription registry, event
// reconciler, offline outbox, notification center, and health tracker
// together and exposes the facade the app layer talks to.
package engine
