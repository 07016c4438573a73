// Package connection implements the ConnectionManager component.
//
// The connection manager:
//   - Owns the single transport connection and its lifecycle state
//   - Fails fast when the session credential is absent or expired
//   - Reconnects with exponential backoff up to a configured attempt cap
//   - Runs resubscribe/flush hooks on every successful (re)connect
//   - Exposes a stable inbound frame channel across reconnects
//
// All other components treat connectivity as a read-only query through the
// Send/IsConnected surface; only this package mutates the connection.
package connection
