// Package transport implements the WebSocket client used by the realtime
// sync engine.
//
// The client:
//   - Dials with a bearer session token
//   - Serializes writes and enforces write deadlines
//   - Emits every inbound frame on Messages() with a receive timestamp
//   - Runs a keepalive ping loop and reports stale connections on Errors()
//
// Reconnection policy lives in the connection package; a client instance is
// single-use and is replaced on every (re)connect.
package transport
