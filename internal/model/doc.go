// Package model defines shared data types used across the realtime sync engine.
//
// Conventions:
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: backend-assigned ids are strings; client-assigned ids are uuid strings
//   - Events carry both the backend timestamp (ExchangeTS) and the local
//     receive timestamp (ReceivedAt); conflict resolution always uses ExchangeTS
package model
