// Package archive batches reconciled delivery events into Postgres for
// offline analysis. It sits beside the sync engine rather than inside it:
// the engine never reads this data back, and archiving failures never
// affect the realtime state.
package archive
