// Package database provides the PostgreSQL connection pool for the optional
// event archiver. The core sync engine owns no persisted state; this pool is
// used only by the archiver sidecar.
package database
