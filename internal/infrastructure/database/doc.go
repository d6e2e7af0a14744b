// Package database provides the SQLite connection and migration runner
// for hubsync.
//
// SQLite is configured for single-writer operation with WAL mode and a
// busy timeout, matching its concurrency model. Migrations are embedded
// into the binary by the top-level migrations package and applied on
// startup, each in its own transaction.
package database
