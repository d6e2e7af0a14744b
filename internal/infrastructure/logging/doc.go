// Package logging provides structured logging for hubsync.
//
// It wraps log/slog with configuration-driven format and level selection
// and stamps every record with the service name and build version.
package logging
