// Package history records channel state changes to SQLite and serves
// recent-change queries for the API.
package history
