// Package api exposes the device cache over HTTP: a versioned REST
// surface for reads, commands and operational introspection, plus a
// WebSocket endpoint streaming coordinator events.
package api
