// Package coordinator maintains the locally-cached, eventually-consistent
// view of all devices behind the hub.
//
// The cache is fed by three mechanisms with different freshness and cost:
//
//   - a periodic full refresh that atomically replaces the inventory,
//   - a push listener that applies single-channel deltas as the hub
//     reports them, recovering from stream failures with exponential
//     backoff,
//   - direct per-device queries that bypass the cache for callers that
//     need authoritative state right now.
//
// Consumers read deep copies and may subscribe to change events; neither
// path can observe a torn update.
package coordinator
