// Package hub implements the client for the hub's local TCP protocol.
//
// The protocol is newline-delimited JSON over a single TCP connection.
// Requests carry a correlation id the hub echoes back in its response;
// unsolicited push frames carry channel state changes and have no
// correlation id. A background read loop demultiplexes the two streams,
// so concurrent requests and a blocked NextStateUpdate share one
// connection safely.
//
// The API interface captures the full capability set; the rest of the
// service depends on it rather than on *Client.
package hub
