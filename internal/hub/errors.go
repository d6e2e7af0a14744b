package hub

import "errors"

var (
	// ErrTimeout indicates an operation did not complete within its deadline.
	ErrTimeout = errors.New("hub: operation timed out")

	// ErrMalformed indicates a response that could not be decoded or is
	// missing required fields.
	ErrMalformed = errors.New("hub: malformed response")

	// ErrNotConnected indicates an operation was attempted while disconnected.
	ErrNotConnected = errors.New("hub: not connected")

	// ErrConnectionFailed indicates the hub could not be reached or the
	// login handshake was rejected.
	ErrConnectionFailed = errors.New("hub: connection failed")

	// ErrConnectionLost indicates the connection dropped mid-operation.
	ErrConnectionLost = errors.New("hub: connection lost")

	// ErrRequestRejected indicates the hub answered with a non-zero code.
	ErrRequestRejected = errors.New("hub: request rejected")

	// ErrClosed indicates the client has been shut down.
	ErrClosed = errors.New("hub: client closed")
)
