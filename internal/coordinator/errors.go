package coordinator

import "errors"

var (
	// ErrUpdateFailed indicates a full refresh exhausted all attempts.
	ErrUpdateFailed = errors.New("coordinator: update failed")

	// ErrCommandTimeout indicates a device command did not complete in time.
	ErrCommandTimeout = errors.New("coordinator: command timed out")

	// ErrUnknownDevice indicates the device id is not in the cached inventory.
	ErrUnknownDevice = errors.New("coordinator: unknown device")

	// ErrStopped indicates the coordinator has been shut down.
	ErrStopped = errors.New("coordinator: stopped")
)
