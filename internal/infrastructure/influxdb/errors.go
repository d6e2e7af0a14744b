package influxdb

import "errors"

var (
	// ErrDisabled indicates telemetry is turned off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed indicates the server could not be reached or is unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
