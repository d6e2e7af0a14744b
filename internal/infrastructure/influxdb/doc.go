// Package influxdb provides the optional time-series sink for channel
// telemetry. Each channel value change becomes a point in the
// channel_state measurement, tagged by device and channel, written
// through the batching non-blocking API.
package influxdb
