// Package telemetry fans coordinator events out to external sinks: an
// MQTT topic tree for live consumers and an optional InfluxDB bucket
// for time-series analysis. Both sinks are best-effort; losing one
// never affects the device cache.
package telemetry
