package telemetry

import (
	"context"
	"time"

	"github.com/greyfell/hubsync/internal/coordinator"
)

// Sink is the time-series capability the recorder needs.
// *influxdb.Client implements it; tests substitute fakes.
type Sink interface {
	WriteChannelValue(deviceID, deviceType, channel string, value any, ts time.Time)
}

// InfluxSink forwards channel changes to a time-series sink. Writes are
// buffered inside the sink, so this loop never blocks on the database.
type InfluxSink struct {
	sink Sink
}

// NewInfluxSink creates a sink forwarder.
func NewInfluxSink(sink Sink) *InfluxSink {
	return &InfluxSink{sink: sink}
}

// Run drains the event stream until the context ends or the channel
// closes. Call it on its own goroutine.
func (s *InfluxSink) Run(ctx context.Context, events <-chan coordinator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != coordinator.EventStateChanged {
				continue
			}
			s.sink.WriteChannelValue(e.DeviceID, e.DeviceType, e.Channel, e.Value, e.Time)
		}
	}
}
