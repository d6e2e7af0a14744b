package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/greyfell/hubsync/internal/coordinator"
	"github.com/greyfell/hubsync/internal/infrastructure/mqtt"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Publisher is the MQTT capability the state publisher needs.
// *mqtt.Client implements it; tests substitute fakes.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// statePayload is the JSON body published on channel state topics.
type statePayload struct {
	Value      any       `json:"value"`
	DeviceType string    `json:"device_type,omitempty"`
	Time       time.Time `json:"time"`
}

// StatePublisher mirrors coordinator events onto the MQTT topic tree.
// Channel changes become retained state messages; availability
// transitions update the retained availability topic. Publishing is
// best-effort and never blocks the sync path beyond the client's own
// publish timeout.
type StatePublisher struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// NewStatePublisher creates a publisher using the given MQTT client.
func NewStatePublisher(pub Publisher, qos byte, logger Logger) *StatePublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatePublisher{pub: pub, qos: qos, logger: logger}
}

// Run drains the event stream until the context ends or the channel
// closes. Call it on its own goroutine.
func (p *StatePublisher) Run(ctx context.Context, events <-chan coordinator.Event) {
	// Announce presence up front so subscribers see "online" before the
	// first state message.
	p.publishAvailability(true)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			p.handle(e)
		}
	}
}

func (p *StatePublisher) handle(e coordinator.Event) {
	switch e.Type {
	case coordinator.EventStateChanged:
		payload, err := json.Marshal(statePayload{
			Value:      e.Value,
			DeviceType: e.DeviceType,
			Time:       e.Time,
		})
		if err != nil {
			p.logger.Warn("failed to encode state payload",
				"device", e.DeviceID, "error", err)
			return
		}
		topic := p.topics.ChannelState(e.DeviceID, e.Channel)
		if err := p.pub.Publish(topic, payload, p.qos, true); err != nil {
			p.logger.Warn("failed to publish state", "topic", topic, "error", err)
		}
	case coordinator.EventAvailability:
		p.publishAvailability(e.Available)
	case coordinator.EventFullRefresh:
		// Full refreshes are not mirrored per-channel; retained state
		// converges through subsequent deltas.
	}
}

func (p *StatePublisher) publishAvailability(online bool) {
	status := "offline"
	if online {
		status = "online"
	}
	if err := p.pub.Publish(p.topics.Availability(), []byte(status), p.qos, true); err != nil {
		p.logger.Warn("failed to publish availability", "error", err)
	}
}
