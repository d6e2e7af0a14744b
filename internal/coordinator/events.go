package coordinator

import "time"

// EventType classifies coordinator events.
type EventType string

// Event types delivered to subscribers.
const (
	// EventStateChanged is a single channel value change.
	EventStateChanged EventType = "state_changed"
	// EventFullRefresh announces that the whole inventory was replaced.
	EventFullRefresh EventType = "full_refresh"
	// EventAvailability announces an availability transition.
	EventAvailability EventType = "availability"
)

// Event is one coordinator notification. DeviceID, DeviceType, Channel
// and Value are set for state changes; Available is meaningful for
// availability events.
type Event struct {
	Type       EventType `json:"type"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Value      any       `json:"value,omitempty"`
	Available  bool      `json:"available"`
	Time       time.Time `json:"time"`
}

// subscriberBuffer bounds each subscriber's event queue. Slow consumers
// lose events rather than stalling the sync path.
const subscriberBuffer = 64

// Metrics is a point-in-time view of the coordinator's counters.
type Metrics struct {
	Available        bool   `json:"available"`
	Devices          int    `json:"devices"`
	ListenerState    string `json:"listener_state"`
	PollSuccesses    uint64 `json:"poll_successes"`
	PollFailures     uint64 `json:"poll_failures"`
	PushEvents       uint64 `json:"push_events"`
	DeltasDropped    uint64 `json:"deltas_dropped"`
	CommandsSent     uint64 `json:"commands_sent"`
	CommandTimeouts  uint64 `json:"command_timeouts"`
	ListenerRestarts uint64 `json:"listener_restarts"`
	GiveUps          uint64 `json:"give_ups"`
	EventsDropped    uint64 `json:"events_dropped"`
}
