package mqtt

import "fmt"

// topicPrefix is the root of the hubsync topic tree.
const topicPrefix = "hubsync"

// Topics builds topic strings for the hubsync topic tree:
//
//	hubsync/availability              retained online/offline
//	hubsync/state/<device>/<channel>  retained channel state
//	hubsync/event/<device>            non-retained push events
type Topics struct{}

// Availability returns the service availability topic.
func (Topics) Availability() string {
	return topicPrefix + "/availability"
}

// ChannelState returns the retained state topic for a device channel.
func (Topics) ChannelState(deviceID, channel string) string {
	return fmt.Sprintf("%s/state/%s/%s", topicPrefix, deviceID, channel)
}

// DeviceEvent returns the event topic for a device.
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", topicPrefix, deviceID)
}
