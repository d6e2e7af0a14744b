package mqtt

import "testing"

func TestTopics(t *testing.T) {
	var topics Topics

	if got, want := topics.Availability(), "hubsync/availability"; got != want {
		t.Errorf("Availability() = %q, want %q", got, want)
	}
	if got, want := topics.ChannelState("dev1", "L1"), "hubsync/state/dev1/L1"; got != want {
		t.Errorf("ChannelState() = %q, want %q", got, want)
	}
	if got, want := topics.DeviceEvent("dev1"), "hubsync/event/dev1"; got != want {
		t.Errorf("DeviceEvent() = %q, want %q", got, want)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 0, false); err != ErrInvalidTopic {
		t.Errorf("empty topic: got %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("hubsync/state/a/b", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("qos 3: got %v, want ErrInvalidQoS", err)
	}
}
