package hub

// ChannelRecord is the state of a single channel (sub-device) on a device.
// V holds the raw channel value as reported by the hub; its concrete type
// depends on the device (bool for switches, float64 for sensors, strings
// for modes).
type ChannelRecord struct {
	Name string `json:"name,omitempty"`
	V    any    `json:"v"`
}

// DeviceSnapshot is the full state of one device: identity plus a map of
// channel records keyed by channel identifier.
type DeviceSnapshot struct {
	Me      string                   `json:"me"`
	Devtype string                   `json:"devtype"`
	Agt     string                   `json:"agt,omitempty"`
	Name    string                   `json:"name,omitempty"`
	Ver     string                   `json:"ver,omitempty"`
	Data    map[string]ChannelRecord `json:"data"`
}

// Copy returns a deep copy of the device snapshot.
func (d *DeviceSnapshot) Copy() DeviceSnapshot {
	out := *d
	if d.Data != nil {
		out.Data = make(map[string]ChannelRecord, len(d.Data))
		for k, v := range d.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Snapshot is a full-inventory response from the hub: one entry per device.
type Snapshot struct {
	Msg []DeviceSnapshot `json:"msg"`
}

// Copy returns a deep copy of the snapshot.
func (s *Snapshot) Copy() *Snapshot {
	out := &Snapshot{Msg: make([]DeviceSnapshot, len(s.Msg))}
	for i := range s.Msg {
		out.Msg[i] = s.Msg[i].Copy()
	}
	return out
}

// StateUpdate is a push notification for a single channel value change.
type StateUpdate struct {
	Me  string `json:"me"`
	Idx string `json:"idx"`
	Val any    `json:"val"`
}

// Info describes the hub itself as reported during login.
type Info struct {
	Model    string `json:"model"`
	Firmware string `json:"fw,omitempty"`
	Serial   string `json:"sn,omitempty"`
}
