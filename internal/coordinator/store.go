package coordinator

import (
	"sync"

	"github.com/greyfell/hubsync/internal/hub"
)

// Store is the in-memory snapshot cache: the ordered device sequence as
// last reported by the hub plus an id index over it. The two structures
// always describe the same inventory.
//
// Writers replace or patch under the write lock; readers get deep copies,
// so a returned snapshot is never mutated behind the caller's back.
type Store struct {
	mu    sync.RWMutex
	snap  *hub.Snapshot
	index map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		snap:  &hub.Snapshot{},
		index: make(map[string]int),
	}
}

// MergeFull atomically replaces the cached inventory. The index is
// rebuilt in the same critical section, so readers never observe the
// sequence and index disagreeing. Applying the same snapshot twice
// leaves the store unchanged.
func (s *Store) MergeFull(snap *hub.Snapshot) {
	fresh := snap.Copy()
	index := make(map[string]int, len(fresh.Msg))
	for i := range fresh.Msg {
		index[fresh.Msg[i].Me] = i
	}

	s.mu.Lock()
	s.snap = fresh
	s.index = index
	s.mu.Unlock()
}

// MergeDelta patches a single channel value in place. Only the value is
// overwritten; any other channel metadata is preserved. A delta for a
// channel the device has not reported before creates the channel with
// just the value. Deltas for unknown devices are dropped; the return
// value reports whether the delta was applied.
func (s *Store) MergeDelta(update hub.StateUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[update.Me]
	if !ok {
		return false
	}

	dev := &s.snap.Msg[i]
	if dev.Data == nil {
		dev.Data = make(map[string]hub.ChannelRecord)
	}
	rec := dev.Data[update.Idx]
	rec.V = update.Val
	dev.Data[update.Idx] = rec
	return true
}

// ReplaceDevice overwrites the record for one device with a freshly
// queried snapshot, keeping its position in the sequence. Unknown
// devices are appended.
func (s *Store) ReplaceDevice(dev hub.DeviceSnapshot) {
	cp := dev.Copy()

	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[cp.Me]; ok {
		s.snap.Msg[i] = cp
		return
	}
	s.snap.Msg = append(s.snap.Msg, cp)
	s.index[cp.Me] = len(s.snap.Msg) - 1
}

// Snapshot returns a deep copy of the full inventory.
func (s *Store) Snapshot() *hub.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Copy()
}

// Device returns a deep copy of one device's record.
func (s *Store) Device(deviceID string) (hub.DeviceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[deviceID]
	if !ok {
		return hub.DeviceSnapshot{}, false
	}
	return s.snap.Msg[i].Copy(), true
}

// Len returns the number of cached devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap.Msg)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.snap = &hub.Snapshot{}
	s.index = make(map[string]int)
	s.mu.Unlock()
}
