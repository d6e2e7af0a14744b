package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greyfell/hubsync/internal/hub"
	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

// fakeAPI is a configurable hub.API. Function fields override behavior;
// nil fields return success with empty results. NextStateUpdate blocks
// until the context ends.
type fakeAPI struct {
	mu         sync.Mutex
	discoverFn func() (*hub.Snapshot, error)
	byIDFn     func(deviceID string) (*hub.Snapshot, error)
	setFn      func(deviceID, channel string, args map[string]any) error
	keysFn     func(deviceID, category, brand string, keys []string) error

	discoverCalls int
	byIDCalls     int
	setCalls      int
}

func (f *fakeAPI) DiscoverDevices(context.Context) (*hub.Snapshot, error) {
	f.mu.Lock()
	f.discoverCalls++
	fn := f.discoverFn
	f.mu.Unlock()
	if fn == nil {
		return &hub.Snapshot{}, nil
	}
	return fn()
}

func (f *fakeAPI) DiscoverDevicesByID(_ context.Context, deviceID string) (*hub.Snapshot, error) {
	f.mu.Lock()
	f.byIDCalls++
	fn := f.byIDFn
	f.mu.Unlock()
	if fn == nil {
		return &hub.Snapshot{}, nil
	}
	return fn(deviceID)
}

func (f *fakeAPI) NextStateUpdate(ctx context.Context) (*hub.StateUpdate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeAPI) SetDeviceState(_ context.Context, deviceID, channel string, args map[string]any) error {
	f.mu.Lock()
	f.setCalls++
	fn := f.setFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(deviceID, channel, args)
}

func (f *fakeAPI) SendKeys(_ context.Context, deviceID, category, brand string, keys []string) error {
	f.mu.Lock()
	fn := f.keysFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(deviceID, category, brand, keys)
}

func (f *fakeAPI) ResetConnection() {}

func (f *fakeAPI) IsConnected() bool { return true }

func (f *fakeAPI) calls() (discover, byID, set int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoverCalls, f.byIDCalls, f.setCalls
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		PollInterval:     30,
		PollAttempts:     3,
		PollRetryDelay:   0,
		AttemptTimeout:   2,
		QueryTimeout:     2,
		CommandTimeout:   2,
		PushRetryCeiling: 5,
		PushBackoffBase:  1,
	}
}

func TestRefreshSuccess(t *testing.T) {
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) {
		return twoDeviceSnapshot(), nil
	}}
	c := New(api, testSyncConfig())

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !c.Available() {
		t.Error("Available() = false after successful refresh")
	}
	if got := c.Snapshot(); len(got.Msg) != 2 {
		t.Errorf("cached %d devices, want 2", len(got.Msg))
	}
	if info, ok := c.DeviceInfo("dev1"); !ok || info.Devtype != "SL_SW" {
		t.Errorf("DeviceInfo(dev1) = %+v, %v", info, ok)
	}
}

func TestRefreshRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) {
		if calls.Add(1) < 3 {
			return nil, hub.ErrTimeout
		}
		return twoDeviceSnapshot(), nil
	}}
	c := New(api, testSyncConfig())

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v, want success on third attempt", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("discover called %d times, want 3", got)
	}
}

func TestRefreshAllAttemptsTimeOut(t *testing.T) {
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) {
		return nil, hub.ErrTimeout
	}}
	c := New(api, testSyncConfig())

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("error = %v, want ErrUpdateFailed", err)
	}
	if c.Available() {
		t.Error("Available() = true after exhausted refresh")
	}
	discover, _, _ := api.calls()
	if discover != 3 {
		t.Errorf("discover called %d times, want 3", discover)
	}
}

func TestRefreshNonTimeoutFailsImmediately(t *testing.T) {
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) {
		return nil, hub.ErrConnectionLost
	}}
	c := New(api, testSyncConfig())

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, hub.ErrConnectionLost) {
		t.Fatalf("error = %v, want ErrUpdateFailed wrapping the hub error", err)
	}
	discover, _, _ := api.calls()
	if discover != 1 {
		t.Errorf("discover called %d times, want no retry on non-timeout", discover)
	}
}

func TestGetDeviceDataCollapsesConcurrentQueries(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var hubCalls atomic.Int32

	api := &fakeAPI{byIDFn: func(deviceID string) (*hub.Snapshot, error) {
		if hubCalls.Add(1) == 1 {
			close(started)
			<-release
		}
		return &hub.Snapshot{Msg: []hub.DeviceSnapshot{{
			Me: deviceID, Devtype: "SL_SW",
			Data: map[string]hub.ChannelRecord{"L1": {V: true}},
		}}}, nil
	}}
	c := New(api, testSyncConfig())

	const callers = 5
	var wg sync.WaitGroup
	results := make([]hub.DeviceSnapshot, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n == 0 {
				results[n], errs[n] = c.GetDeviceData(context.Background(), "dev1")
				return
			}
			<-started // all joiners arrive while the first call is in flight
			results[n], errs[n] = c.GetDeviceData(context.Background(), "dev1")
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond) // let the joiners queue on the flight
	close(release)
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Me != "dev1" {
			t.Errorf("caller %d got device %q", i, results[i].Me)
		}
	}
	if got := hubCalls.Load(); got != 1 {
		t.Errorf("hub queried %d times for concurrent callers, want 1", got)
	}
}

func TestGetDeviceDataRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	api := &fakeAPI{byIDFn: func(deviceID string) (*hub.Snapshot, error) {
		if calls.Add(1) < 3 {
			return nil, hub.ErrTimeout
		}
		return &hub.Snapshot{Msg: []hub.DeviceSnapshot{{
			Me: deviceID, Devtype: "SL_SW",
			Data: map[string]hub.ChannelRecord{"L1": {V: true}},
		}}}, nil
	}}
	c := New(api, testSyncConfig())

	dev, err := c.GetDeviceData(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetDeviceData() error = %v, want success on third attempt", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("hub queried %d times, want 3", got)
	}
	if dev.Me != "dev1" || dev.Data["L1"].V != true {
		t.Errorf("dev = %+v, want the third attempt's result", dev)
	}
}

func TestGetDeviceDataAllAttemptsTimeOut(t *testing.T) {
	api := &fakeAPI{byIDFn: func(string) (*hub.Snapshot, error) {
		return nil, hub.ErrTimeout
	}}
	c := New(api, testSyncConfig())

	_, err := c.GetDeviceData(context.Background(), "dev1")
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("error = %v, want ErrUpdateFailed", err)
	}
	_, byID, _ := api.calls()
	if byID != 3 {
		t.Errorf("hub queried %d times, want 3", byID)
	}
}

func TestGetDeviceDataMalformedYieldsEmpty(t *testing.T) {
	api := &fakeAPI{byIDFn: func(string) (*hub.Snapshot, error) {
		return nil, hub.ErrMalformed
	}}
	c := New(api, testSyncConfig())

	dev, err := c.GetDeviceData(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("GetDeviceData() error = %v, want malformed mapped to empty", err)
	}
	if dev.Me != "dev1" || len(dev.Data) != 0 {
		t.Errorf("dev = %+v, want empty record", dev)
	}
}

func TestGetDeviceDataUpdatesCache(t *testing.T) {
	api := &fakeAPI{
		discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil },
		byIDFn: func(deviceID string) (*hub.Snapshot, error) {
			return &hub.Snapshot{Msg: []hub.DeviceSnapshot{{
				Me: deviceID, Devtype: "SL_SW",
				Data: map[string]hub.ChannelRecord{"L1": {Name: "Kitchen", V: false}},
			}}}, nil
		},
	}
	c := New(api, testSyncConfig())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GetDeviceData(context.Background(), "dev1"); err != nil {
		t.Fatal(err)
	}

	dev, ok := c.Device("dev1")
	if !ok || dev.Data["L1"].V != false {
		t.Errorf("cache not updated from direct query: %+v", dev)
	}
}

func TestSetDeviceStateSkippedWhileUnavailable(t *testing.T) {
	api := &fakeAPI{}
	c := New(api, testSyncConfig())

	if err := c.SetDeviceState(context.Background(), "dev1", "L1", nil); err != nil {
		t.Fatalf("SetDeviceState() error = %v, want silent no-op", err)
	}
	_, _, set := api.calls()
	if set != 0 {
		t.Errorf("hub received %d commands while unavailable, want 0", set)
	}
}

func TestSetDeviceStateTimeout(t *testing.T) {
	api := &fakeAPI{
		discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil },
		setFn: func(string, string, map[string]any) error {
			return hub.ErrTimeout
		},
	}
	c := New(api, testSyncConfig())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := c.SetDeviceState(context.Background(), "dev1", "L1", map[string]any{"val": 1})
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("error = %v, want ErrCommandTimeout", err)
	}
	if c.Metrics().CommandTimeouts != 1 {
		t.Errorf("CommandTimeouts = %d, want 1", c.Metrics().CommandTimeouts)
	}
}

func TestSetDeviceStateErrorPassesThrough(t *testing.T) {
	hubErr := errors.New("hub: exploded")
	api := &fakeAPI{
		discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil },
		setFn:      func(string, string, map[string]any) error { return hubErr },
	}
	c := New(api, testSyncConfig())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := c.SetDeviceState(context.Background(), "dev1", "L1", nil)
	if !errors.Is(err, hubErr) {
		t.Errorf("error = %v, want the hub error unmodified", err)
	}
	if errors.Is(err, ErrCommandTimeout) {
		t.Error("non-timeout error mapped to ErrCommandTimeout")
	}
}

func TestSetDeviceStateRefreshesDevice(t *testing.T) {
	api := &fakeAPI{
		discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil },
		byIDFn: func(deviceID string) (*hub.Snapshot, error) {
			return &hub.Snapshot{Msg: []hub.DeviceSnapshot{{
				Me: deviceID, Devtype: "SL_SW",
				Data: map[string]hub.ChannelRecord{"L1": {V: false}},
			}}}, nil
		},
	}
	c := New(api, testSyncConfig())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.SetDeviceState(context.Background(), "dev1", "L1", nil); err != nil {
		t.Fatal(err)
	}

	_, byID, _ := api.calls()
	if byID != 1 {
		t.Errorf("device re-queried %d times after command, want 1", byID)
	}
	dev, _ := c.Device("dev1")
	if dev.Data["L1"].V != false {
		t.Errorf("cache not refreshed after command: %+v", dev.Data["L1"])
	}
}

func TestPushEventsReachSubscribers(t *testing.T) {
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil }}
	c := New(api, testSyncConfig())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	events, cancel := c.Subscribe()
	defer cancel()

	c.handlePush(hub.StateUpdate{Me: "dev1", Idx: "L1", Val: false})

	select {
	case e := <-events:
		if e.Type != EventStateChanged || e.DeviceID != "dev1" || e.Channel != "L1" {
			t.Errorf("unexpected event: %+v", e)
		}
		if e.DeviceType != "SL_SW" {
			t.Errorf("event device type = %q, want SL_SW", e.DeviceType)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	// Unknown devices are dropped, not delivered.
	c.handlePush(hub.StateUpdate{Me: "ghost", Idx: "L1", Val: true})
	select {
	case e := <-events:
		t.Errorf("unexpected event for unknown device: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
	if c.Metrics().DeltasDropped != 1 {
		t.Errorf("DeltasDropped = %d, want 1", c.Metrics().DeltasDropped)
	}
}

func TestGiveUpClearsStateButStaysAvailable(t *testing.T) {
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil }}
	c := New(api, testSyncConfig())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	c.handleGiveUp()

	if got := c.Snapshot(); len(got.Msg) != 0 {
		t.Errorf("cache holds %d devices after give-up, want 0", len(got.Msg))
	}
	if _, ok := c.DeviceInfo("dev1"); ok {
		t.Error("device identity survived give-up")
	}
	if !c.Available() {
		t.Error("Available() = false after give-up, want true")
	}
	if c.Metrics().GiveUps != 1 {
		t.Errorf("GiveUps = %d, want 1", c.Metrics().GiveUps)
	}
}

func TestTickRestartsListenerAfterGiveUp(t *testing.T) {
	api := &scriptedAPI{script: failures(3)}
	api.discoverFn = func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil }

	cfg := testSyncConfig()
	cfg.PushBackoffBase = 0
	cfg.PushRetryCeiling = 2
	c := New(api, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.wg.Wait()
	}()

	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	c.ensureListener(ctx)

	deadline := time.Now().Add(time.Second)
	for c.ListenerState() != ListenerGivenUp && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.ListenerState() != ListenerGivenUp {
		t.Fatalf("listener state = %v, want given_up", c.ListenerState())
	}
	if got := c.Snapshot(); len(got.Msg) != 0 {
		t.Fatalf("cache holds %d devices after give-up, want 0", len(got.Msg))
	}

	// The next poll tick repopulates the cache and starts a fresh
	// listener with a clean failure count.
	c.tick(ctx)

	deadline = time.Now().Add(time.Second)
	for c.ListenerState() != ListenerListening && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.ListenerState() != ListenerListening {
		t.Errorf("listener state = %v, want listening after tick", c.ListenerState())
	}
	if got := c.Metrics().ListenerRestarts; got != 1 {
		t.Errorf("ListenerRestarts = %d, want 1", got)
	}
	if got := c.Snapshot(); len(got.Msg) != 2 {
		t.Errorf("cache holds %d devices after tick, want 2", len(got.Msg))
	}
}

func TestStartStop(t *testing.T) {
	api := &fakeAPI{discoverFn: func() (*hub.Snapshot, error) { return twoDeviceSnapshot(), nil }}
	c := New(api, testSyncConfig())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded, want error")
	}

	if !c.Available() {
		t.Error("Available() = false after Start")
	}

	deadline := time.Now().Add(time.Second)
	for c.ListenerState() != ListenerListening && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.ListenerState() != ListenerListening {
		t.Errorf("listener state = %v, want listening", c.ListenerState())
	}

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
