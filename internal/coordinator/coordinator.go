package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/greyfell/hubsync/internal/hub"
	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceInfo is the static identity of a device, cached separately from
// channel state so consumers can label devices without a full snapshot.
type DeviceInfo struct {
	Devtype string `json:"devtype"`
	Agt     string `json:"agt,omitempty"`
	Name    string `json:"name,omitempty"`
	Ver     string `json:"ver,omitempty"`
}

// Coordinator keeps the local device cache synchronized with the hub.
//
// Three mechanisms feed the cache: a periodic full refresh, a push
// listener applying channel deltas, and direct per-device queries. The
// poll loop also supervises the listener, restarting it whenever its
// task has finished.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Coordinator struct {
	api   hub.API
	cfg   config.SyncConfig
	store *Store

	available atomic.Bool

	// queryMu serializes direct hub queries; group collapses concurrent
	// queries for the same device into one round trip.
	queryMu sync.Mutex
	group   singleflight.Group

	runMu      sync.Mutex
	cancel     context.CancelFunc
	pollTask   *task
	listenTask *task
	listener   *listener
	started    bool

	stopOnce sync.Once
	wg       sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	infoMu sync.RWMutex
	info   map[string]DeviceInfo

	pollSuccesses    atomic.Uint64
	pollFailures     atomic.Uint64
	pushEvents       atomic.Uint64
	deltasDropped    atomic.Uint64
	commandsSent     atomic.Uint64
	commandTimeouts  atomic.Uint64
	listenerRestarts atomic.Uint64
	giveUps          atomic.Uint64
	eventsDropped    atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a coordinator for the given hub connection.
func New(api hub.API, cfg config.SyncConfig) *Coordinator {
	return &Coordinator{
		api:    api,
		cfg:    cfg,
		store:  NewStore(),
		subs:   make(map[int]chan Event),
		info:   make(map[string]DeviceInfo),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for this coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Coordinator) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Start performs the initial refresh and launches the poll loop and
// push listener. An initial refresh failure is logged, not fatal; the
// poll loop keeps retrying on its cadence.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.started {
		c.runMu.Unlock()
		return errors.New("coordinator: already started")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pollTask = newTask()
	c.runMu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.log().Warn("initial refresh failed", "error", err)
	}

	c.ensureListener(runCtx)

	c.wg.Add(1)
	go c.run(runCtx, c.pollTask)

	c.log().Info("coordinator started",
		"poll_interval", c.cfg.GetPollInterval(), "devices", c.store.Len())
	return nil
}

// Stop shuts down the poll loop and listener and waits for them to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.runMu.Lock()
		cancel := c.cancel
		c.runMu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.wg.Wait()
		c.log().Info("coordinator stopped")
	})
}

// run is the poll loop: a full refresh every tick, plus listener
// supervision.
func (c *Coordinator) run(ctx context.Context, t *task) {
	defer c.wg.Done()
	defer t.finish()

	ticker := time.NewTicker(c.cfg.GetPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.log().Warn("periodic refresh failed", "error", err)
	}
	c.ensureListener(ctx)
}

// ensureListener starts a fresh listener if the previous one has
// finished for any reason, including give-up. A restarted listener
// begins with a clean failure count.
func (c *Coordinator) ensureListener(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if c.listenTask != nil && c.listenTask.running() {
		return
	}
	if c.listenTask != nil {
		c.listenerRestarts.Add(1)
		c.log().Info("restarting push listener")
	}

	c.listener = newListener(c.api, c.cfg.GetPushBackoffBase(), c.cfg.PushRetryCeiling, c.log())
	c.listener.onEvent = c.handlePush
	c.listener.onGiveUp = c.handleGiveUp
	c.listenTask = newTask()

	c.wg.Add(1)
	go func(l *listener, t *task) {
		defer c.wg.Done()
		l.run(ctx, t)
	}(c.listener, c.listenTask)
}

// handlePush applies one push delta to the cache and notifies
// subscribers. Deltas for devices not in the inventory are dropped; the
// next full refresh will pick the device up if it is real.
func (c *Coordinator) handlePush(update hub.StateUpdate) {
	if !c.store.MergeDelta(update) {
		c.deltasDropped.Add(1)
		c.log().Debug("dropping delta for unknown device", "device", update.Me)
		return
	}

	c.pushEvents.Add(1)
	c.publish(Event{
		Type:       EventStateChanged,
		DeviceID:   update.Me,
		DeviceType: c.deviceType(update.Me),
		Channel:    update.Idx,
		Value:      update.Val,
		Time:       time.Now().UTC(),
	})
}

// handleGiveUp runs when the listener exceeds its retry ceiling: the
// cache and identity map are cleared and the service stays available,
// serving the empty inventory until a refresh repopulates it.
func (c *Coordinator) handleGiveUp() {
	c.giveUps.Add(1)
	c.store.Clear()

	c.infoMu.Lock()
	c.info = make(map[string]DeviceInfo)
	c.infoMu.Unlock()

	c.available.Store(true)
	c.log().Warn("push listener gave up, cleared cached state")
	c.publish(Event{Type: EventAvailability, Available: true, Time: time.Now().UTC()})
}

// Refresh performs a full inventory poll. Timed-out attempts are
// retried up to the configured attempt count with a fixed delay between
// them; any other hub error fails the refresh immediately. On success
// the cache is replaced atomically and the coordinator becomes
// available; on failure it becomes unavailable.
func (c *Coordinator) Refresh(ctx context.Context) error {
	attempts := c.cfg.PollAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.GetAttemptTimeout())
		snap, err := c.api.DiscoverDevices(attemptCtx)
		cancel()

		if err == nil {
			c.applyFull(snap)
			c.pollSuccesses.Add(1)
			return nil
		}

		lastErr = err
		if !errors.Is(err, hub.ErrTimeout) {
			break
		}
		c.log().Debug("enumeration attempt timed out", "attempt", attempt)
		if attempt < attempts && !sleepCtx(ctx, c.cfg.GetPollRetryDelay()) {
			lastErr = ctx.Err()
			break
		}
	}

	c.pollFailures.Add(1)
	c.setAvailable(false)
	return fmt.Errorf("%w: %w", ErrUpdateFailed, lastErr)
}

// applyFull installs a full snapshot: cache, identity map, availability.
func (c *Coordinator) applyFull(snap *hub.Snapshot) {
	c.store.MergeFull(snap)

	info := make(map[string]DeviceInfo, len(snap.Msg))
	for i := range snap.Msg {
		d := &snap.Msg[i]
		info[d.Me] = DeviceInfo{Devtype: d.Devtype, Agt: d.Agt, Name: d.Name, Ver: d.Ver}
	}
	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()

	c.setAvailable(true)
	c.publish(Event{Type: EventFullRefresh, Time: time.Now().UTC()})
}

// GetDeviceData queries the hub directly for one device's current state
// and folds the result into the cache. Concurrent queries for the same
// device share a single hub round trip; queries for different devices
// still serialize on the connection. Timed-out attempts are retried with
// the same attempt count and delay as the poll loop; an exhausted query
// fails as ErrUpdateFailed. A malformed hub response yields an empty
// device record rather than an error.
func (c *Coordinator) GetDeviceData(ctx context.Context, deviceID string) (hub.DeviceSnapshot, error) {
	v, err, _ := c.group.Do(deviceID, func() (any, error) {
		c.queryMu.Lock()
		defer c.queryMu.Unlock()

		attempts := c.cfg.PollAttempts
		if attempts < 1 {
			attempts = 1
		}

		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			queryCtx, cancel := context.WithTimeout(ctx, c.cfg.GetQueryTimeout())
			snap, err := c.api.DiscoverDevicesByID(queryCtx, deviceID)
			cancel()

			if err == nil {
				if len(snap.Msg) == 0 {
					return hub.DeviceSnapshot{Me: deviceID}, nil
				}
				dev := snap.Msg[0].Copy()
				c.store.ReplaceDevice(dev)
				return dev, nil
			}

			if errors.Is(err, hub.ErrMalformed) {
				c.log().Warn("malformed device query response", "device", deviceID)
				return hub.DeviceSnapshot{Me: deviceID}, nil
			}

			lastErr = err
			if !errors.Is(err, hub.ErrTimeout) {
				break
			}
			c.log().Debug("device query timed out", "device", deviceID, "attempt", attempt)
			if attempt < attempts && !sleepCtx(ctx, c.cfg.GetPollRetryDelay()) {
				lastErr = ctx.Err()
				break
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrUpdateFailed, lastErr)
	})
	if err != nil {
		return hub.DeviceSnapshot{}, err
	}
	return v.(hub.DeviceSnapshot), nil
}

// SetDeviceState writes one channel of one device. When the coordinator
// is unavailable the command is silently skipped. A hub timeout is
// reported as ErrCommandTimeout; other hub errors pass through
// unchanged. After a successful write the device is re-queried so the
// cache reflects the outcome without waiting for the next poll.
func (c *Coordinator) SetDeviceState(ctx context.Context, deviceID, channel string, args map[string]any) error {
	if !c.Available() {
		c.log().Debug("skipping command while unavailable", "device", deviceID)
		return nil
	}

	c.commandsSent.Add(1)

	cmdCtx, cancel := context.WithTimeout(ctx, c.cfg.GetCommandTimeout())
	err := c.api.SetDeviceState(cmdCtx, deviceID, channel, args)
	cancel()
	if err != nil {
		if errors.Is(err, hub.ErrTimeout) {
			c.commandTimeouts.Add(1)
			return fmt.Errorf("%w: %s/%s", ErrCommandTimeout, deviceID, channel)
		}
		return err
	}

	if _, err := c.GetDeviceData(ctx, deviceID); err != nil {
		c.log().Warn("post-command refresh failed", "device", deviceID, "error", err)
	}
	return nil
}

// SendKeys sends an infrared key sequence through a remote-control
// device, with the same gating and timeout mapping as SetDeviceState.
func (c *Coordinator) SendKeys(ctx context.Context, deviceID, category, brand string, keys []string) error {
	if !c.Available() {
		c.log().Debug("skipping key send while unavailable", "device", deviceID)
		return nil
	}

	c.commandsSent.Add(1)

	cmdCtx, cancel := context.WithTimeout(ctx, c.cfg.GetCommandTimeout())
	err := c.api.SendKeys(cmdCtx, deviceID, category, brand, keys)
	cancel()
	if err != nil {
		if errors.Is(err, hub.ErrTimeout) {
			c.commandTimeouts.Add(1)
			return fmt.Errorf("%w: %s", ErrCommandTimeout, deviceID)
		}
		return err
	}
	return nil
}

// Snapshot returns a deep copy of the cached inventory.
func (c *Coordinator) Snapshot() *hub.Snapshot {
	return c.store.Snapshot()
}

// Device returns a deep copy of one cached device record.
func (c *Coordinator) Device(deviceID string) (hub.DeviceSnapshot, bool) {
	return c.store.Device(deviceID)
}

// DeviceInfo returns the cached identity of a device.
func (c *Coordinator) DeviceInfo(deviceID string) (DeviceInfo, bool) {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	info, ok := c.info[deviceID]
	return info, ok
}

// Available reports whether the cache is considered current.
func (c *Coordinator) Available() bool {
	return c.available.Load()
}

func (c *Coordinator) setAvailable(v bool) {
	if c.available.Swap(v) != v {
		c.publish(Event{Type: EventAvailability, Available: v, Time: time.Now().UTC()})
	}
}

// Subscribe registers an event consumer. The returned cancel function
// releases the subscription; after it returns the channel will not
// receive further events. Slow consumers lose events instead of
// blocking the sync path.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) publish(e Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
			c.eventsDropped.Add(1)
		}
	}
}

// ListenerState returns the push listener's current state.
func (c *Coordinator) ListenerState() ListenerState {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.listener == nil {
		return ListenerStopped
	}
	return c.listener.State()
}

// Metrics returns a snapshot of the coordinator's counters.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		Available:        c.Available(),
		Devices:          c.store.Len(),
		ListenerState:    c.ListenerState().String(),
		PollSuccesses:    c.pollSuccesses.Load(),
		PollFailures:     c.pollFailures.Load(),
		PushEvents:       c.pushEvents.Load(),
		DeltasDropped:    c.deltasDropped.Load(),
		CommandsSent:     c.commandsSent.Load(),
		CommandTimeouts:  c.commandTimeouts.Load(),
		ListenerRestarts: c.listenerRestarts.Load(),
		GiveUps:          c.giveUps.Load(),
		EventsDropped:    c.eventsDropped.Load(),
	}
}

func (c *Coordinator) deviceType(deviceID string) string {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info[deviceID].Devtype
}
