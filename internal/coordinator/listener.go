package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/greyfell/hubsync/internal/hub"
)

// ListenerState is the push listener's lifecycle state.
type ListenerState int

const (
	// ListenerStopped means the listener is not running.
	ListenerStopped ListenerState = iota
	// ListenerListening means the listener is waiting for push events.
	ListenerListening
	// ListenerBackoff means the listener is sleeping before a reconnect.
	ListenerBackoff
	// ListenerGivenUp means the retry ceiling was exceeded.
	ListenerGivenUp
)

// String returns the state name.
func (s ListenerState) String() string {
	switch s {
	case ListenerStopped:
		return "stopped"
	case ListenerListening:
		return "listening"
	case ListenerBackoff:
		return "backoff"
	case ListenerGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// listener consumes push events from the hub and recovers from stream
// failures with exponential backoff. Each failure doubles the delay,
// starting at base; a successful event resets the sequence. Once the
// consecutive failure count exceeds the ceiling the listener gives up
// and reports it, leaving restart policy to the supervisor.
type listener struct {
	api     hub.API
	base    time.Duration
	ceiling int

	onEvent  func(update hub.StateUpdate)
	onGiveUp func()

	// sleep is injectable for tests; returns false if ctx ended first.
	sleep func(ctx context.Context, d time.Duration) bool

	mu    sync.Mutex
	state ListenerState

	logger Logger
}

func newListener(api hub.API, base time.Duration, ceiling int, logger Logger) *listener {
	return &listener{
		api:     api,
		base:    base,
		ceiling: ceiling,
		sleep:   sleepCtx,
		logger:  logger,
	}
}

// State returns the current lifecycle state.
func (l *listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *listener) setState(s ListenerState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// run is the listener loop. It blocks until the context ends or the
// retry ceiling is exceeded, marking t finished on exit.
func (l *listener) run(ctx context.Context, t *task) {
	defer t.finish()
	defer func() {
		if l.State() != ListenerGivenUp {
			l.setState(ListenerStopped)
		}
	}()

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		l.setState(ListenerListening)
		update, err := l.api.NextStateUpdate(ctx)
		if err == nil {
			retries = 0
			l.onEvent(*update)
			continue
		}

		if ctx.Err() != nil || errors.Is(err, hub.ErrClosed) {
			return
		}

		retries++
		if retries > l.ceiling {
			l.logger.Warn("push listener giving up", "failures", retries)
			l.setState(ListenerGivenUp)
			l.onGiveUp()
			return
		}

		delay := l.base << (retries - 1)
		l.logger.Warn("push stream failed, backing off",
			"error", err, "attempt", retries, "delay", delay)

		l.setState(ListenerBackoff)
		if !l.sleep(ctx, delay) {
			return
		}

		// Tear the old connection down so the next receive dials fresh.
		l.api.ResetConnection()
	}
}

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
