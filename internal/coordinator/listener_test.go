package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/greyfell/hubsync/internal/hub"
)

// scriptedAPI returns canned results from NextStateUpdate in order and
// records ResetConnection calls. The zero value blocks forever once the
// script runs out.
type scriptedAPI struct {
	fakeAPI

	mu     sync.Mutex
	script []scriptStep
	resets int
}

type scriptStep struct {
	update *hub.StateUpdate
	err    error
}

func (s *scriptedAPI) NextStateUpdate(ctx context.Context) (*hub.StateUpdate, error) {
	s.mu.Lock()
	if len(s.script) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	step := s.script[0]
	s.script = s.script[1:]
	s.mu.Unlock()
	return step.update, step.err
}

func (s *scriptedAPI) ResetConnection() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *scriptedAPI) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// recordedSleep captures requested delays without waiting.
type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return true
}

func (r *recordedSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func failures(n int) []scriptStep {
	steps := make([]scriptStep, n)
	for i := range steps {
		steps[i] = scriptStep{err: hub.ErrConnectionLost}
	}
	return steps
}

func runListener(t *testing.T, api *scriptedAPI, sleep *recordedSleep) (*listener, []hub.StateUpdate, bool) {
	t.Helper()

	var (
		mu     sync.Mutex
		events []hub.StateUpdate
		gaveUp bool
	)

	l := newListener(api, time.Second, 5, noopLogger{})
	l.sleep = sleep.sleep
	l.onEvent = func(u hub.StateUpdate) {
		mu.Lock()
		events = append(events, u)
		mu.Unlock()
	}
	l.onGiveUp = func() {
		mu.Lock()
		gaveUp = true
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task := newTask()
	done := make(chan struct{})
	go func() {
		l.run(ctx, task)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		cancel()
		<-done
		t.Fatal("listener did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	return l, events, gaveUp
}

func TestListenerBackoffScheduleAndGiveUp(t *testing.T) {
	api := &scriptedAPI{script: failures(6)}
	sleep := &recordedSleep{}

	l, _, gaveUp := runListener(t, api, sleep)

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	got := sleep.recorded()
	if len(got) != len(want) {
		t.Fatalf("slept %d times (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !gaveUp {
		t.Error("listener did not give up after exceeding ceiling")
	}
	if l.State() != ListenerGivenUp {
		t.Errorf("state = %v, want given_up", l.State())
	}
	// One reconnect per completed backoff.
	if api.resetCount() != 5 {
		t.Errorf("ResetConnection called %d times, want 5", api.resetCount())
	}
}

func TestListenerEventResetsRetryCount(t *testing.T) {
	// Four failures, a successful event, then six more failures: the
	// event must restart the backoff sequence from the base delay.
	script := append(failures(4),
		scriptStep{update: &hub.StateUpdate{Me: "dev1", Idx: "L1", Val: true}})
	script = append(script, failures(6)...)

	api := &scriptedAPI{script: script}
	sleep := &recordedSleep{}

	_, events, gaveUp := runListener(t, api, sleep)

	if len(events) != 1 || events[0].Me != "dev1" {
		t.Fatalf("events = %+v, want one dev1 event", events)
	}
	if !gaveUp {
		t.Fatal("listener did not give up")
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, // before the event
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, // after
	}
	got := sleep.recorded()
	if len(got) != len(want) {
		t.Fatalf("slept %d times (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	api := &scriptedAPI{} // empty script blocks in NextStateUpdate

	l := newListener(api, time.Second, 5, noopLogger{})
	l.onEvent = func(hub.StateUpdate) {}
	l.onGiveUp = func() {}

	ctx, cancel := context.WithCancel(context.Background())
	task := newTask()
	done := make(chan struct{})
	go func() {
		l.run(ctx, task)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
	if task.running() {
		t.Error("task still marked running after exit")
	}
	if l.State() != ListenerStopped {
		t.Errorf("state = %v, want stopped", l.State())
	}
}
