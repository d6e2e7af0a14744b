package coordinator

import "sync"

// task is a handle to a supervised goroutine. The goroutine marks the
// handle finished on exit; the supervisor asks running() instead of
// poking at the goroutine itself.
type task struct {
	done chan struct{}
	once sync.Once
}

func newTask() *task {
	return &task{done: make(chan struct{})}
}

// finish marks the task complete. Safe to call more than once.
func (t *task) finish() {
	t.once.Do(func() { close(t.done) })
}

// running reports whether the task has not yet finished.
func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
