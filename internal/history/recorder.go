package history

import (
	"context"

	"github.com/greyfell/hubsync/internal/coordinator"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder consumes coordinator events and persists channel changes.
// Recording is best-effort: a failed insert is logged and the stream
// continues.
type Recorder struct {
	repo   *Repository
	logger Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo *Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Run drains the event stream until the context ends or the channel
// closes. Call it on its own goroutine.
func (r *Recorder) Run(ctx context.Context, events <-chan coordinator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != coordinator.EventStateChanged {
				continue
			}
			if err := r.repo.RecordChange(ctx, e.DeviceID, e.DeviceType, e.Channel, e.Value, "push"); err != nil {
				r.logger.Warn("failed to record state change",
					"device", e.DeviceID, "channel", e.Channel, "error", err)
			}
		}
	}
}
