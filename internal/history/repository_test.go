package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/greyfell/hubsync/internal/coordinator"
	"github.com/greyfell/hubsync/internal/infrastructure/config"
	"github.com/greyfell/hubsync/internal/infrastructure/database"
	_ "github.com/greyfell/hubsync/migrations"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db)
}

func TestRecordAndQueryHistory(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	changes := []struct {
		channel string
		value   any
	}{
		{"L1", true},
		{"L1", false},
		{"L2", 42.5},
	}
	for _, ch := range changes {
		if err := repo.RecordChange(ctx, "dev1", "SL_SW", ch.channel, ch.value, "push"); err != nil {
			t.Fatalf("RecordChange(%s): %v", ch.channel, err)
		}
	}
	if err := repo.RecordChange(ctx, "dev2", "SL_SC", "T", 21.5, "push"); err != nil {
		t.Fatalf("RecordChange(dev2): %v", err)
	}

	entries, err := repo.History(ctx, "dev1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries for dev1, want 3", len(entries))
	}

	// Newest first.
	if entries[0].Channel != "L2" || entries[0].Value != "42.5" {
		t.Errorf("newest entry = %+v, want L2=42.5", entries[0])
	}
	if entries[1].Value != "false" || entries[2].Value != "true" {
		t.Errorf("ordering wrong: %+v", entries)
	}
	if entries[0].DeviceType != "SL_SW" || entries[0].Source != "push" {
		t.Errorf("metadata wrong: %+v", entries[0])
	}
}

func TestHistoryUnknownDeviceIsEmpty(t *testing.T) {
	repo := testRepo(t)

	entries, err := repo.History(context.Background(), "ghost", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries for unknown device, want 0", len(entries))
	}
}

func TestHistoryLimitClamp(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for i := 0; i < MaxLimit+50; i++ {
		if err := repo.RecordChange(ctx, "dev1", "SL_SW", "L1", i, "push"); err != nil {
			t.Fatalf("RecordChange: %v", err)
		}
	}

	entries, err := repo.History(ctx, "dev1", 10_000)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != MaxLimit {
		t.Errorf("got %d entries, want clamp to %d", len(entries), MaxLimit)
	}
}

func TestPrune(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	if err := repo.RecordChange(ctx, "dev1", "SL_SW", "L1", true, "push"); err != nil {
		t.Fatalf("RecordChange: %v", err)
	}

	n, err := repo.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d recent entries, want 0", n)
	}

	n, err = repo.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d entries, want 1", n)
	}
}

func TestRecorderPersistsStateEvents(t *testing.T) {
	repo := testRepo(t)
	rec := NewRecorder(repo, nil)

	events := make(chan coordinator.Event, 4)
	events <- coordinator.Event{
		Type: coordinator.EventStateChanged,
		DeviceID: "dev1", DeviceType: "SL_SW", Channel: "L1", Value: true,
		Time: time.Now().UTC(),
	}
	events <- coordinator.Event{Type: coordinator.EventFullRefresh, Time: time.Now().UTC()}
	close(events)

	rec.Run(context.Background(), events)

	entries, err := repo.History(context.Background(), "dev1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want the state event only", len(entries))
	}
	if entries[0].Value != "true" {
		t.Errorf("value = %q, want \"true\"", entries[0].Value)
	}
}
