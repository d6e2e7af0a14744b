package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greyfell/hubsync/internal/infrastructure/database"
)

// Query limit bounds.
const (
	// DefaultLimit applies when the caller asks for zero or fewer entries.
	DefaultLimit = 50
	// MaxLimit caps a single history query.
	MaxLimit = 200
)

// Entry is one recorded channel change. Value is the JSON encoding of
// the channel value at the time of the change.
type Entry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type,omitempty"`
	Channel    string    `json:"channel"`
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository persists channel changes to the state_history table.
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository over an open database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// RecordChange appends one channel change. The value is stored as JSON
// so callers can round-trip bools, numbers and strings uniformly.
func (r *Repository) RecordChange(ctx context.Context, deviceID, deviceType, channel string, value any, source string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value for %s/%s: %w", deviceID, channel, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO state_history (device_id, device_type, channel, value, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID, deviceType, channel, string(encoded), source, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording change for %s/%s: %w", deviceID, channel, err)
	}
	return nil
}

// History returns the most recent changes for a device, newest first.
// A non-positive limit falls back to DefaultLimit; anything above
// MaxLimit is clamped. An unknown device yields an empty slice.
func (r *Repository) History(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, device_type, channel, value, source, recorded_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceType, &e.Channel, &e.Value, &e.Source, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the cutoff and returns how many were
// removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM state_history WHERE recorded_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return n, nil
}
