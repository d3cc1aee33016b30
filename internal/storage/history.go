package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/goopcall/internal/call"
)

// StatusPending marks a record created before the call was answered.
const StatusPending = "pending"

// CallRecord is one row of the call history.
type CallRecord struct {
	ID              string     `json:"id"`
	Caller          string     `json:"caller"`
	Receiver        string     `json:"receiver"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
}

// HistoryStore records call lifecycles. It satisfies call.HistoryRecorder.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore returns a store on db.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

var _ call.HistoryRecorder = (*HistoryStore)(nil)

// Create inserts a pending record and returns its id.
func (h *HistoryStore) Create(ctx context.Context, caller, receiver string, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := h.db.exec(ctx, `
		INSERT INTO call_history (id, caller, receiver, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, caller, receiver, StatusPending, millis(startedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert call: %w", err)
	}
	return id, nil
}

// UpdateStatus sets the status of a record. endedAt and duration are only
// written when non-nil, so an "active" update keeps them empty.
func (h *HistoryStore) UpdateStatus(ctx context.Context, id string, status call.HistoryStatus, endedAt *time.Time, durationSeconds *int) error {
	var ended, dur sql.NullInt64
	if endedAt != nil {
		ended = sql.NullInt64{Int64: millis(*endedAt), Valid: true}
	}
	if durationSeconds != nil {
		dur = sql.NullInt64{Int64: int64(*durationSeconds), Valid: true}
	}
	res, err := h.db.exec(ctx, `
		UPDATE call_history
		SET status = ?,
		    ended_at = COALESCE(?, ended_at),
		    duration_seconds = COALESCE(?, duration_seconds)
		WHERE id = ?`,
		string(status), ended, dur, id,
	)
	if err != nil {
		return fmt.Errorf("update call %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update call %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns up to limit records, newest first. limit <= 0 means 50.
func (h *HistoryStore) List(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.query(ctx, `
		SELECT id, caller, receiver, status, started_at, ended_at, duration_seconds
		FROM call_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var (
			r       CallRecord
			started int64
			ended   sql.NullInt64
			dur     sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Caller, &r.Receiver, &r.Status, &started, &ended, &dur); err != nil {
			return nil, err
		}
		r.StartedAt = fromMillis(started)
		if ended.Valid {
			t := fromMillis(ended.Int64)
			r.EndedAt = &t
		}
		if dur.Valid {
			d := int(dur.Int64)
			r.DurationSeconds = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
