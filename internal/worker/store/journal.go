package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// TransitionEntry is one row of job_transitions.
type TransitionEntry struct {
	ID        int64
	Timestamp time.Time
	TraceID   string
	JobID     string
	From      job.Status
	To        job.Status
	Tag       string
	Container string
	Evicted   bool
}

// PublishEntry is one row of job_publishes.
type PublishEntry struct {
	ID        int64
	Timestamp time.Time
	JobID     string
	Status    job.Status
	OK        bool
	Error     sql.NullString
}

// RecordTransition appends a status transition.
func (s *Store) RecordTransition(ctx context.Context, t engine.Transition) error {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_transitions (ts, trace_id, job_id, from_status, to_status, tag, container, evicted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, at.UTC(), trace.FromContext(ctx), t.JobID, string(t.From), string(t.To), t.Tag, t.Container, t.Evicted)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// RecordPublish appends the outcome of one update sent to the queue.
func (s *Store) RecordPublish(ctx context.Context, snap job.Snapshot, publishErr error) error {
	var errorNull sql.NullString
	if publishErr != nil {
		errorNull = sql.NullString{String: publishErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_publishes (ts, job_id, status, ok, error)
		VALUES (?, ?, ?, ?, ?)
	`, time.Now().UTC(), snap.ID, snap.Status, publishErr == nil, errorNull)
	if err != nil {
		return fmt.Errorf("failed to record publish: %w", err)
	}
	return nil
}

// Transitions returns the history of a job, oldest first. An empty jobID
// returns the most recent transitions of all jobs, up to limit.
func (s *Store) Transitions(ctx context.Context, jobID string, limit int) ([]*TransitionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, job_id, from_status, to_status, tag, container, evicted
		FROM (
			SELECT * FROM job_transitions
			WHERE ? = '' OR job_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`, jobID, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var entries []*TransitionEntry
	for rows.Next() {
		e := &TransitionEntry{}
		var from, to string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TraceID, &e.JobID, &from, &to, &e.Tag, &e.Container, &e.Evicted); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		e.From, e.To = job.Status(from), job.Status(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Publishes returns the publish attempts of a job, oldest first.
func (s *Store) Publishes(ctx context.Context, jobID string) ([]*PublishEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, job_id, status, ok, error
		FROM job_publishes
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query publishes: %w", err)
	}
	defer rows.Close()

	var entries []*PublishEntry
	for rows.Next() {
		e := &PublishEntry{}
		var status string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.JobID, &status, &e.OK, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan publish: %w", err)
		}
		e.Status = job.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Observe records t, logging instead of failing the tick on error.
func (s *Store) Observe(ctx context.Context, t engine.Transition) {
	if err := s.RecordTransition(ctx, t); err != nil {
		slog.Warn("journal: transition not recorded", "job", t.JobID, "to", t.To, "err", err)
	}
}
