package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		s, err := store.New(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		var n int
		if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("open %d: %d migrations recorded, want 1", i, n)
		}
		s.Close()
	}
}

func TestRecordTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := trace.WithTraceID(context.Background(), "t_abc")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	steps := []engine.Transition{
		{JobID: "1", From: job.StatusPending, To: job.StatusStarting, Tag: "chrome-example.com", At: at},
		{JobID: "1", From: job.StatusStarting, To: job.StatusRunning, Tag: "chrome-example.com-c1", Container: "c1", At: at},
		{JobID: "2", From: job.StatusPending, To: job.StatusError, At: at},
		{JobID: "1", From: job.StatusRemove, To: job.StatusRemove, Container: "c1", Evicted: true},
	}
	for _, tr := range steps {
		if err := s.RecordTransition(ctx, tr); err != nil {
			t.Fatalf("RecordTransition: %v", err)
		}
	}

	got, err := s.Transitions(context.Background(), "1", 0)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transitions for job 1, got %d", len(got))
	}
	if got[0].To != job.StatusStarting || got[1].Container != "c1" || !got[2].Evicted {
		t.Errorf("unexpected history %+v %+v %+v", got[0], got[1], got[2])
	}
	if got[0].TraceID != "t_abc" {
		t.Errorf("trace id = %q", got[0].TraceID)
	}
	if !got[0].Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, at)
	}

	all, err := s.Transitions(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("Transitions(all): %v", err)
	}
	if len(all) != 2 || all[0].JobID != "2" || all[1].JobID != "1" {
		t.Errorf("expected the two most recent transitions oldest first, got %d entries", len(all))
	}
}

func TestRecordPublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := job.Snapshot{ID: "7", Status: "done"}

	if err := s.RecordPublish(ctx, snap, errors.New("queue unavailable")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordPublish(ctx, snap, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.Publishes(ctx, "7")
	if err != nil {
		t.Fatalf("Publishes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].OK || got[0].Error.String != "queue unavailable" {
		t.Errorf("failed publish recorded as %+v", got[0])
	}
	if !got[1].OK || got[1].Error.Valid || got[1].Status != job.StatusDone {
		t.Errorf("successful publish recorded as %+v", got[1])
	}
}

func TestObserveSatisfiesObserver(t *testing.T) {
	s := newTestStore(t)
	var obs engine.Observer = s
	obs.Observe(context.Background(), engine.Transition{JobID: "9", From: job.StatusPending, To: job.StatusStarting})

	got, err := s.Transitions(context.Background(), "9", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one recorded transition, got %d (err=%v)", len(got), err)
	}
}
