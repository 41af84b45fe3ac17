package audit_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/audit"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// fakeSender records notices for assertion.
type fakeSender struct {
	rooms   []string
	notices []string
	err     error
}

func (f *fakeSender) SendNotice(room, msg string) error {
	f.rooms = append(f.rooms, room)
	f.notices = append(f.notices, msg)
	return f.err
}

func TestMatrixNotifier_SendsNotice(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")
	ctx := trace.WithTraceID(context.Background(), "t_abc123")

	n.Observe(ctx, engine.Transition{
		JobID:     "42",
		From:      job.StatusRunning,
		To:        job.StatusFailed,
		Tag:       "chrome-example.com-c1",
		Container: "c1",
	})

	if len(sender.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(sender.notices))
	}
	if sender.rooms[0] != "!room:example.com" {
		t.Errorf("room = %q", sender.rooms[0])
	}
	msg := sender.notices[0]
	for _, want := range []string{"42", "running → failed", "chrome-example.com-c1", "c1", "t_abc123"} {
		if !strings.Contains(msg, want) {
			t.Errorf("notice missing %q: %q", want, msg)
		}
	}
}

func TestMatrixNotifier_Eviction(t *testing.T) {
	msg := audit.Format(engine.Transition{JobID: "7", From: job.StatusRemove, To: job.StatusRemove, Evicted: true}, "")
	if !strings.Contains(msg, "job 7 removed") {
		t.Errorf("unexpected eviction notice %q", msg)
	}
	if strings.Contains(msg, "trace:") {
		t.Errorf("empty trace rendered: %q", msg)
	}
}

func TestMatrixNotifier_NoRoomIsSilent(t *testing.T) {
	sender := &fakeSender{}
	audit.NewMatrixNotifier(sender, "").Observe(context.Background(), engine.Transition{JobID: "1"})
	if len(sender.notices) != 0 {
		t.Errorf("expected no notices, got %d", len(sender.notices))
	}
}

func TestMatrixNotifier_SendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("homeserver down")}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")
	n.Observe(context.Background(), engine.Transition{JobID: "1", To: job.StatusDone})
	if len(sender.notices) != 1 {
		t.Errorf("expected one attempt, got %d", len(sender.notices))
	}
}

func TestNoop(t *testing.T) {
	var obs engine.Observer = audit.Noop{}
	obs.Observe(context.Background(), engine.Transition{JobID: "1"})
}
