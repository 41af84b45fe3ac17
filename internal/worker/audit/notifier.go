// Package audit posts job transitions to a Matrix room so operators can
// follow the worker without tailing its logs.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// Sender is the subset of the Matrix client needed by MatrixNotifier.
type Sender interface {
	SendNotice(roomID, message string) error
}

// MatrixNotifier posts one notice per job transition.
type MatrixNotifier struct {
	sender Sender
	roomID string
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{sender: sender, roomID: roomID}
}

// Observe formats t and posts it. Send failures are logged, never returned.
func (n *MatrixNotifier) Observe(ctx context.Context, t engine.Transition) {
	if n.roomID == "" {
		return
	}
	msg := Format(t, trace.FromContext(ctx))
	if err := n.sender.SendNotice(n.roomID, msg); err != nil {
		slog.Warn("audit notifier: failed to send room notice",
			"room", n.roomID, "job", t.JobID, "to", t.To, "err", err)
		return
	}
	slog.Debug("audit notifier: sent notice", "room", n.roomID, "job", t.JobID, "to", t.To)
}

// Format renders a transition as a short notice.
func Format(t engine.Transition, traceID string) string {
	var msg string
	if t.Evicted {
		msg = fmt.Sprintf("%s job %s removed", icon(t), t.JobID)
	} else {
		msg = fmt.Sprintf("%s job %s %s → %s", icon(t), t.JobID, t.From, t.To)
	}
	if t.Tag != "" {
		msg = fmt.Sprintf("%s\n  tag: %s", msg, t.Tag)
	}
	if t.Container != "" {
		msg = fmt.Sprintf("%s\n  container: %s", msg, t.Container)
	}
	if traceID != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, traceID)
	}
	return msg
}

// Noop discards transitions when notices are disabled.
type Noop struct{}

// Observe does nothing.
func (Noop) Observe(context.Context, engine.Transition) {}

func icon(t engine.Transition) string {
	if t.Evicted {
		return "🗑️"
	}
	switch t.To {
	case job.StatusStarting:
		return "🟢"
	case job.StatusRunning:
		return "▶️"
	case job.StatusDone:
		return "✅"
	case job.StatusFailed:
		return "❌"
	case job.StatusError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
