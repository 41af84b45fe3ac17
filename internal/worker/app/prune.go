package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

// Prune removes exited worker containers. A prune already running in the
// daemon counts as success.
func Prune(ctx context.Context, rt runtime.Gateway) (runtime.PruneReport, error) {
	report, err := rt.PruneExited(ctx)
	if errors.Is(err, runtime.ErrPruneInProgress) {
		slog.Info("prune already in progress, skipping")
		return runtime.PruneReport{}, nil
	}
	if err != nil {
		return runtime.PruneReport{}, err
	}
	slog.Info("pruned exited containers", "removed", len(report.Removed), "reclaimed_bytes", report.SpaceReclaimed)
	return report, nil
}
