package engine

import (
	"context"
	"time"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// Transition describes one status change of a job.
type Transition struct {
	JobID     string
	From      job.Status
	To        job.Status
	Tag       string
	Container string
	// Evicted is set when the job left the registry after a forced teardown.
	Evicted bool
	At      time.Time
}

// Observer receives transitions. Implementations must not block the tick for
// long and must not mutate jobs.
type Observer interface {
	Observe(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, t Transition) { f(ctx, t) }

// Observers fans a transition out to several observers in order.
type Observers []Observer

// Observe calls every observer.
func (obs Observers) Observe(ctx context.Context, t Transition) {
	for _, o := range obs {
		if o != nil {
			o.Observe(ctx, t)
		}
	}
}

// Metrics receives engine counters. The zero value of Config uses a no-op.
type Metrics interface {
	TickCompleted(ctx context.Context, d time.Duration, err error)
	StartFailed(ctx context.Context, driver job.Driver)
	HubCreated(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) TickCompleted(context.Context, time.Duration, error) {}
func (nopMetrics) StartFailed(context.Context, job.Driver)             {}
func (nopMetrics) HubCreated(context.Context)                          {}
