package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/patrikpihlstrom/anna-worker/common/retry"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/queue"
)

// Updater sends job snapshots to the remote queue.
type Updater interface {
	Update(ctx context.Context, snap job.Snapshot) error
}

// PublishJournal records publish outcomes.
type PublishJournal interface {
	RecordPublish(ctx context.Context, snap job.Snapshot, publishErr error) error
}

// PublishMetrics counts publish outcomes.
type PublishMetrics interface {
	PublishRecorded(ctx context.Context, ok bool)
}

// DefaultPassTimeout bounds one Publish call so an unreachable queue cannot
// hold up the reconciler.
const DefaultPassTimeout = 5 * time.Second

// Publisher drains changed jobs to the remote queue after every tick.
type Publisher struct {
	queue       Updater
	journal     PublishJournal
	metrics     PublishMetrics
	retry       retry.Config
	passTimeout time.Duration
}

// NewPublisher creates a publisher. journal and metrics may be nil.
func NewPublisher(q Updater, journal PublishJournal, metrics PublishMetrics) *Publisher {
	cfg := retry.DefaultConfig
	cfg.ShouldRetry = retryable
	return &Publisher{queue: q, journal: journal, metrics: metrics, retry: cfg, passTimeout: DefaultPassTimeout}
}

// Publish sends every changed job and clears its flag once the queue
// accepted it. Jobs that could not be sent stay changed and are retried
// after the next tick. The pass ends at the first retryable failure: the
// queue is most likely down and the remaining jobs would fail the same way.
func (p *Publisher) Publish(ctx context.Context, reg *engine.Registry) {
	log := observability.WithTrace(ctx)
	if p.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.passTimeout)
		defer cancel()
	}

	changed := reg.Changed()
	for i, j := range changed {
		snap := j.Snapshot()
		err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
			return p.queue.Update(ctx, snap)
		})

		if p.journal != nil {
			if jerr := p.journal.RecordPublish(ctx, snap, err); jerr != nil {
				log.Warn("journal: publish not recorded", "job", snap.ID, "err", jerr)
			}
		}
		if p.metrics != nil {
			p.metrics.PublishRecorded(ctx, err == nil)
		}

		if err != nil {
			log.Warn("job update not published", "job", snap.ID, "status", snap.Status, "err", err)
			if ctx.Err() != nil || retryable(err) {
				if rest := len(changed) - i - 1; rest > 0 {
					log.Info("publishing deferred to next tick", "remaining", rest)
				}
				return
			}
			continue
		}
		reg.MarkPublished(j.ID)
		log.Debug("job update published", "job", snap.ID, "status", snap.Status)
	}
}

// retryable reports whether an update failure may succeed on retry. Client
// errors other than rate limiting are final.
func retryable(err error) bool {
	var se *queue.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
