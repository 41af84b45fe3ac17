package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrikpihlstrom/anna-worker/common/redact"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

// DefaultStartAttempts is the number of consecutive sandbox creation failures
// after which a job is marked as error.
const DefaultStartAttempts = 3

// Lifecycle drives jobs through their state machine:
//
//	pending → starting → running → done | failed | error
//	any → rm (caller initiated, evicts the job)
type Lifecycle struct {
	rt            runtime.Gateway
	tmpl          job.LaunchTemplate
	observer      Observer
	metrics       Metrics
	startAttempts int

	// attempts counts consecutive creation failures per pending job.
	attempts map[string]int
	// reaped records done jobs whose container was already cleaned up.
	reaped map[string]bool
	now    func() time.Time
}

// LifecycleConfig configures a Lifecycle.
type LifecycleConfig struct {
	Template      job.LaunchTemplate
	StartAttempts int
	Observer      Observer
	Metrics       Metrics
}

// NewLifecycle creates a Lifecycle on top of a runtime gateway.
func NewLifecycle(rt runtime.Gateway, cfg LifecycleConfig) *Lifecycle {
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = DefaultStartAttempts
	}
	if cfg.Observer == nil {
		cfg.Observer = Observers(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Lifecycle{
		rt:            rt,
		tmpl:          cfg.Template,
		observer:      cfg.Observer,
		metrics:       cfg.Metrics,
		startAttempts: cfg.StartAttempts,
		attempts:      make(map[string]int),
		reaped:        make(map[string]bool),
		now:           time.Now,
	}
}

// Reconcile applies the per-status rules to every tracked job: forced
// removal, completion detection and cleanup of done jobs. It returns the
// liveness of each active job as observed in this pass. A job whose runtime
// call failed is left untouched, reported as alive, and its error is
// included in the returned error.
func (l *Lifecycle) Reconcile(ctx context.Context, reg *Registry) (map[string]bool, error) {
	alive := make(map[string]bool)
	var errs []error

	for _, j := range reg.Jobs() {
		switch {
		case j.Status == job.StatusRemove:
			if err := l.evict(ctx, reg, j); err != nil {
				errs = append(errs, err)
			}
		case j.Status.Active():
			live, err := l.isAlive(ctx, j)
			if err != nil {
				alive[j.ID] = true
				errs = append(errs, fmt.Errorf("job %s: %w", j.ID, err))
				continue
			}
			if live {
				alive[j.ID] = true
				continue
			}
			l.Complete(ctx, j)
		case j.Status == job.StatusDone:
			if err := l.cleanup(ctx, j); err != nil {
				errs = append(errs, fmt.Errorf("job %s: %w", j.ID, err))
			}
		}
	}
	return alive, errors.Join(errs...)
}

// StartNext starts the first pending job in registry order. It returns the
// job it tried to start, or nil when nothing is pending.
func (l *Lifecycle) StartNext(ctx context.Context, reg *Registry) (*job.Job, error) {
	j := reg.NextPending()
	if j == nil {
		return nil, nil
	}
	return j, l.Start(ctx, j)
}

// Start runs pending → starting → running for j.
//
// An unsupported driver marks the job as error and returns a validation
// error. A sandbox creation failure leaves the job pending with no container
// and returns the error; after the configured number of consecutive failures
// the job is marked as error instead.
func (l *Lifecycle) Start(ctx context.Context, j *job.Job) error {
	log := observability.WithTrace(ctx).With("job", j.ID)

	if j.Status != job.StatusPending {
		return fmt.Errorf("start job %s: status is %s, not pending", j.ID, j.Status)
	}
	if err := job.ValidateDriver(j.Driver); err != nil {
		log.Warn("job rejected before start", "driver", j.Driver, "err", err)
		l.transition(ctx, j, job.StatusError)
		return fmt.Errorf("start job %s: %w", j.ID, err)
	}

	spec := l.tmpl.Sandbox(j)
	log.Debug("creating sandbox", "image", spec.Image,
		"cmd", strings.Join(redact.Args(spec.Cmd, job.TokenFlag), " "))

	id, err := l.rt.CreateAndRun(ctx, spec)
	if err != nil {
		l.metrics.StartFailed(ctx, j.Driver)
		l.attempts[j.ID]++
		n := l.attempts[j.ID]
		if n >= l.startAttempts {
			delete(l.attempts, j.ID)
			log.Error("sandbox creation failed, giving up", "attempts", n, "err", err)
			l.transition(ctx, j, job.StatusError)
			return fmt.Errorf("start job %s: giving up after %d attempts: %w", j.ID, n, err)
		}
		log.Warn("sandbox creation failed, will retry", "attempt", n, "max", l.startAttempts, "err", err)
		return fmt.Errorf("start job %s (attempt %d/%d): %w", j.ID, n, l.startAttempts, err)
	}
	delete(l.attempts, j.ID)

	l.transition(ctx, j, job.StatusStarting)
	j.Container = id
	j.Changed = true
	l.transition(ctx, j, job.StatusRunning)
	log.Info("job running", "container", id, "tag", j.Tag)
	return nil
}

// Complete fetches the job's output and derives its final status.
func (l *Lifecycle) Complete(ctx context.Context, j *job.Job) {
	log := observability.WithTrace(ctx).With("job", j.ID)

	j.Log = l.fetchLogs(ctx, j)
	j.Changed = true
	to := job.Outcome(j.Log)
	l.transition(ctx, j, to)
	log.Info("job completed", "status", to, "container", j.Container)
}

// Teardown stops and removes the job's container. Missing containers are
// not an error.
func (l *Lifecycle) Teardown(ctx context.Context, j *job.Job) error {
	if j.Container == "" {
		return nil
	}
	if err := l.rt.Stop(ctx, j.Container); err != nil {
		return fmt.Errorf("stop container %s: %w", j.Container, err)
	}
	if err := l.rt.Remove(ctx, j.Container); err != nil {
		return fmt.Errorf("remove container %s: %w", j.Container, err)
	}
	return nil
}

func (l *Lifecycle) evict(ctx context.Context, reg *Registry, j *job.Job) error {
	if err := l.Teardown(ctx, j); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	reg.Remove(j.ID)
	delete(l.attempts, j.ID)
	delete(l.reaped, j.ID)

	observability.WithTrace(ctx).Info("job removed", "job", j.ID, "container", j.Container)
	l.observer.Observe(ctx, Transition{
		JobID:     j.ID,
		From:      job.StatusRemove,
		To:        job.StatusRemove,
		Tag:       j.Tag,
		Container: j.Container,
		Evicted:   true,
		At:        l.now(),
	})
	return nil
}

// cleanup stops and removes the container of a done job once.
func (l *Lifecycle) cleanup(ctx context.Context, j *job.Job) error {
	if j.Container == "" || l.reaped[j.ID] {
		return nil
	}
	c, err := l.rt.Get(ctx, j.Container)
	if runtime.IsNotFound(err) {
		l.reaped[j.ID] = true
		return nil
	}
	if err != nil {
		return err
	}
	if c.State != runtime.StateExited {
		if err := l.rt.Stop(ctx, j.Container); err != nil {
			return fmt.Errorf("stop container %s: %w", j.Container, err)
		}
	}
	if err := l.rt.Remove(ctx, j.Container); err != nil {
		return fmt.Errorf("remove container %s: %w", j.Container, err)
	}
	l.reaped[j.ID] = true
	observability.WithTrace(ctx).Debug("done job cleaned up", "job", j.ID, "container", j.Container)
	return nil
}

func (l *Lifecycle) isAlive(ctx context.Context, j *job.Job) (bool, error) {
	if j.Container == "" {
		return false, nil
	}
	c, err := l.rt.Get(ctx, j.Container)
	if runtime.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.State.Alive(), nil
}

func (l *Lifecycle) fetchLogs(ctx context.Context, j *job.Job) string {
	if j.Container == "" {
		return job.LogsUnavailable
	}
	raw, err := l.rt.Logs(ctx, j.Container)
	if err != nil {
		if !runtime.IsNotFound(err) {
			observability.WithTrace(ctx).Warn("could not fetch job logs", "job", j.ID, "err", err)
		}
		return job.LogsUnavailable
	}
	return job.StripANSI(raw)
}

// transition moves j to status to, recomputes its tag and notifies observers.
func (l *Lifecycle) transition(ctx context.Context, j *job.Job, to job.Status) {
	from := j.Status
	j.Status = to
	j.Tag = job.Tag(j.Driver, j.Site, j.Container)
	j.Changed = true
	l.observer.Observe(ctx, Transition{
		JobID:     j.ID,
		From:      from,
		To:        to,
		Tag:       j.Tag,
		Container: j.Container,
		At:        l.now(),
	})
}
