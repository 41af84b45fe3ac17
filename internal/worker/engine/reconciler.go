package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrikpihlstrom/anna-worker/common/retry"
	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
)

// Config holds reconciler settings.
type Config struct {
	// MaxConcurrent bounds the number of live sandboxes. Defaults to 2.
	MaxConcurrent int
	// Interval is the delay between successful ticks. Defaults to 2s.
	Interval time.Duration
	// MaxBackoff caps the delay after consecutive failed ticks. Defaults to 30s.
	MaxBackoff time.Duration
	// AfterTick runs after every tick on the reconciler goroutine. It may
	// read the registry and clear published flags.
	AfterTick func(ctx context.Context, reg *Registry)
	Metrics   Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = c.Interval
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Stats is a point-in-time summary of the last tick, safe to read from any
// goroutine.
type Stats struct {
	Jobs      int                `json:"jobs"`
	ByStatus  map[job.Status]int `json:"by_status"`
	Active    int                `json:"active"`
	Ticks     uint64             `json:"ticks"`
	LastTick  time.Time          `json:"last_tick"`
	LastError string             `json:"last_error,omitempty"`
	HubID     string             `json:"hub_id,omitempty"`
}

// Reconciler owns the registry and runs one tick at a time.
type Reconciler struct {
	cfg    Config
	reg    *Registry
	intake *Intake
	hub    *HubSupervisor
	life   *Lifecycle

	mu      sync.RWMutex
	stats   Stats
	tracked map[string]struct{}
}

// NewReconciler wires the reconciler. The registry must not be mutated by
// anyone else while Run is active.
func NewReconciler(cfg Config, reg *Registry, intake *Intake, hub *HubSupervisor, life *Lifecycle) *Reconciler {
	if reg == nil {
		reg = NewRegistry()
	}
	if intake == nil {
		intake = NewIntake(0)
	}
	return &Reconciler{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		intake:  intake,
		hub:     hub,
		life:    life,
		stats:   Stats{ByStatus: map[job.Status]int{}},
		tracked: map[string]struct{}{},
	}
}

// Registry returns the registry. Only use it from AfterTick or when Run is
// not active.
func (r *Reconciler) Registry() *Registry { return r.reg }

// Intake returns the command intake for producers.
func (r *Reconciler) Intake() *Intake { return r.intake }

// Tick runs one reconciliation pass:
//
//  1. drain the intake into the registry
//  2. ensure the hub (failures are logged, never returned)
//  3. apply per-status transitions to every job
//  4. admit at most one pending job
//
// The returned error joins every deferred per-job error of this pass.
func (r *Reconciler) Tick(ctx context.Context) error {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithTraceID(ctx, trace.GenerateID())
	}
	log := observability.WithTrace(ctx)
	started := time.Now()

	var errs []error
	errs = append(errs, r.applyIntake(ctx)...)

	var hubID string
	if r.hub != nil {
		h, err := r.hub.Ensure(ctx)
		if err != nil {
			log.Error("hub supervision failed, retrying next tick", "err", err)
		}
		hubID = h.ID
	}

	alive, err := r.life.Reconcile(ctx, r.reg)
	if err != nil {
		errs = append(errs, err)
	}

	isAlive := func(j *job.Job) bool { return alive[j.ID] }
	if CanStartMore(r.reg.Jobs(), isAlive, r.cfg.MaxConcurrent) {
		if j, err := r.life.StartNext(ctx, r.reg); err != nil {
			errs = append(errs, err)
		} else if j != nil {
			log.Debug("job admitted", "job", j.ID)
		}
	}

	tickErr := errors.Join(errs...)
	r.record(hubID, tickErr)
	r.cfg.Metrics.TickCompleted(ctx, time.Since(started), tickErr)
	if tickErr != nil {
		log.Warn("tick finished with errors", "err", tickErr, "duration", time.Since(started))
	} else {
		log.Debug("tick finished", "jobs", r.reg.Len(), "duration", time.Since(started))
	}
	return tickErr
}

// Run ticks until ctx is cancelled. The first tick runs immediately. A failed
// tick delays the next one with exponential backoff capped at MaxBackoff;
// intake commands wake the loop early only while ticks are succeeding.
func (r *Reconciler) Run(ctx context.Context) error {
	backoff := retry.Backoff{Initial: r.cfg.Interval, Max: r.cfg.MaxBackoff}
	failures := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-r.intake.Wake():
			if failures > 0 {
				continue
			}
			timer.Stop()
		}

		tickCtx := trace.WithTraceID(ctx, trace.GenerateID())
		if err := r.Tick(tickCtx); err != nil {
			failures++
		} else {
			failures = 0
		}
		if r.cfg.AfterTick != nil {
			r.cfg.AfterTick(tickCtx, r.reg)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		delay := r.cfg.Interval
		if failures > 0 {
			delay = backoff.Delay(failures)
		}
		timer.Reset(delay)
	}
}

// Stats returns a copy of the last tick's summary.
func (r *Reconciler) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stats
	s.ByStatus = make(map[job.Status]int, len(r.stats.ByStatus))
	for k, v := range r.stats.ByStatus {
		s.ByStatus[k] = v
	}
	return s
}

// Tracked reports whether the registry held id at the end of the last tick.
// Jobs still waiting in the intake are not tracked yet.
func (r *Reconciler) Tracked(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tracked[id]
	return ok
}

func (r *Reconciler) applyIntake(ctx context.Context) []error {
	log := observability.WithTrace(ctx)
	var errs []error

	for _, c := range r.intake.drain() {
		switch c.kind {
		case commandSubmit:
			if err := c.desc.Validate(); err != nil {
				log.Warn("intake rejected job", "job", c.desc.ID, "err", err)
				errs = append(errs, err)
				continue
			}
			j := c.desc.NewJob()
			if err := r.reg.Add(j); err != nil {
				log.Warn("intake rejected job", "job", j.ID, "err", err)
				errs = append(errs, err)
				continue
			}
			log.Info("job accepted", "job", j.ID, "driver", j.Driver, "site", j.Site)
		case commandCancel:
			j, ok := r.reg.Get(c.id)
			if !ok {
				log.Info("cancel for unknown job ignored", "job", c.id)
				continue
			}
			if j.Status != job.StatusRemove {
				log.Info("job marked for removal", "job", j.ID, "status", j.Status)
				j.Status = job.StatusRemove
			}
		default:
			errs = append(errs, fmt.Errorf("unknown intake command %d", c.kind))
		}
	}
	return errs
}

func (r *Reconciler) record(hubID string, err error) {
	counts := r.reg.Counts()
	jobs := r.reg.Jobs()
	tracked := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		tracked[j.ID] = struct{}{}
	}
	active := 0
	for s, n := range counts {
		if s.Active() {
			active += n
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Jobs = r.reg.Len()
	r.stats.ByStatus = counts
	r.stats.Active = active
	r.stats.Ticks++
	r.stats.LastTick = time.Now()
	r.stats.HubID = hubID
	r.tracked = tracked
	r.stats.LastError = ""
	if err != nil {
		r.stats.LastError = err.Error()
	}
}
