package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

// ErrHubUnavailable is returned when the hub could not be brought up within
// the configured number of attempts.
var ErrHubUnavailable = errors.New("hub unavailable")

// HubConfig describes the shared dependency container.
type HubConfig struct {
	// Name is the fixed container name jobs link to. Defaults to "hub".
	Name string
	// Image defaults to "selenium/hub".
	Image string
	// Port is published on the same host port. Defaults to 4444.
	Port int
	// MaxAttempts bounds the recovery loop in Ensure. Defaults to 3.
	MaxAttempts int
}

func (c HubConfig) withDefaults() HubConfig {
	if c.Name == "" {
		c.Name = "hub"
	}
	if c.Image == "" {
		c.Image = "selenium/hub"
	}
	if c.Port == 0 {
		c.Port = 4444
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// HubHandle identifies the running hub.
type HubHandle struct {
	ID   string
	Name string
}

// HubSupervisor keeps exactly one hub container running.
type HubSupervisor struct {
	rt      runtime.Gateway
	cfg     HubConfig
	metrics Metrics
}

// NewHubSupervisor creates a supervisor. metrics may be nil.
func NewHubSupervisor(rt runtime.Gateway, cfg HubConfig, metrics Metrics) *HubSupervisor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &HubSupervisor{rt: rt, cfg: cfg.withDefaults(), metrics: metrics}
}

// Ensure makes sure the hub is running, removing a dead hub and recreating
// a missing one. Each attempt looks the hub up by name; a stale container
// holding the name is stopped and removed before the next attempt. After
// MaxAttempts the last error is returned wrapped in ErrHubUnavailable.
// Ensure never touches jobs.
func (h *HubSupervisor) Ensure(ctx context.Context) (HubHandle, error) {
	log := observability.WithTrace(ctx)
	var lastErr error

	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return HubHandle{}, err
		}

		c, err := h.rt.Get(ctx, h.cfg.Name)
		switch {
		case err == nil && c.State == runtime.StateRunning:
			return HubHandle{ID: c.ID, Name: h.cfg.Name}, nil
		case err == nil:
			log.Warn("hub not running, removing", "hub", h.cfg.Name, "state", c.State, "attempt", attempt)
			if err := h.rt.Remove(ctx, h.cfg.Name); err != nil {
				lastErr = fmt.Errorf("remove dead hub: %w", err)
				continue
			}
		case runtime.IsNotFound(err):
			// fall through to creation
		default:
			lastErr = fmt.Errorf("look up hub: %w", err)
			continue
		}

		id, err := h.rt.CreateAndRun(ctx, h.spec())
		if err == nil {
			log.Info("hub started", "hub", h.cfg.Name, "id", id, "image", h.cfg.Image)
			h.metrics.HubCreated(ctx)
			return HubHandle{ID: id, Name: h.cfg.Name}, nil
		}
		lastErr = fmt.Errorf("create hub: %w", err)

		if runtime.KindOf(err) == runtime.KindConflict {
			log.Warn("stale hub holds the name, stopping it", "hub", h.cfg.Name, "attempt", attempt)
			if stopErr := h.rt.Stop(ctx, h.cfg.Name); stopErr != nil {
				lastErr = errors.Join(lastErr, stopErr)
			}
			if rmErr := h.rt.Remove(ctx, h.cfg.Name); rmErr != nil {
				lastErr = errors.Join(lastErr, rmErr)
			}
		}
	}

	return HubHandle{}, fmt.Errorf("%w after %d attempts: %w", ErrHubUnavailable, h.cfg.MaxAttempts, lastErr)
}

func (h *HubSupervisor) spec() runtime.SandboxSpec {
	return runtime.SandboxSpec{
		Name:  h.cfg.Name,
		Image: h.cfg.Image,
		Ports: map[int]int{h.cfg.Port: h.cfg.Port},
	}
}
