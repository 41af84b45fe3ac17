// Package app wires the worker together: runtime, reconciler, publisher,
// journal, notifications and the intake listener.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/audit"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/config"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/listener"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/matrix"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/queue"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime/docker"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/store"
)

// App is the worker process.
type App struct {
	config     *config.Config
	runtime    runtime.Gateway
	closeRT    func() error
	queue      *queue.Client
	store      *store.Store
	matrix     *matrix.Client
	metrics    *observability.Metrics
	reconciler *engine.Reconciler
	publisher  *Publisher
	listener   *listener.Server

	shutdownMetrics func(context.Context) error
}

// New connects to Docker and builds the worker.
func New(cfg *config.Config) (*App, error) {
	adapter, err := docker.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Docker runtime: %w", err)
	}
	a, err := NewWithRuntime(cfg, adapter)
	if err != nil {
		adapter.Close()
		return nil, err
	}
	a.closeRT = adapter.Close
	return a, nil
}

// NewWithRuntime builds the worker on top of an existing runtime gateway.
func NewWithRuntime(cfg *config.Config, rt runtime.Gateway) (*App, error) {
	tmpl, err := cfg.LaunchTemplate()
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, runtime: rt}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return nil, err
	}
	a.shutdownMetrics = shutdownMetrics
	if a.metrics, err = observability.NewMetrics(); err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.queue = queue.New(cfg.Queue.Host, cfg.Queue.Token)

	observers := engine.Observers{
		engine.ObserverFunc(func(ctx context.Context, t engine.Transition) {
			a.metrics.TransitionRecorded(ctx, t.To)
		}),
	}

	var journal PublishJournal
	if cfg.JournalPath != "" {
		slog.Info("opening journal", "path", cfg.JournalPath)
		s, err := store.New(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		a.store = s
		journal = s
		observers = append(observers, s)
	}

	if cfg.Matrix.Enabled() {
		slog.Info("connecting to Matrix", "homeserver", cfg.Matrix.Homeserver)
		mc, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
		})
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
		}
		a.matrix = mc
		observers = append(observers, audit.NewMatrixNotifier(mc, cfg.Matrix.NotifyRoom))
	} else {
		observers = append(observers, audit.Noop{})
	}

	life := engine.NewLifecycle(rt, engine.LifecycleConfig{
		Template:      tmpl,
		StartAttempts: cfg.StartAttempts,
		Observer:      observers,
		Metrics:       a.metrics,
	})
	hub := engine.NewHubSupervisor(rt, engine.HubConfig{
		Name:        cfg.Hub.Name,
		Image:       cfg.Hub.Image,
		Port:        cfg.Hub.Port,
		MaxAttempts: cfg.Hub.Attempts,
	}, a.metrics)

	a.publisher = NewPublisher(a.queue, journal, a.metrics)
	a.reconciler = engine.NewReconciler(engine.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		Interval:      cfg.TickInterval,
		MaxBackoff:    cfg.MaxBackoff,
		AfterTick:     a.publisher.Publish,
		Metrics:       a.metrics,
	}, engine.NewRegistry(), engine.NewIntake(cfg.IntakeBuffer), hub, life)

	if err := a.metrics.WatchJobs(func() map[job.Status]int {
		return a.reconciler.Stats().ByStatus
	}); err != nil {
		slog.Warn("failed to register job gauge", "err", err)
	}

	if cfg.ListenAddr != "" {
		a.listener = listener.New(listener.Config{
			Addr:          cfg.ListenAddr,
			RatePerSecond: cfg.Listener.RatePerSecond,
			Burst:         cfg.Listener.Burst,
			Metrics:       metricsHandler,
		}, a.queue, a.reconciler.Intake(), a.reconciler)
	}

	return a, nil
}

// Reconciler exposes the engine, mainly for tests and the CLI.
func (a *App) Reconciler() *engine.Reconciler { return a.reconciler }

// Handler returns the listener's HTTP handler, or nil when it is disabled.
func (a *App) Handler() http.Handler {
	if a.listener == nil {
		return nil
	}
	return a.listener
}

// Run starts the listener and the reconciliation loop and blocks until ctx
// is cancelled or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.listener != nil {
		if err := a.listener.Start(ctx); err != nil {
			return err
		}
	}

	if a.matrix != nil {
		slog.Info("posting transition notices", "user", a.matrix.UserID(), "room", a.config.Matrix.NotifyRoom)
		if err := a.matrix.JoinRoom(ctx, a.config.Matrix.NotifyRoom); err != nil {
			slog.Warn("could not join notice room; notices may fail", "room", a.config.Matrix.NotifyRoom, "err", err)
		} else if err := a.matrix.SendNotice(a.config.Matrix.NotifyRoom, "✅ anna-worker started"); err != nil {
			slog.Warn("startup notice failed", "err", err)
		}
	}

	slog.Info("worker running",
		"max_concurrent", a.config.MaxConcurrent,
		"tick_interval", a.config.TickInterval,
		"queue", a.config.Queue.Host)

	err := a.reconciler.Run(ctx)
	slog.Info("shutting down")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop releases every resource. Exited worker containers are pruned first.
func (a *App) Stop() {
	if a.listener != nil {
		slog.Info("stopping listener")
		a.listener.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := Prune(ctx, a.runtime); err != nil {
		slog.Warn("prune on shutdown failed", "err", err)
	}

	a.closeStore()
	if a.closeRT != nil {
		if err := a.closeRT(); err != nil {
			slog.Warn("closing runtime client", "err", err)
		}
	}
	if a.shutdownMetrics != nil {
		if err := a.shutdownMetrics(ctx); err != nil {
			slog.Warn("metrics shutdown", "err", err)
		}
	}
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	slog.Info("closing journal")
	if err := a.store.Close(); err != nil {
		slog.Warn("closing journal", "err", err)
	}
}
