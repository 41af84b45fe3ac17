// Package listener is the worker's HTTP surface: it accepts job ids to run,
// cancels jobs, and exposes health, status and metrics.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/common/version"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/queue"
)

// Queue is the part of the remote queue the listener needs.
type Queue interface {
	Fetch(ctx context.Context, id string) (job.Descriptor, error)
	Reserve(ctx context.Context, id string) error
}

// Intake accepts commands for the reconciler.
type Intake interface {
	Submit(d job.Descriptor) error
	Cancel(id string) error
}

// StatusProvider reports the reconciler's last tick.
type StatusProvider interface {
	Stats() engine.Stats
	Tracked(id string) bool
}

// Config configures the server.
type Config struct {
	Addr string
	// RatePerSecond limits job submissions and cancellations. Zero disables
	// limiting.
	RatePerSecond float64
	Burst         int
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the intake HTTP server.
type Server struct {
	cfg       Config
	queue     Queue
	intake    Intake
	status    StatusProvider
	limiter   *rate.Limiter
	router    chi.Router
	server    *http.Server
	startedAt time.Time
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string             `json:"status"`
	Version    string             `json:"version"`
	Commit     string             `json:"commit"`
	BuildTime  string             `json:"build_time"`
	StartedAt  time.Time          `json:"started_at"`
	UptimeSecs float64            `json:"uptime_seconds"`
	Jobs       int                `json:"jobs"`
	ByStatus   map[job.Status]int `json:"by_status"`
	Active     int                `json:"active"`
	Ticks      uint64             `json:"ticks"`
	LastTick   time.Time          `json:"last_tick"`
	LastError  string             `json:"last_error,omitempty"`
	HubID      string             `json:"hub_id,omitempty"`
}

type acceptedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the server (does not start it).
func New(cfg Config, q Queue, in Intake, sp StatusProvider) *Server {
	s := &Server{
		cfg:       cfg,
		queue:     q,
		intake:    in,
		status:    sp,
		startedAt: time.Now(),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(traceMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Route("/jobs", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/{id}", s.handleSubmit)
		r.Delete("/{id}", s.handleCancel)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the port is
// open; the server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listener: listen %s: %w", s.cfg.Addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("listener started", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listener stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("listener shutdown error", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
	}
	if s.status != nil {
		st := s.status.Stats()
		resp.Jobs = st.Jobs
		resp.ByStatus = st.ByStatus
		resp.Active = st.Active
		resp.Ticks = st.Ticks
		resp.LastTick = st.LastTick
		resp.LastError = st.LastError
		resp.HubID = st.HubID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmit fetches the job from the queue, reserves it and hands it to
// the reconciler. A 202 means the job was queued for intake; a job already
// in the registry is refused with 409 without touching the queue.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	log := observability.WithTrace(ctx).With("job", id)

	if s.status != nil && s.status.Tracked(id) {
		log.Warn("job already tracked")
		writeError(w, http.StatusConflict, fmt.Errorf("job %s: %w", id, engine.ErrDuplicateJob))
		return
	}

	d, err := s.queue.Fetch(ctx, id)
	switch {
	case errors.Is(err, job.ErrInvalid):
		log.Warn("job rejected", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	case queue.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		log.Error("fetching job failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if d.ID != id {
		writeError(w, http.StatusBadRequest, fmt.Errorf("queue returned job %s for %s", d.ID, id))
		return
	}
	if err := d.Validate(); err != nil {
		log.Warn("job rejected", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.queue.Reserve(ctx, id); err != nil {
		log.Error("reserving job failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}

	if err := s.intake.Submit(d); err != nil {
		writeIntakeError(w, err)
		return
	}
	log.Info("job submitted", "driver", d.Driver, "site", d.Site)
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: id, Status: string(job.StatusPending)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.intake.Cancel(id); err != nil {
		writeIntakeError(w, err)
		return
	}
	observability.WithTrace(r.Context()).Info("job cancel requested", "job", id)
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: id, Status: string(job.StatusRemove)})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware honours an incoming X-Trace-ID or starts a new trace.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = trace.GenerateID()
		}
		w.Header().Set("X-Trace-ID", id)
		next.ServeHTTP(w, r.WithContext(trace.WithTraceID(r.Context(), id)))
	})
}

func writeIntakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrInvalid):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, engine.ErrIntakeFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("listener: failed to encode JSON response", "err", err)
	}
}
