package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

const meterName = "anna-worker"

// InitMetrics sets up an OpenTelemetry meter provider backed by a Prometheus
// exporter with its own registry. It returns the /metrics handler and a
// shutdown function to call on exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), provider.Shutdown, nil
}

// Metrics records worker counters. It satisfies the engine's Metrics
// interface.
type Metrics struct {
	meter         metric.Meter
	ticks         metric.Int64Counter
	tickFailures  metric.Int64Counter
	tickDuration  metric.Float64Histogram
	transitions   metric.Int64Counter
	startFailures metric.Int64Counter
	hubCreations  metric.Int64Counter
	publishes     metric.Int64Counter
}

// NewMetrics creates the worker instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{meter: meter}

	var err error
	if m.ticks, err = meter.Int64Counter("anna.worker.ticks",
		metric.WithDescription("Reconciliation ticks run")); err != nil {
		return nil, err
	}
	if m.tickFailures, err = meter.Int64Counter("anna.worker.tick.failures",
		metric.WithDescription("Ticks that returned an error")); err != nil {
		return nil, err
	}
	if m.tickDuration, err = meter.Float64Histogram("anna.worker.tick.duration",
		metric.WithDescription("Tick duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("anna.worker.job.transitions",
		metric.WithDescription("Job status transitions by target status")); err != nil {
		return nil, err
	}
	if m.startFailures, err = meter.Int64Counter("anna.worker.job.start.failures",
		metric.WithDescription("Sandbox creation failures by driver")); err != nil {
		return nil, err
	}
	if m.hubCreations, err = meter.Int64Counter("anna.worker.hub.creations",
		metric.WithDescription("Hub containers created")); err != nil {
		return nil, err
	}
	if m.publishes, err = meter.Int64Counter("anna.worker.publishes",
		metric.WithDescription("Job updates sent to the remote queue")); err != nil {
		return nil, err
	}
	return m, nil
}

// TickCompleted records one reconciliation tick.
func (m *Metrics) TickCompleted(ctx context.Context, d time.Duration, err error) {
	m.ticks.Add(ctx, 1)
	m.tickDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.tickFailures.Add(ctx, 1)
	}
}

// StartFailed records a failed sandbox creation.
func (m *Metrics) StartFailed(ctx context.Context, driver job.Driver) {
	m.startFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("driver", string(driver))))
}

// HubCreated records a hub (re)creation.
func (m *Metrics) HubCreated(ctx context.Context) {
	m.hubCreations.Add(ctx, 1)
}

// TransitionRecorded counts a job entering status to.
func (m *Metrics) TransitionRecorded(ctx context.Context, to job.Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}

// PublishRecorded counts an update sent to the remote queue.
func (m *Metrics) PublishRecorded(ctx context.Context, ok bool) {
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// WatchJobs registers an observable gauge reporting the number of tracked
// jobs per status. counts is called on every scrape.
func (m *Metrics) WatchJobs(counts func() map[job.Status]int) error {
	_, err := m.meter.Int64ObservableGauge("anna.worker.jobs",
		metric.WithDescription("Tracked jobs by status"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			for status, n := range counts() {
				obs.Observe(int64(n), metric.WithAttributes(attribute.String("status", string(status))))
			}
			return nil
		}),
	)
	return err
}
