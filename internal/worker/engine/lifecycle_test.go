package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/engine"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

var testTemplate = job.LaunchTemplate{
	ImagePrefix: "patrikpihlstrom/anna-",
	ImageTag:    "latest",
	Entrypoint:  []string{"python3", "/home/seluser/anna/anna/__main__.py", "-v", "-H"},
	ScratchBind: "/tmp/anna/:/tmp:rw",
	ShmSize:     2 << 30,
	HubName:     "hub",
	QueueHost:   "https://queue.example.com",
	QueueToken:  "s3cr3t",
}

type recorder struct {
	transitions []engine.Transition
}

func (r *recorder) Observe(_ context.Context, t engine.Transition) {
	r.transitions = append(r.transitions, t)
}

func newLifecycle(gw runtime.Gateway, obs engine.Observer, m engine.Metrics) *engine.Lifecycle {
	return engine.NewLifecycle(gw, engine.LifecycleConfig{
		Template: testTemplate,
		Observer: obs,
		Metrics:  m,
	})
}

func TestLifecycle_StartRunsSandbox(t *testing.T) {
	gw := newFakeGateway()
	rec := &recorder{}
	life := newLifecycle(gw, rec, nil)
	j := pendingJob("42", job.DriverFirefox)

	if err := life.Start(context.Background(), j); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.Status != job.StatusRunning || j.Container == "" || !j.Changed {
		t.Fatalf("unexpected job after start: %+v", j)
	}
	if want := "firefox-example.com-" + j.Container; j.Tag != want {
		t.Errorf("tag = %q, want %q", j.Tag, want)
	}

	spec := gw.created[0]
	if spec.Image != "patrikpihlstrom/anna-firefox:latest" {
		t.Errorf("image = %q", spec.Image)
	}
	cmd := strings.Join(spec.Cmd, " ")
	for _, want := range []string{"-d firefox", "-i 42", "-s example.com", "-t s3cr3t", "--host https://queue.example.com"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command %q missing %q", cmd, want)
		}
	}
	if len(spec.Links) != 1 || spec.Links[0] != "hub:hub" {
		t.Errorf("links = %v", spec.Links)
	}
	if len(spec.Binds) != 1 || spec.Binds[0] != "/tmp/anna/:/tmp:rw" {
		t.Errorf("binds = %v", spec.Binds)
	}

	if len(rec.transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(rec.transitions))
	}
	first, second := rec.transitions[0], rec.transitions[1]
	if first.From != job.StatusPending || first.To != job.StatusStarting || first.Tag != "firefox-example.com" {
		t.Errorf("unexpected first transition %+v", first)
	}
	if second.To != job.StatusRunning || second.Container != j.Container {
		t.Errorf("unexpected second transition %+v", second)
	}
}

func TestLifecycle_StartRejectsUnsupportedDriver(t *testing.T) {
	gw := newFakeGateway()
	life := newLifecycle(gw, nil, nil)
	j := pendingJob("1", "safari")

	err := life.Start(context.Background(), j)
	if !errors.Is(err, job.ErrInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if j.Status != job.StatusError || j.Container != "" || !j.Changed {
		t.Errorf("unexpected job %+v", j)
	}
	if len(gw.created) != 0 {
		t.Error("sandbox created for an unsupported driver")
	}
}

func TestLifecycle_StartFailureStaysPendingThenErrors(t *testing.T) {
	gw := newFakeGateway()
	busy := errors.New("daemon busy")
	gw.createErr = func(runtime.SandboxSpec) error { return busy }
	metrics := &countingMetrics{}
	life := newLifecycle(gw, nil, metrics)
	j := pendingJob("1", job.DriverChrome)

	for attempt := 1; attempt < engine.DefaultStartAttempts; attempt++ {
		err := life.Start(context.Background(), j)
		if !errors.Is(err, busy) {
			t.Fatalf("attempt %d: expected creation error, got %v", attempt, err)
		}
		if j.Status != job.StatusPending || j.Container != "" {
			t.Fatalf("attempt %d: job advanced on failure: %+v", attempt, j)
		}
	}

	if err := life.Start(context.Background(), j); !errors.Is(err, busy) {
		t.Fatalf("final attempt: expected creation error, got %v", err)
	}
	if j.Status != job.StatusError || j.Container != "" || !j.Changed {
		t.Errorf("expected error status after giving up, got %+v", j)
	}
	if metrics.startFailures != engine.DefaultStartAttempts {
		t.Errorf("expected %d start failures, got %d", engine.DefaultStartAttempts, metrics.startFailures)
	}
}

func TestLifecycle_StartRequiresPending(t *testing.T) {
	life := newLifecycle(newFakeGateway(), nil, nil)
	j := withStatus("1", job.StatusRunning)
	if err := life.Start(context.Background(), j); err == nil {
		t.Fatal("expected error starting a running job")
	}
}

func TestLifecycle_CompletionHeuristic(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   job.Status
	}{
		{"all passed", "loading\n10/10\n", job.StatusDone},
		{"some failed", "7/10", job.StatusFailed},
		{"colored marker", "\x1b[92m3/3\x1b[0m\n", job.StatusDone},
		{"not a number", "not-a-number/10", job.StatusError},
		{"no marker", "Traceback (most recent call last)", job.StatusError},
		{"empty output", "", job.StatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway()
			reg := engine.NewRegistry()
			life := newLifecycle(gw, nil, nil)
			j := pendingJob("1", job.DriverChrome)
			_ = reg.Add(j)
			if err := life.Start(context.Background(), j); err != nil {
				t.Fatal(err)
			}
			j.Changed = false
			gw.exit(j.Container, tc.output)

			alive, err := life.Reconcile(context.Background(), reg)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if alive[j.ID] {
				t.Error("exited job reported alive")
			}
			if j.Status != tc.want {
				t.Errorf("status = %s, want %s", j.Status, tc.want)
			}
			if !j.Changed {
				t.Error("changed not set on completion")
			}
			if strings.Contains(j.Log, "\x1b[") {
				t.Errorf("log still contains escape sequences: %q", j.Log)
			}
		})
	}
}

func TestLifecycle_MissingContainerUsesSentinelLog(t *testing.T) {
	gw := newFakeGateway()
	reg := engine.NewRegistry()
	life := newLifecycle(gw, nil, nil)
	j := pendingJob("1", job.DriverChrome)
	_ = reg.Add(j)
	_ = life.Start(context.Background(), j)
	gw.vanish(j.Container)

	if _, err := life.Reconcile(context.Background(), reg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if j.Log != job.LogsUnavailable || j.Status != job.StatusError {
		t.Errorf("unexpected job %+v", j)
	}
}

func TestLifecycle_LogFetchFailureUsesSentinelLog(t *testing.T) {
	gw := newFakeGateway()
	reg := engine.NewRegistry()
	life := newLifecycle(gw, nil, nil)
	j := pendingJob("1", job.DriverChrome)
	_ = reg.Add(j)
	_ = life.Start(context.Background(), j)
	gw.exit(j.Container, "10/10")
	gw.logsErr = errors.New("connection reset")

	if _, err := life.Reconcile(context.Background(), reg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if j.Log != job.LogsUnavailable || j.Status != job.StatusError {
		t.Errorf("unexpected job %+v", j)
	}
}

func TestLifecycle_TransientLookupDefersTransition(t *testing.T) {
	gw := newFakeGateway()
	reg := engine.NewRegistry()
	life := newLifecycle(gw, nil, nil)
	j := pendingJob("1", job.DriverChrome)
	_ = reg.Add(j)
	_ = life.Start(context.Background(), j)
	j.Changed = false
	gw.getErr[j.Container] = runtime.NewError("inspect", j.Container, runtime.KindUnavailable, errors.New("timeout"))

	alive, err := life.Reconcile(context.Background(), reg)
	if !errors.Is(err, runtime.ErrUnavailable) {
		t.Fatalf("expected surfaced runtime error, got %v", err)
	}
	if j.Status != job.StatusRunning || j.Changed {
		t.Errorf("job mutated on transient error: %+v", j)
	}
	if !alive[j.ID] {
		t.Error("job with unknown state must keep its admission slot")
	}
}

func TestLifecycle_DoneCleanupIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	reg := engine.NewRegistry()
	life := newLifecycle(gw, nil, nil)
	j := pendingJob("1", job.DriverChrome)
	_ = reg.Add(j)
	_ = life.Start(context.Background(), j)
	gw.exit(j.Container, "1/1")

	for i := 0; i < 3; i++ {
		if _, err := life.Reconcile(context.Background(), reg); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if j.Status != job.StatusDone {
		t.Fatalf("status = %s, want done", j.Status)
	}
	if gw.has(j.Container) {
		t.Error("done container not removed")
	}
	if len(gw.removed) != 1 {
		t.Errorf("expected exactly one removal, got %v", gw.removed)
	}
	if contains(gw.stopped, j.Container) {
		t.Error("exited container should not be stopped")
	}
	if _, ok := reg.Get(j.ID); !ok {
		t.Error("done job must stay in the registry")
	}
}

func TestLifecycle_TeardownMissingContainer(t *testing.T) {
	life := newLifecycle(newFakeGateway(), nil, nil)
	j := withStatus("1", job.StatusRemove)
	j.Container = "gone"
	if err := life.Teardown(context.Background(), j); err != nil {
		t.Fatalf("teardown of a missing container: %v", err)
	}
}

func TestLifecycle_RemoveEvicts(t *testing.T) {
	gw := newFakeGateway()
	rec := &recorder{}
	reg := engine.NewRegistry()
	life := newLifecycle(gw, rec, nil)
	j := pendingJob("1", job.DriverChrome)
	_ = reg.Add(j)
	_ = life.Start(context.Background(), j)
	container := j.Container
	j.Status = job.StatusRemove

	if _, err := life.Reconcile(context.Background(), reg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("job not evicted")
	}
	if !contains(gw.stopped, container) || gw.has(container) {
		t.Errorf("container not torn down: stopped=%v", gw.stopped)
	}
	last := rec.transitions[len(rec.transitions)-1]
	if !last.Evicted || last.JobID != "1" {
		t.Errorf("expected eviction transition, got %+v", last)
	}
}

func TestLifecycle_RemovePendingJob(t *testing.T) {
	gw := newFakeGateway()
	reg := engine.NewRegistry()
	life := newLifecycle(gw, nil, nil)
	j := pendingJob("1", job.DriverChrome)
	j.Status = job.StatusRemove
	_ = reg.Add(j)

	if _, err := life.Reconcile(context.Background(), reg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if reg.Len() != 0 {
		t.Error("job without container not evicted")
	}
	if len(gw.stopped) != 0 {
		t.Errorf("nothing to stop, got %v", gw.stopped)
	}
}
