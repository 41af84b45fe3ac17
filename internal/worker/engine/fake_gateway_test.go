package engine_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

// fakeGateway is an in-memory runtime.Gateway.
type fakeGateway struct {
	mu   sync.Mutex
	seq  int
	byID map[string]*runtime.Container
	logs map[string]string

	// createErr, when set, is consulted before every creation.
	createErr func(spec runtime.SandboxSpec) error
	// getErr forces Get to fail for a ref.
	getErr map[string]error
	// logsErr forces Logs to fail.
	logsErr error

	created []runtime.SandboxSpec
	stopped []string
	removed []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		byID:   make(map[string]*runtime.Container),
		logs:   make(map[string]string),
		getErr: make(map[string]error),
	}
}

func (f *fakeGateway) find(ref string) *runtime.Container {
	if c, ok := f.byID[ref]; ok {
		return c
	}
	for _, c := range f.byID {
		if c.Name != "" && c.Name == ref {
			return c
		}
	}
	return nil
}

func (f *fakeGateway) CreateAndRun(_ context.Context, spec runtime.SandboxSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(spec); err != nil {
			return "", err
		}
	}
	if spec.Name != "" && f.find(spec.Name) != nil {
		return "", runtime.NewError("create", spec.Name, runtime.KindConflict, nil)
	}
	f.seq++
	id := fmt.Sprintf("c%03d", f.seq)
	f.byID[id] = &runtime.Container{ID: id, Name: spec.Name, Image: spec.Image, State: runtime.StateRunning}
	f.created = append(f.created, spec)
	return id, nil
}

func (f *fakeGateway) Get(_ context.Context, ref string) (runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.getErr[ref]; ok {
		return runtime.Container{}, err
	}
	c := f.find(ref)
	if c == nil {
		return runtime.Container{}, runtime.NewError("inspect", ref, runtime.KindNotFound, nil)
	}
	return *c, nil
}

func (f *fakeGateway) Stop(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, ref)
	if c := f.find(ref); c != nil {
		c.State = runtime.StateExited
	}
	return nil
}

func (f *fakeGateway) Remove(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ref)
	if c := f.find(ref); c != nil {
		delete(f.byID, c.ID)
	}
	return nil
}

func (f *fakeGateway) PruneExited(_ context.Context) (runtime.PruneReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rep runtime.PruneReport
	for id, c := range f.byID {
		if c.State == runtime.StateExited {
			delete(f.byID, id)
			rep.Removed = append(rep.Removed, id)
		}
	}
	return rep, nil
}

func (f *fakeGateway) Logs(_ context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return "", f.logsErr
	}
	c := f.find(ref)
	if c == nil {
		return "", runtime.NewError("logs", ref, runtime.KindNotFound, nil)
	}
	return f.logs[c.ID], nil
}

// exit marks a container as exited with the given output.
func (f *fakeGateway) exit(id, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[id]; ok {
		c.State = runtime.StateExited
	}
	f.logs[id] = output
}

// vanish deletes a container behind the engine's back.
func (f *fakeGateway) vanish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

// put registers a container directly.
func (f *fakeGateway) put(c runtime.Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[c.ID] = &c
}

func (f *fakeGateway) has(ref string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(ref) != nil
}

func (f *fakeGateway) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeGateway) liveJobs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.byID {
		if c.Name == "" && c.State.Alive() {
			n++
		}
	}
	return n
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
