// Package docker provides a Docker Engine implementation of runtime.Gateway.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

const (
	// defaultStopTimeout is how long to wait for graceful container stop before SIGKILL.
	defaultStopTimeout = 10 * time.Second
	// defaultCallTimeout bounds every API call except image pulls.
	defaultCallTimeout = 30 * time.Second
	// defaultPullTimeout bounds a single image pull.
	defaultPullTimeout = 10 * time.Minute

	shortIDLen = 12
)

// Adapter implements runtime.Gateway using the Docker Engine API.
type Adapter struct {
	client      *dockerclient.Client
	stopTimeout time.Duration
	callTimeout time.Duration
	pullTimeout time.Duration
}

var _ runtime.Gateway = (*Adapter)(nil)

// New creates a new Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New() (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newAdapter(cli), nil
}

func newAdapter(cli *dockerclient.Client) *Adapter {
	return &Adapter{
		client:      cli,
		stopTimeout: defaultStopTimeout,
		callTimeout: defaultCallTimeout,
		pullTimeout: defaultPullTimeout,
	}
}

// bound applies the per-call time budget to ctx.
func (a *Adapter) bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Close releases the underlying API client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// CreateAndRun creates and starts a container. A missing image is pulled once
// before giving up. Other missing references, such as a linked container,
// fail with KindNotFound without pulling.
func (a *Adapter) CreateAndRun(ctx context.Context, spec runtime.SandboxSpec) (string, error) {
	if spec.Image == "" {
		return "", runtime.NewError("create", spec.Name, runtime.KindUnknown, errors.New("image is required"))
	}

	cfg, hostCfg := buildConfigs(spec)

	resp, err := a.create(ctx, cfg, hostCfg, spec.Name)
	if err != nil && errdefs.IsNotFound(err) {
		missing, inspectErr := a.imageMissing(ctx, spec.Image)
		if inspectErr != nil {
			return "", classify("inspect image", spec.Image, inspectErr)
		}
		if !missing {
			return "", classify("create", spec.Name, err)
		}
		slog.Info("docker: image not present, pulling", "image", spec.Image)
		if pullErr := a.pull(ctx, spec.Image); pullErr != nil {
			return "", classify("pull", spec.Image, pullErr)
		}
		resp, err = a.create(ctx, cfg, hostCfg, spec.Name)
	}
	if err != nil {
		return "", classify("create", spec.Name, err)
	}

	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup so a failed start never leaves a stale name behind.
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", classify("start", resp.ID, err)
	}

	return shortID(resp.ID), nil
}

// Get inspects a container by id or name.
func (a *Adapter) Get(ctx context.Context, ref string) (runtime.Container, error) {
	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	inspect, err := a.client.ContainerInspect(ctx, ref)
	if err != nil {
		return runtime.Container{}, classify("inspect", ref, err)
	}

	c := runtime.Container{
		ID:    shortID(inspect.ID),
		Name:  strings.TrimPrefix(inspect.Name, "/"),
		State: runtime.StateUnknown,
	}
	if inspect.Config != nil {
		c.Image = inspect.Config.Image
	}
	if inspect.State != nil {
		c.State = parseContainerState(inspect.State.Status)
		c.ExitCode = inspect.State.ExitCode
	}
	return c, nil
}

// Stop gracefully stops the container. Missing containers are ignored.
func (a *Adapter) Stop(ctx context.Context, ref string) error {
	timeout := int(a.stopTimeout.Seconds())
	ctx, cancel := a.bound(ctx, a.callTimeout+a.stopTimeout)
	defer cancel()
	if err := a.client.ContainerStop(ctx, ref, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) || errdefs.IsNotModified(err) {
			return nil
		}
		return classify("stop", ref, err)
	}
	return nil
}

// Remove force-removes the container. Missing containers are ignored.
func (a *Adapter) Remove(ctx context.Context, ref string) error {
	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	if err := a.client.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return classify("remove", ref, err)
	}
	return nil
}

// PruneExited removes stopped containers carrying the worker label.
func (a *Adapter) PruneExited(ctx context.Context) (runtime.PruneReport, error) {
	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	report, err := a.client.ContainersPrune(ctx, filters.NewArgs(
		filters.Arg("label", runtime.ManagedByLabel+"="+runtime.ManagedByValue),
	))
	if err != nil {
		if errdefs.IsConflict(err) {
			return runtime.PruneReport{}, runtime.NewError("prune", "", runtime.KindPruneInProgress, err)
		}
		return runtime.PruneReport{}, classify("prune", "", err)
	}

	removed := make([]string, 0, len(report.ContainersDeleted))
	for _, id := range report.ContainersDeleted {
		removed = append(removed, shortID(id))
	}
	return runtime.PruneReport{Removed: removed, SpaceReclaimed: report.SpaceReclaimed}, nil
}

// Logs returns the demultiplexed stdout and stderr of the container.
func (a *Adapter) Logs(ctx context.Context, ref string) (string, error) {
	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	rc, err := a.client.ContainerLogs(ctx, ref, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", classify("logs", ref, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", classify("logs", ref, err)
	}
	return buf.String(), nil
}

func (a *Adapter) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (container.CreateResponse, error) {
	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	return a.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
}

// imageMissing reports whether ref is absent from the local image store.
func (a *Adapter) imageMissing(ctx context.Context, ref string) (bool, error) {
	ctx, cancel := a.bound(ctx, a.callTimeout)
	defer cancel()
	_, _, err := a.client.ImageInspectWithRaw(ctx, ref)
	switch {
	case err == nil:
		return false, nil
	case errdefs.IsNotFound(err):
		return true, nil
	default:
		return false, err
	}
}

func (a *Adapter) pull(ctx context.Context, ref string) error {
	ctx, cancel := a.bound(ctx, a.pullTimeout)
	defer cancel()
	rc, err := a.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// --- helpers ---

func buildConfigs(spec runtime.SandboxSpec) (*container.Config, *container.HostConfig) {
	labels := map[string]string{
		runtime.ManagedByLabel: runtime.ManagedByValue,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Labels: labels,
	}
	hostCfg := &container.HostConfig{
		Binds:   spec.Binds,
		Links:   spec.Links,
		ShmSize: spec.ShmSize,
	}

	if len(spec.Ports) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		hostCfg.PortBindings = nat.PortMap{}
		for containerPort, hostPort := range spec.Ports {
			p := nat.Port(strconv.Itoa(containerPort) + "/tcp")
			cfg.ExposedPorts[p] = struct{}{}
			hostCfg.PortBindings[p] = []nat.PortBinding{{HostPort: strconv.Itoa(hostPort)}}
		}
	}
	return cfg, hostCfg
}

func classify(op, ref string, err error) error {
	var kind runtime.Kind
	switch {
	case errdefs.IsNotFound(err):
		kind = runtime.KindNotFound
	case errdefs.IsConflict(err):
		kind = runtime.KindConflict
	case errdefs.IsUnavailable(err), errdefs.IsDeadline(err),
		dockerclient.IsErrConnectionFailed(err),
		errors.Is(err, context.DeadlineExceeded):
		kind = runtime.KindUnavailable
	default:
		kind = runtime.KindUnknown
	}
	return runtime.NewError(op, ref, kind, err)
}

func parseContainerState(s string) runtime.ContainerState {
	switch strings.ToLower(s) {
	case "created":
		return runtime.StateCreated
	case "starting":
		return runtime.StateStarting
	case "running":
		return runtime.StateRunning
	case "paused":
		return runtime.StatePaused
	case "restarting":
		return runtime.StateRestarting
	case "removing":
		return runtime.StateRemoving
	case "exited":
		return runtime.StateExited
	case "dead":
		return runtime.StateDead
	default:
		return runtime.StateUnknown
	}
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}
