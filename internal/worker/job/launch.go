package job

import (
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime"
)

// LaunchTemplate holds the fixed parts of every job sandbox.
type LaunchTemplate struct {
	// ImagePrefix is prepended to the driver, e.g. "patrikpihlstrom/anna-".
	ImagePrefix string
	// ImageTag is appended after a colon, e.g. "latest".
	ImageTag string
	// Entrypoint is the command that runs the job inside the image, before
	// the per-job flags.
	Entrypoint []string
	// ScratchBind is the shared scratch volume in "host:container:mode" form.
	ScratchBind string
	// ShmSize is the /dev/shm allocation in bytes.
	ShmSize int64
	// HubName is the container every job links to.
	HubName string
	// QueueHost and QueueToken let the sandboxed process report to the queue.
	QueueHost  string
	QueueToken string
}

// TokenFlag precedes the queue token on the launch command line.
const TokenFlag = "-t"

// Image returns the image reference for a driver.
func (t LaunchTemplate) Image(d Driver) string {
	tag := t.ImageTag
	if tag == "" {
		tag = "latest"
	}
	return t.ImagePrefix + string(d) + ":" + tag
}

// Command returns the launch command for j.
func (t LaunchTemplate) Command(j *Job) []string {
	cmd := make([]string, 0, len(t.Entrypoint)+10)
	cmd = append(cmd, t.Entrypoint...)
	return append(cmd,
		"-d", string(j.Driver),
		"-i", j.ID,
		"-s", j.Site,
		TokenFlag, t.QueueToken,
		"--host", t.QueueHost,
	)
}

// Sandbox returns the full container spec for j.
func (t LaunchTemplate) Sandbox(j *Job) runtime.SandboxSpec {
	spec := runtime.SandboxSpec{
		Image:   t.Image(j.Driver),
		Cmd:     t.Command(j),
		ShmSize: t.ShmSize,
		Labels:  map[string]string{runtime.JobIDLabel: j.ID},
	}
	if t.ScratchBind != "" {
		spec.Binds = []string{t.ScratchBind}
	}
	if t.HubName != "" {
		spec.Links = []string{t.HubName + ":" + t.HubName}
	}
	return spec
}
