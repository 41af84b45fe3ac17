// Package job defines the job record the worker reconciles, the intake
// descriptor it is built from, and the pure rules derived from it: tags,
// sandbox launch parameters and the log-based completion heuristic.
package job

import "strings"

// Status is a job's lifecycle state. Values are lowercase on the wire.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusError    Status = "error"
	// StatusRemove is set by the caller to force teardown on the next tick.
	StatusRemove Status = "rm"
)

// Active reports whether the status counts against the concurrency limit.
func (s Status) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// Terminal reports whether the state machine makes no further automatic
// transitions from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusError
}

// Driver is the browser backend a job runs against.
type Driver string

const (
	DriverChrome  Driver = "chrome"
	DriverFirefox Driver = "firefox"
)

// Supported reports whether d can be launched.
func (d Driver) Supported() bool {
	return d == DriverChrome || d == DriverFirefox
}

// Job is one unit of browser-automation work.
type Job struct {
	ID        string
	Driver    Driver
	Site      string
	Status    Status
	Tag       string
	Container string
	Log       string
	// Changed is set on every engine mutation and cleared only by the
	// publisher once the remote queue has accepted the update.
	Changed bool
}

// Tag derives the human-readable label for a job: driver and site, plus the
// container id once one is assigned.
func Tag(driver Driver, site, container string) string {
	parts := []string{string(driver), site}
	if container != "" {
		parts = append(parts, container)
	}
	return strings.Join(parts, "-")
}

// Snapshot is the publishable subset of a job.
type Snapshot struct {
	ID        string `json:"id"`
	Container string `json:"container"`
	Driver    string `json:"driver"`
	Site      string `json:"site"`
	Status    string `json:"status"`
	Tag       string `json:"tag"`
	Log       string `json:"log"`
}

// Snapshot copies the publishable fields of j.
func (j *Job) Snapshot() Snapshot {
	return Snapshot{
		ID:        j.ID,
		Container: j.Container,
		Driver:    string(j.Driver),
		Site:      j.Site,
		Status:    string(j.Status),
		Tag:       j.Tag,
		Log:       j.Log,
	}
}
