package runtime

// SandboxSpec describes a container to create and start.
type SandboxSpec struct {
	// Name is the fixed container name. Empty lets the runtime pick one.
	Name string
	// Image is the image reference, e.g. "patrikpihlstrom/anna-firefox:latest".
	Image string
	// Cmd overrides the image command.
	Cmd []string
	// Binds are volume bindings in "host:container:mode" form.
	Binds []string
	// Links are legacy container links in "name:alias" form.
	Links []string
	// ShmSize is the /dev/shm size in bytes. Zero keeps the runtime default.
	ShmSize int64
	// Ports maps container TCP ports to host ports.
	Ports map[int]int
	// Labels are extra labels attached to the container.
	Labels map[string]string
}

// ContainerState mirrors docker container states.
type ContainerState string

const (
	StateCreated    ContainerState = "created"
	StateStarting   ContainerState = "starting"
	StateRunning    ContainerState = "running"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateRemoving   ContainerState = "removing"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
	StateUnknown    ContainerState = "unknown"
)

// Alive reports whether a container in this state is still executing its
// workload.
func (s ContainerState) Alive() bool {
	return s == StateStarting || s == StateRunning
}

// Container is the runtime's view of a single container.
type Container struct {
	ID       string
	Name     string
	Image    string
	State    ContainerState
	ExitCode int
}

// PruneReport summarises a PruneExited call.
type PruneReport struct {
	Removed        []string
	SpaceReclaimed uint64
}

// ManagedByLabel marks containers created by the worker so pruning never
// touches unrelated containers on the host.
const (
	ManagedByLabel = "anna.managed-by"
	ManagedByValue = "anna-worker"
	JobIDLabel     = "anna.job-id"
)
