// Package runtime defines the sandbox runtime contract the worker depends on.
package runtime

import "context"

// Gateway abstracts the container runtime that hosts sandboxes (Docker in
// production). Every call is expected to return within a bounded time; the
// implementation enforces its own timeouts.
type Gateway interface {
	// CreateAndRun creates and starts a container from spec and returns its
	// opaque identifier.
	CreateAndRun(ctx context.Context, spec SandboxSpec) (string, error)

	// Get returns the container identified by an id or a name. A missing
	// container yields an error of KindNotFound.
	Get(ctx context.Context, ref string) (Container, error)

	// Stop stops the container. Stopping an already stopped or missing
	// container is not an error.
	Stop(ctx context.Context, ref string) error

	// Remove deletes the container. Removing a missing container is not an
	// error.
	Remove(ctx context.Context, ref string) error

	// PruneExited deletes every exited container managed by the worker.
	// A concurrent prune in the daemon yields an error of KindPruneInProgress.
	PruneExited(ctx context.Context) (PruneReport, error)

	// Logs returns the combined stdout/stderr of the container.
	Logs(ctx context.Context, ref string) (string, error)
}
