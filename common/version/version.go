// Package version carries build metadata injected with -ldflags -X.
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info is the one-line build description printed by "anna-worker version".
func Info() string {
	return "anna-worker " + Version + " (" + GitCommit + ") built at " + BuildTime
}

// UserAgent identifies the worker to the remote queue.
func UserAgent() string {
	return "anna-worker/" + Version
}
