// Command anna-worker runs browser-automation jobs in Docker sandboxes for a
// remote job queue.
package main

import (
	"os"

	"github.com/patrikpihlstrom/anna-worker/cmd/anna-worker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
