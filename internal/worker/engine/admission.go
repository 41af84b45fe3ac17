package engine

import "github.com/patrikpihlstrom/anna-worker/internal/worker/job"

// CanStartMore decides whether another pending job may start.
//
// A job counts as running when its status is starting or running and alive
// reports its container as alive. Admission requires at least one pending
// job, at least one job that is not running, and fewer running jobs than
// maxConcurrent.
func CanStartMore(jobs []*job.Job, alive func(*job.Job) bool, maxConcurrent int) bool {
	pending := false
	running := 0
	for _, j := range jobs {
		if j.Status == job.StatusPending {
			pending = true
		}
		if j.Status.Active() && alive(j) {
			running++
		}
	}
	if !pending {
		return false
	}
	return len(jobs)-running > 0 && running < maxConcurrent
}
