// Package engine reconciles the worker's in-memory jobs against the sandbox
// runtime: it keeps the hub alive, detects finished jobs, tears down removed
// ones and admits pending jobs under a concurrency limit.
package engine

import (
	"errors"
	"fmt"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// ErrDuplicateJob is returned when a job id is already tracked.
var ErrDuplicateJob = errors.New("job already tracked")

// Registry is the ordered set of tracked jobs. Insertion order is start
// priority. It is not safe for concurrent use: the Reconciler is its only
// writer and everything else reaches it through Intake or AfterTick.
type Registry struct {
	jobs  []*job.Job
	index map[string]*job.Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]*job.Job)}
}

// Add appends j. Ids are unique within the registry.
func (r *Registry) Add(j *job.Job) error {
	if _, ok := r.index[j.ID]; ok {
		return fmt.Errorf("add job %s: %w", j.ID, ErrDuplicateJob)
	}
	r.jobs = append(r.jobs, j)
	r.index[j.ID] = j
	return nil
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*job.Job, bool) {
	j, ok := r.index[id]
	return j, ok
}

// Remove evicts the job with the given id, preserving the order of the rest.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.index[id]; !ok {
		return false
	}
	delete(r.index, id)
	for i, j := range r.jobs {
		if j.ID == id {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int { return len(r.jobs) }

// Jobs returns the tracked jobs in priority order. The slice is a copy; the
// jobs are not.
func (r *Registry) Jobs() []*job.Job {
	out := make([]*job.Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// NextPending returns the first pending job in priority order, or nil.
func (r *Registry) NextPending() *job.Job {
	for _, j := range r.jobs {
		if j.Status == job.StatusPending {
			return j
		}
	}
	return nil
}

// Changed returns the jobs whose changes have not been published yet.
func (r *Registry) Changed() []*job.Job {
	var out []*job.Job
	for _, j := range r.jobs {
		if j.Changed {
			out = append(out, j)
		}
	}
	return out
}

// MarkPublished clears the dirty flag of a job after its update was accepted
// by the remote queue. Only the publisher calls this.
func (r *Registry) MarkPublished(id string) {
	if j, ok := r.index[id]; ok {
		j.Changed = false
	}
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[job.Status]int {
	counts := make(map[job.Status]int)
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts
}
