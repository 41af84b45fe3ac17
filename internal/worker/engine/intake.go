package engine

import (
	"errors"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// ErrIntakeFull is returned when the intake buffer cannot take another command.
var ErrIntakeFull = errors.New("intake buffer full")

// DefaultIntakeSize is used when NewIntake is given a non-positive size.
const DefaultIntakeSize = 64

type commandKind int

const (
	commandSubmit commandKind = iota
	commandCancel
)

type command struct {
	kind commandKind
	desc job.Descriptor
	id   string
}

// Intake is the bounded hand-off between producers (the HTTP listener) and
// the Reconciler. Producers never touch the Registry directly.
type Intake struct {
	ch   chan command
	wake chan struct{}
}

// NewIntake creates an intake holding at most size pending commands.
func NewIntake(size int) *Intake {
	if size <= 0 {
		size = DefaultIntakeSize
	}
	return &Intake{
		ch:   make(chan command, size),
		wake: make(chan struct{}, 1),
	}
}

// Submit validates d and queues it for registration on the next tick.
// Invalid descriptors are rejected here and never reach the Registry.
func (in *Intake) Submit(d job.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return in.push(command{kind: commandSubmit, desc: d})
}

// Cancel queues a forced teardown of the job with the given id.
func (in *Intake) Cancel(id string) error {
	if id == "" {
		return &job.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	return in.push(command{kind: commandCancel, id: id})
}

// Wake fires after new commands were queued.
func (in *Intake) Wake() <-chan struct{} { return in.wake }

// Pending returns the number of queued commands.
func (in *Intake) Pending() int { return len(in.ch) }

func (in *Intake) push(c command) error {
	select {
	case in.ch <- c:
	default:
		return ErrIntakeFull
	}
	select {
	case in.wake <- struct{}{}:
	default:
	}
	return nil
}

// drain removes every queued command without blocking.
func (in *Intake) drain() []command {
	var out []command
	for {
		select {
		case c := <-in.ch:
			out = append(out, c)
		default:
			return out
		}
	}
}
