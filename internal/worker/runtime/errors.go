package runtime

import (
	"errors"
	"fmt"
)

// Kind classifies runtime failures so callers never inspect error text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means the container does not exist. It is expected
	// steady-state information, not a failure.
	KindNotFound
	// KindConflict means the request clashes with existing state, e.g. a
	// container name already in use.
	KindConflict
	// KindPruneInProgress means the daemon is already running a prune.
	KindPruneInProgress
	// KindUnavailable means the daemon could not be reached or timed out.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindPruneInProgress:
		return "prune in progress"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrNotFound        = errors.New("runtime: not found")
	ErrConflict        = errors.New("runtime: conflict")
	ErrPruneInProgress = errors.New("runtime: prune in progress")
	ErrUnavailable     = errors.New("runtime: unavailable")
)

// Error is returned by Gateway implementations.
type Error struct {
	Op   string
	Ref  string
	Kind Kind
	Err  error
}

// NewError builds an *Error.
func NewError(op, ref string, kind Kind, err error) *Error {
	return &Error{Op: op, Ref: ref, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Ref != "" {
		msg += " " + e.Ref
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match a *Error against the Kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrPruneInProgress:
		return e.Kind == KindPruneInProgress
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err means the container is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
