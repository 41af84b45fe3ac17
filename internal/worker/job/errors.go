package job

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every *ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid job")

// ValidationError reports a descriptor or job that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid job: %s", e.Reason)
	}
	return fmt.Sprintf("invalid job: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// ValidateDriver returns a *ValidationError unless d is supported.
func ValidateDriver(d Driver) error {
	if !d.Supported() {
		return &ValidationError{Field: "driver", Reason: fmt.Sprintf("desired driver not supported: %q", d)}
	}
	return nil
}
