package pipeline

import (
	"errors"
	"fmt"
)

// DependencyUnavailableError signals a transient failure in a controlled
// downstream dependency. It is the only error kind that crosses the pipeline
// boundary: the caller must not acknowledge the source message, so it is
// redelivered and the event retried from the beginning.
type DependencyUnavailableError struct {
	Dependency string
	Err        error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyUnavailableError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the error as safe to retry via redelivery.
func (e *DependencyUnavailableError) IsRetryable() bool {
	return true
}

// retryable is the discriminant checked by the executor. Any error kind that
// reports IsRetryable() == true propagates unchanged; there is no reliance
// on a concrete error type.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err carries the retryable discriminant
// anywhere in its chain.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.IsRetryable()
}

// StepError is the terminal "step failed, no retry" signal. It unwinds to
// the top of the pipeline, where it is converted into a Result carrying the
// failing step name; the source message is still acknowledged.
type StepError struct {
	Step string
	Args []any
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
