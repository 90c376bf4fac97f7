package script

import (
	"errors"
	"fmt"

	"github.com/A-new/ironbee/pkg/rule/engine"
)

var (
	// ErrRuntimeClosed is returned by operations on a closed runtime.
	ErrRuntimeClosed = errors.New("script runtime closed")

	// ErrUnknownFunction is returned when no function is loaded under a name.
	ErrUnknownFunction = fmt.Errorf("%w: script function", engine.ErrUnknownIdentifier)
)

// LockError is returned when the runtime lock cannot be acquired. The
// protected operation was not run.
type LockError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *LockError) Error() string {
	return fmt.Sprintf("script runtime lock for %s: %v", e.Op, e.Cause)
}

// Unwrap exposes ErrLockFailure and the cause.
func (e *LockError) Unwrap() []error {
	return []error{engine.ErrLockFailure, e.Cause}
}

// EvaluationError is returned when a script function throws, is
// interrupted, or returns a value that is not a number or boolean.
type EvaluationError struct {
	Function string
	Cause    error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Function, e.Cause)
}

// Unwrap exposes ErrEvaluation and the cause.
func (e *EvaluationError) Unwrap() []error {
	return []error{engine.ErrEvaluation, e.Cause}
}
