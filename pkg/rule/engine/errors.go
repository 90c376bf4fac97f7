package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by the rule packages wraps one of
// these.
var (
	// ErrConfigSyntax indicates a malformed directive or parameter.
	ErrConfigSyntax = errors.New("config syntax error")

	// ErrUnknownIdentifier indicates an unknown operator, action, phase or
	// directive name.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrAllocation indicates a factory could not obtain resources.
	ErrAllocation = errors.New("allocation failure")

	// ErrLockFailure indicates the script runtime lock could not be taken.
	ErrLockFailure = errors.New("lock failure")

	// ErrEvaluation indicates an operator or action failed at runtime.
	ErrEvaluation = errors.New("evaluation error")

	// ErrTypeMismatch indicates a value had an unexpected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDuplicateName indicates a registry already holds the name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNilTransaction indicates Execute was called without a transaction.
	ErrNilTransaction = errors.New("nil transaction")

	// ErrDestroyed indicates use of an instance after Destroy.
	ErrDestroyed = errors.New("instance destroyed")

	// ErrSealed indicates a registration against a sealed context.
	ErrSealed = errors.New("context sealed")

	// ErrUnsupportedBackend indicates a RuleExt scripting prefix with no backend.
	ErrUnsupportedBackend = fmt.Errorf("%w: unsupported script backend", ErrConfigSyntax)
)

// CreationError is returned when an operator or action factory rejects its
// parameter.
type CreationError struct {
	Kind  string // "operator" or "action"
	Name  string
	Param string
	Cause error
}

// Error implements the error interface.
func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create %s %q with param %q: %v", e.Kind, e.Name, e.Param, e.Cause)
}

// Unwrap exposes the cause. Factory failures that are not allocation
// failures are treated as config syntax errors.
func (e *CreationError) Unwrap() []error {
	if errors.Is(e.Cause, ErrAllocation) || errors.Is(e.Cause, ErrConfigSyntax) {
		return []error{e.Cause}
	}
	return []error{ErrConfigSyntax, e.Cause}
}

// EvaluationError records a failure evaluating one rule.
type EvaluationError struct {
	RuleID string
	Phase  Phase
	Cause  error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s (%s): %v", e.RuleID, e.Phase, e.Cause)
}

// Unwrap exposes ErrEvaluation and the cause.
func (e *EvaluationError) Unwrap() []error {
	return []error{ErrEvaluation, e.Cause}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
