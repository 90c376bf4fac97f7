package directive

import "fmt"

// DirectiveError describes a rejected directive. Err wraps one of the
// engine sentinel errors.
type DirectiveError struct {
	Directive string
	Token     string
	Source    string
	Err       error
}

// Error implements the error interface.
func (e *DirectiveError) Error() string {
	msg := e.Directive
	if e.Token != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Token)
	}
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DirectiveError) Unwrap() error { return e.Err }
