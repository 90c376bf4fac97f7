package audit

import (
	"errors"
	"fmt"
)

// ErrInvalidQuery is wrapped by query validation failures.
var ErrInvalidQuery = errors.New("invalid audit query")

// StorageError wraps a backend failure with the operation that hit it.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit %s %s: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// NewStorageError returns a StorageError for backend and op.
func NewStorageError(backend, op string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: op, Cause: cause}
}

// RecorderError is logged when a rule event could not be persisted.
type RecorderError struct {
	RecordID string
	Cause    error
}

func (e *RecorderError) Error() string {
	if e.RecordID == "" {
		return "audit record: " + e.Cause.Error()
	}
	return fmt.Sprintf("audit record %s: %v", e.RecordID, e.Cause)
}

func (e *RecorderError) Unwrap() error { return e.Cause }

// NewRecorderError returns a RecorderError for the record id.
func NewRecorderError(recordID string, cause error) *RecorderError {
	return &RecorderError{RecordID: recordID, Cause: cause}
}

// RetentionError wraps a failed prune run.
type RetentionError struct {
	RetentionDays int
	Cause         error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("audit retention (%d days): %v", e.RetentionDays, e.Cause)
}

func (e *RetentionError) Unwrap() error { return e.Cause }

// NewRetentionError returns a RetentionError for the configured window.
func NewRetentionError(days int, cause error) *RetentionError {
	return &RetentionError{RetentionDays: days, Cause: cause}
}

// ExportError wraps a failed export. RecordCount is the number of records
// written before the failure.
type ExportError struct {
	Format      string
	RecordCount int
	Cause       error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("audit export %s after %d records: %v", e.Format, e.RecordCount, e.Cause)
}

func (e *ExportError) Unwrap() error { return e.Cause }

// NewExportError returns an ExportError.
func NewExportError(format string, written int, cause error) *ExportError {
	return &ExportError{Format: format, RecordCount: written, Cause: cause}
}
