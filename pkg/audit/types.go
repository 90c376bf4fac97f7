package audit

import (
	"context"
	"io"
	"time"
)

// Outcome values stored on a Record.
const (
	OutcomeTrue  = "true"
	OutcomeFalse = "false"
	OutcomeError = "error"
)

// Record is the audit trail entry for one evaluated rule.
type Record struct {
	ID       string `json:"id"`
	TxID     string `json:"tx_id"`
	Context  string `json:"context"`
	RuleID   string `json:"rule_id"`
	Phase    string `json:"phase"`
	Operator string `json:"operator"`
	External bool   `json:"external"`

	// Outcome is "true", "false" or "error".
	Outcome string   `json:"outcome"`
	Actions []string `json:"actions"`
	Blocked bool     `json:"blocked"`
	Error   string   `json:"error,omitempty"`

	Duration     time.Duration `json:"duration"`
	Time         time.Time     `json:"time"`
	RecordedTime time.Time     `json:"recorded_time"`
}

// Query defines filter parameters for querying audit records.
type Query struct {
	// Time range, both inclusive.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	TxID    string `json:"tx_id,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
	Context string `json:"context,omitempty"`
	Phase   string `json:"phase,omitempty"`

	// Outcome is "true", "false", "error", or "blocked" for records whose
	// transaction was blocked.
	Outcome string `json:"outcome,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortBy is "time", "duration" or "rule_id".
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`
}

// Storage defines the interface for audit storage backends. Implementations
// must be safe for concurrent use.
type Storage interface {
	// Store persists a record.
	Store(ctx context.Context, record *Record) error

	// Query retrieves records matching the query filters. It returns an
	// empty slice if no records match.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// QueryStream streams matching records. Both channels are closed when
	// the query completes; errCh carries at most one error.
	QueryStream(ctx context.Context, query *Query) (<-chan *Record, <-chan error, error)

	// Count returns the number of records matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes records matching the query filters, ignoring
	// pagination, and returns the number removed.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Exporter writes records in some format.
type Exporter interface {
	Export(ctx context.Context, records []*Record, w io.Writer) error
}
