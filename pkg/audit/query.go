package audit

import (
	"fmt"
	"strings"
)

const (
	// DefaultLimit is the number of records returned when none is given.
	DefaultLimit = 100

	// MaxLimit is the maximum number of records a single query returns.
	MaxLimit = 10000
)

// ValidSortFields contains the fields that can be used for sorting.
var ValidSortFields = map[string]bool{
	"time":     true,
	"duration": true,
	"rule_id":  true,
}

var validOutcomes = map[string]bool{
	OutcomeTrue:  true,
	OutcomeFalse: true,
	OutcomeError: true,
	"blocked":    true,
}

// Validate checks the query parameters.
func (q *Query) Validate() error {
	if q.Limit < 0 || q.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 0 and %d, got %d", ErrInvalidQuery, MaxLimit, q.Limit)
	}
	if q.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0, got %d", ErrInvalidQuery, q.Offset)
	}
	if q.SortBy != "" && !ValidSortFields[q.SortBy] {
		return fmt.Errorf("%w: invalid sort field %q", ErrInvalidQuery, q.SortBy)
	}
	if o := strings.ToLower(q.SortOrder); o != "" && o != "asc" && o != "desc" {
		return fmt.Errorf("%w: invalid sort order %q (must be asc or desc)", ErrInvalidQuery, q.SortOrder)
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidQuery)
	}
	if q.Outcome != "" && !validOutcomes[q.Outcome] {
		return fmt.Errorf("%w: invalid outcome %q", ErrInvalidQuery, q.Outcome)
	}
	return nil
}

// ApplyDefaults fills in the limit and sort order.
func (q *Query) ApplyDefaults() {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = "time"
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}

// Matches reports whether r satisfies the query filters. Pagination is
// not considered.
func (q *Query) Matches(r *Record) bool {
	if q.StartTime != nil && r.Time.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.Time.After(*q.EndTime) {
		return false
	}
	if q.TxID != "" && r.TxID != q.TxID {
		return false
	}
	if q.RuleID != "" && r.RuleID != q.RuleID {
		return false
	}
	if q.Context != "" && r.Context != q.Context {
		return false
	}
	if q.Phase != "" && r.Phase != q.Phase {
		return false
	}
	switch q.Outcome {
	case "":
	case "blocked":
		if !r.Blocked {
			return false
		}
	default:
		if r.Outcome != q.Outcome {
			return false
		}
	}
	return true
}
