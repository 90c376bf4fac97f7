package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/A-new/ironbee/pkg/audit"
)

// RuleSource is the part of the rule manager the rules check needs.
type RuleSource interface {
	Loaded() bool
}

// RulesLoaded fails until a rule set is active.
func RulesLoaded(src RuleSource) CheckFunc {
	return func(context.Context) error {
		if !src.Loaded() {
			return errors.New("no rule set loaded")
		}
		return nil
	}
}

// AuditStorage fails when the audit backend cannot answer a count query.
func AuditStorage(s audit.Storage) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := s.Count(ctx, &audit.Query{}); err != nil {
			return fmt.Errorf("audit storage: %w", err)
		}
		return nil
	}
}
