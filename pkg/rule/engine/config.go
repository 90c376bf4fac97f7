package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/A-new/ironbee/pkg/tx"
)

const (
	// DefaultRegexCacheSize is the number of compiled @rx patterns kept.
	DefaultRegexCacheSize = 256
	// DefaultRegexTimeout bounds a single @rx match.
	DefaultRegexTimeout = 100 * time.Millisecond
	// DefaultExprCostLimit bounds an @expr evaluation.
	DefaultExprCostLimit = 1000000
	// DefaultMaxRulesPerPhase bounds rules registered per context and phase.
	DefaultMaxRulesPerPhase = 10000
)

// ErrInvalidConfig is wrapped by Config.Validate failures.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// Config configures an Engine.
type Config struct {
	// DefaultContext is used for transactions whose context has no rules.
	// Default: "main"
	DefaultContext string

	// RuleTimeout bounds the evaluation of one rule group. Zero disables it.
	RuleTimeout time.Duration

	// MaxRulesPerPhase bounds registrations per context and phase.
	// Default: 10000
	MaxRulesPerPhase int

	// Builtins tunes the built-in operators.
	Builtins BuiltinOptions
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultContext:   tx.DefaultContext,
		MaxRulesPerPhase: DefaultMaxRulesPerPhase,
		Builtins:         DefaultBuiltinOptions(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultContext == "" {
		return fmt.Errorf("%w: default context is required", ErrInvalidConfig)
	}
	if c.RuleTimeout < 0 {
		return fmt.Errorf("%w: rule timeout must be non-negative, got %s", ErrInvalidConfig, c.RuleTimeout)
	}
	if c.MaxRulesPerPhase <= 0 {
		return fmt.Errorf("%w: max rules per phase must be positive, got %d", ErrInvalidConfig, c.MaxRulesPerPhase)
	}
	if c.Builtins.RegexCacheSize < 0 {
		return fmt.Errorf("%w: regex cache size must be non-negative", ErrInvalidConfig)
	}
	if c.Builtins.RegexTimeout < 0 {
		return fmt.Errorf("%w: regex timeout must be non-negative", ErrInvalidConfig)
	}
	return nil
}
