package script

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPrelude is the file run in every context before the rule
	// function, looked up under ModuleBasePath.
	DefaultPrelude = "ironbee-ffi.js"
	// DefaultProgramCacheSize bounds the compiled source cache.
	DefaultProgramCacheSize = 128
	// DefaultProgramCacheTTL expires compiled sources.
	DefaultProgramCacheTTL = 10 * time.Minute
	// DefaultEvalTimeout bounds one script evaluation.
	DefaultEvalTimeout = time.Second
)

// ErrInvalidConfig is wrapped by Config.Validate failures.
var ErrInvalidConfig = errors.New("invalid script configuration")

// Config configures a Runtime.
type Config struct {
	// ModuleBasePath is the directory searched for the prelude and for
	// relative script paths.
	ModuleBasePath string

	// Prelude is the prelude file name. Empty disables the prelude.
	// Default: "ironbee-ffi.js"
	Prelude string

	// ProgramCacheSize bounds the number of compiled source files kept.
	// Default: 128
	ProgramCacheSize int

	// ProgramCacheTTL expires cached compiled sources.
	// Default: 10 minutes
	ProgramCacheTTL time.Duration

	// EvalTimeout bounds one evaluation. Zero disables the bound.
	// Default: 1 second
	EvalTimeout time.Duration

	// Globals are host values installed in every script context.
	Globals map[string]any
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		Prelude:          DefaultPrelude,
		ProgramCacheSize: DefaultProgramCacheSize,
		ProgramCacheTTL:  DefaultProgramCacheTTL,
		EvalTimeout:      DefaultEvalTimeout,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ProgramCacheSize < 0 {
		return fmt.Errorf("%w: program cache size must be non-negative", ErrInvalidConfig)
	}
	if c.ProgramCacheTTL < 0 {
		return fmt.Errorf("%w: program cache ttl must be non-negative", ErrInvalidConfig)
	}
	if c.EvalTimeout < 0 {
		return fmt.Errorf("%w: eval timeout must be non-negative", ErrInvalidConfig)
	}
	return nil
}
