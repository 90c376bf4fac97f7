package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/A-new/ironbee/pkg/audit"
)

// BackendMemory selects MemoryStorage in Open.
const BackendMemory = "memory"

// Options selects and configures a backend.
type Options struct {
	// Backend is "memory", DriverCGO or DriverPureGo.
	Backend      string
	Path         string
	WALMode      bool
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Open creates the backend named by opts.Backend.
func Open(opts Options, logger *slog.Logger) (audit.Storage, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case DriverCGO, DriverPureGo:
		cfg := DefaultSQLiteConfig()
		cfg.Driver = opts.Backend
		cfg.Path = opts.Path
		cfg.WALMode = opts.WALMode
		if opts.BusyTimeout > 0 {
			cfg.BusyTimeout = opts.BusyTimeout
		}
		if opts.MaxOpenConns > 0 {
			cfg.MaxOpenConns = opts.MaxOpenConns
			if cfg.MaxIdleConns > cfg.MaxOpenConns {
				cfg.MaxIdleConns = cfg.MaxOpenConns
			}
		}
		return NewSQLiteStorage(cfg, logger)
	default:
		return nil, audit.NewStorageError(opts.Backend, "open", fmt.Errorf("unknown backend %q", opts.Backend))
	}
}
