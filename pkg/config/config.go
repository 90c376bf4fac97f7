package config

import (
	"time"

	"github.com/A-new/ironbee/pkg/audit/recorder"
	"github.com/A-new/ironbee/pkg/audit/retention"
	"github.com/A-new/ironbee/pkg/audit/storage"
	"github.com/A-new/ironbee/pkg/limits/ratelimit"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/script"
	"github.com/A-new/ironbee/pkg/security/auth"
	sectls "github.com/A-new/ironbee/pkg/security/tls"
	"github.com/A-new/ironbee/pkg/telemetry/logging"
	"github.com/A-new/ironbee/pkg/telemetry/tracing"
)

// Config is the root configuration of an ironbee process.
type Config struct {
	// Engine configures rule registration and evaluation.
	Engine EngineConfig `yaml:"engine"`

	// Rules lists the rules files to load.
	Rules RulesConfig `yaml:"rules"`

	// Scripting configures the JavaScript runtime used by RuleExt.
	Scripting ScriptingConfig `yaml:"scripting"`

	// Audit configures the rule evaluation audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server configures the admin HTTP listener used by "serve".
	Server ServerConfig `yaml:"server"`
}

// EngineConfig configures the rule engine.
type EngineConfig struct {
	// DefaultContext is the context used when a transaction names none.
	// Default: "main"
	DefaultContext string `yaml:"default_context" validate:"required"`

	// RuleTimeout bounds one rule group. Zero disables the bound.
	RuleTimeout time.Duration `yaml:"rule_timeout" validate:"gte=0"`

	// MaxRulesPerPhase bounds registrations per context and phase.
	// Default: 10000
	MaxRulesPerPhase int `yaml:"max_rules_per_phase" validate:"gte=1"`

	// SealOnLoad seals every context once the rules files are loaded.
	// Default: true
	SealOnLoad bool `yaml:"seal_on_load"`

	// RegexCacheSize bounds the compiled @rx pattern cache.
	// Default: 256
	RegexCacheSize int `yaml:"regex_cache_size" validate:"gte=0"`

	// RegexTimeout bounds one @rx match.
	// Default: 100ms
	RegexTimeout time.Duration `yaml:"regex_timeout" validate:"gte=0"`

	// ExprCostLimit bounds one @expr evaluation.
	ExprCostLimit uint64 `yaml:"expr_cost_limit"`
}

// RulesConfig lists rule sources.
type RulesConfig struct {
	// Files are rules file paths or glob patterns, loaded in order.
	Files []string `yaml:"files" validate:"dive,required"`

	// Watch reloads the rules when a file changes.
	Watch bool `yaml:"watch"`

	// DebounceInterval coalesces bursts of file events.
	// Default: 500ms
	DebounceInterval time.Duration `yaml:"debounce_interval" validate:"gte=0"`

	// ContinueOnError reports every failing directive instead of the first.
	ContinueOnError bool `yaml:"continue_on_error"`
}

// ScriptingConfig configures the script runtime.
type ScriptingConfig struct {
	// Enabled creates the runtime. RuleExt directives fail without it.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ModuleBasePath is searched for the prelude and relative scripts.
	ModuleBasePath string `yaml:"module_base_path"`

	// Prelude is the prelude file name.
	// Default: "ironbee-ffi.js"
	Prelude string `yaml:"prelude"`

	// ProgramCacheSize bounds the compiled source cache.
	// Default: 128
	ProgramCacheSize int `yaml:"program_cache_size" validate:"gte=1"`

	// ProgramCacheTTL expires compiled sources.
	// Default: 10m
	ProgramCacheTTL time.Duration `yaml:"program_cache_ttl" validate:"gte=0"`

	// EvalTimeout bounds one script evaluation.
	// Default: 1s
	EvalTimeout time.Duration `yaml:"eval_timeout" validate:"gte=0"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Enabled records one audit record per evaluated rule.
	Enabled bool `yaml:"enabled"`

	// Backend is "sqlite3" (cgo), "sqlite" (pure Go) or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend" validate:"oneof=sqlite3 sqlite memory"`

	// Path is the database file for the SQLite backends.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`

	// MaxOpenConns bounds the connection pool.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns" validate:"gte=1"`

	// AsyncBuffer is the recorder queue length.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer" validate:"gte=1"`

	// WriteTimeout bounds one storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// MatchesOnly records only rules whose operator returned true.
	MatchesOnly bool `yaml:"matches_only"`

	// Retention configures pruning of old records.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig configures audit retention.
type RetentionConfig struct {
	// Days keeps records newer than this many days. Zero keeps all.
	// Default: 30
	Days int `yaml:"days" validate:"gte=0,lte=3650"`

	// MaxRecords caps the number of stored records. Zero disables the cap.
	MaxRecords int64 `yaml:"max_records" validate:"gte=0"`

	// Schedule is a standard five-field cron expression.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`

	// ArchiveDir receives a JSON export of pruned records. Empty disables
	// archiving.
	ArchiveDir string `yaml:"archive_dir"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	Logging logging.Config `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Tracing tracing.Config `yaml:"tracing"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled registers the rule and script metrics.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	// Default: "ironbee"
	Namespace string `yaml:"namespace"`

	// Subsystem follows the namespace in metric names.
	// Default: "engine"
	Subsystem string `yaml:"subsystem"`

	// Path is the HTTP path of the scrape endpoint.
	// Default: "/metrics"
	Path string `yaml:"path" validate:"omitempty,startswith=/"`

	// MaxRuleLabels bounds distinct rule_id label values; further rules are
	// reported as "other".
	// Default: 1000
	MaxRuleLabels int `yaml:"max_rule_labels" validate:"gte=0"`

	// DurationBuckets are histogram buckets in seconds.
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// ServerConfig configures the admin listener.
type ServerConfig struct {
	// ListenAddress is host:port.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address" validate:"required,hostname_port"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// APIKeys guard /rules and /evaluate. Empty leaves them open.
	APIKeys []auth.Key `yaml:"api_keys" validate:"dive"`

	TLS sectls.Config `yaml:"tls"`

	// RateLimit throttles the guarded routes per client address.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// EngineOptions converts the section into engine options.
func (c EngineConfig) EngineOptions() engine.Config {
	return engine.Config{
		DefaultContext:   c.DefaultContext,
		RuleTimeout:      c.RuleTimeout,
		MaxRulesPerPhase: c.MaxRulesPerPhase,
		Builtins: engine.BuiltinOptions{
			RegexCacheSize: c.RegexCacheSize,
			RegexTimeout:   c.RegexTimeout,
			ExprCostLimit:  c.ExprCostLimit,
		},
	}
}

// RuntimeOptions converts the section into script runtime options.
func (c ScriptingConfig) RuntimeOptions() script.Config {
	return script.Config{
		ModuleBasePath:   c.ModuleBasePath,
		Prelude:          c.Prelude,
		ProgramCacheSize: c.ProgramCacheSize,
		ProgramCacheTTL:  c.ProgramCacheTTL,
		EvalTimeout:      c.EvalTimeout,
	}
}

// StorageOptions converts the section into audit storage options.
func (c AuditConfig) StorageOptions() storage.Options {
	return storage.Options{
		Backend:      c.Backend,
		Path:         c.Path,
		WALMode:      c.WALMode,
		BusyTimeout:  c.BusyTimeout,
		MaxOpenConns: c.MaxOpenConns,
	}
}

// RecorderOptions converts the section into audit recorder options.
func (c AuditConfig) RecorderOptions() *recorder.Config {
	return &recorder.Config{
		AsyncBuffer:  c.AsyncBuffer,
		WriteTimeout: c.WriteTimeout,
		MatchesOnly:  c.MatchesOnly,
	}
}

// RetentionOptions converts the retention subsection into pruner options.
func (c RetentionConfig) RetentionOptions() *retention.Config {
	return &retention.Config{
		RetentionDays: c.Days,
		MaxRecords:    c.MaxRecords,
		Schedule:      c.Schedule,
		ArchiveDir:    c.ArchiveDir,
	}
}
