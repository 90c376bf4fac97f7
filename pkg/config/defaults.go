package config

import (
	"time"

	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/script"
	"github.com/A-new/ironbee/pkg/tx"
)

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultSealOnLoad = true

	// Rules defaults
	DefaultDebounceInterval = 500 * time.Millisecond

	// Scripting defaults
	DefaultScriptingEnabled = true

	// Audit defaults
	DefaultAuditBackend           = "sqlite"
	DefaultAuditPath              = "data/audit.db"
	DefaultAuditWALMode           = true
	DefaultAuditBusyTimeout       = 5 * time.Second
	DefaultAuditMaxOpenConns      = 10
	DefaultAuditAsyncBuffer       = 1000
	DefaultAuditWriteTimeout      = 5 * time.Second
	DefaultAuditRetentionDays     = 30
	DefaultAuditRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsEnabled   = true
	DefaultMetricsNamespace = "ironbee"
	DefaultMetricsSubsystem = "engine"
	DefaultMetricsPath      = "/metrics"
	DefaultMaxRuleLabels    = 1000

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// DefaultDurationBuckets cover rule evaluations from 10µs to about 1s.
var DefaultDurationBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{
		Engine:    EngineConfig{SealOnLoad: DefaultSealOnLoad},
		Scripting: ScriptingConfig{Enabled: DefaultScriptingEnabled},
		Audit:     AuditConfig{WALMode: DefaultAuditWALMode},
		Telemetry: TelemetryConfig{Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled}},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for fields that have zero values. Boolean
// defaults are set by DefaultConfig, which LoadConfig decodes over.
func ApplyDefaults(cfg *Config) {
	if cfg.Engine.DefaultContext == "" {
		cfg.Engine.DefaultContext = tx.DefaultContext
	}
	if cfg.Engine.MaxRulesPerPhase == 0 {
		cfg.Engine.MaxRulesPerPhase = engine.DefaultMaxRulesPerPhase
	}
	if cfg.Engine.RegexCacheSize == 0 {
		cfg.Engine.RegexCacheSize = engine.DefaultRegexCacheSize
	}
	if cfg.Engine.RegexTimeout == 0 {
		cfg.Engine.RegexTimeout = engine.DefaultRegexTimeout
	}
	if cfg.Engine.ExprCostLimit == 0 {
		cfg.Engine.ExprCostLimit = engine.DefaultExprCostLimit
	}

	if cfg.Rules.DebounceInterval == 0 {
		cfg.Rules.DebounceInterval = DefaultDebounceInterval
	}

	if cfg.Scripting.Prelude == "" {
		cfg.Scripting.Prelude = script.DefaultPrelude
	}
	if cfg.Scripting.ProgramCacheSize == 0 {
		cfg.Scripting.ProgramCacheSize = script.DefaultProgramCacheSize
	}
	if cfg.Scripting.ProgramCacheTTL == 0 {
		cfg.Scripting.ProgramCacheTTL = script.DefaultProgramCacheTTL
	}
	if cfg.Scripting.EvalTimeout == 0 {
		cfg.Scripting.EvalTimeout = script.DefaultEvalTimeout
	}

	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = DefaultAuditPath
	}
	if cfg.Audit.BusyTimeout == 0 {
		cfg.Audit.BusyTimeout = DefaultAuditBusyTimeout
	}
	if cfg.Audit.MaxOpenConns == 0 {
		cfg.Audit.MaxOpenConns = DefaultAuditMaxOpenConns
	}
	if cfg.Audit.AsyncBuffer == 0 {
		cfg.Audit.AsyncBuffer = DefaultAuditAsyncBuffer
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}
	if cfg.Audit.Retention.Days == 0 {
		cfg.Audit.Retention.Days = DefaultAuditRetentionDays
	}
	if cfg.Audit.Retention.Schedule == "" {
		cfg.Audit.Retention.Schedule = DefaultAuditRetentionSchedule
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.MaxRuleLabels == 0 {
		cfg.Telemetry.Metrics.MaxRuleLabels = DefaultMaxRuleLabels
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}

	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}
