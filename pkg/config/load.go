package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "IRONBEE"

// LoadConfig loads configuration from a YAML file at the specified path.
// Fields absent from the file keep their defaults. Relative rules file
// patterns, the script module path and TLS files resolve against the
// file's directory. The result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	resolvePaths(cfg, filepath.Dir(path))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over DefaultConfig and applies defaults. It does not
// validate.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides named IRONBEE_SECTION_FIELD (for example
// IRONBEE_AUDIT_BACKEND). Environment variables take precedence over the
// file.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// FromEnv returns DefaultConfig with environment variable overrides
// applied. It is used when no configuration file is given.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

func resolvePaths(cfg *Config, dir string) {
	if dir == "" || dir == "." {
		return
	}
	for i, f := range cfg.Rules.Files {
		if !filepath.IsAbs(f) {
			cfg.Rules.Files[i] = filepath.Join(dir, f)
		}
	}
	for _, p := range []*string{
		&cfg.Scripting.ModuleBasePath,
		&cfg.Server.TLS.CertFile,
		&cfg.Server.TLS.KeyFile,
		&cfg.Server.TLS.ClientCAFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// envOverride binds one variable to one field.
type envOverride struct {
	name  string
	apply func(string) error
}

func envName(section, field string) string {
	return EnvPrefix + "_" + section + "_" + field
}

func applyEnvOverrides(cfg *Config) error {
	overrides := []envOverride{
		{envName("ENGINE", "DEFAULT_CONTEXT"), setString(&cfg.Engine.DefaultContext)},
		{envName("ENGINE", "RULE_TIMEOUT"), setDuration(&cfg.Engine.RuleTimeout)},
		{envName("ENGINE", "MAX_RULES_PER_PHASE"), setInt(&cfg.Engine.MaxRulesPerPhase)},
		{envName("ENGINE", "SEAL_ON_LOAD"), setBool(&cfg.Engine.SealOnLoad)},

		{envName("RULES", "FILES"), setList(&cfg.Rules.Files)},
		{envName("RULES", "WATCH"), setBool(&cfg.Rules.Watch)},
		{envName("RULES", "DEBOUNCE_INTERVAL"), setDuration(&cfg.Rules.DebounceInterval)},

		{envName("SCRIPTING", "ENABLED"), setBool(&cfg.Scripting.Enabled)},
		{envName("SCRIPTING", "MODULE_BASE_PATH"), setString(&cfg.Scripting.ModuleBasePath)},
		{envName("SCRIPTING", "PRELUDE"), setString(&cfg.Scripting.Prelude)},
		{envName("SCRIPTING", "EVAL_TIMEOUT"), setDuration(&cfg.Scripting.EvalTimeout)},

		{envName("AUDIT", "ENABLED"), setBool(&cfg.Audit.Enabled)},
		{envName("AUDIT", "BACKEND"), setString(&cfg.Audit.Backend)},
		{envName("AUDIT", "PATH"), setString(&cfg.Audit.Path)},
		{envName("AUDIT", "WAL_MODE"), setBool(&cfg.Audit.WALMode)},
		{envName("AUDIT", "RETENTION_DAYS"), setInt(&cfg.Audit.Retention.Days)},
		{envName("AUDIT", "RETENTION_SCHEDULE"), setString(&cfg.Audit.Retention.Schedule)},

		{envName("TELEMETRY", "LOGGING_LEVEL"), setString(&cfg.Telemetry.Logging.Level)},
		{envName("TELEMETRY", "LOGGING_FORMAT"), setString(&cfg.Telemetry.Logging.Format)},
		{envName("TELEMETRY", "LOGGING_FILE_PATH"), setString(&cfg.Telemetry.Logging.File.Path)},
		{envName("TELEMETRY", "METRICS_ENABLED"), setBool(&cfg.Telemetry.Metrics.Enabled)},
		{envName("TELEMETRY", "METRICS_PATH"), setString(&cfg.Telemetry.Metrics.Path)},
		{envName("TELEMETRY", "TRACING_ENABLED"), setBool(&cfg.Telemetry.Tracing.Enabled)},
		{envName("TELEMETRY", "TRACING_ENDPOINT"), setString(&cfg.Telemetry.Tracing.Endpoint)},

		{envName("SERVER", "LISTEN_ADDRESS"), setString(&cfg.Server.ListenAddress)},
		{envName("SERVER", "READ_TIMEOUT"), setDuration(&cfg.Server.ReadTimeout)},
		{envName("SERVER", "WRITE_TIMEOUT"), setDuration(&cfg.Server.WriteTimeout)},
		{envName("SERVER", "TLS_ENABLED"), setBool(&cfg.Server.TLS.Enabled)},
		{envName("SERVER", "TLS_CERT_FILE"), setString(&cfg.Server.TLS.CertFile)},
		{envName("SERVER", "TLS_KEY_FILE"), setString(&cfg.Server.TLS.KeyFile)},
	}

	var errs []FieldError
	for _, o := range overrides {
		val, ok := os.LookupEnv(o.name)
		if !ok || val == "" {
			continue
		}
		if err := o.apply(val); err != nil {
			errs = append(errs, FieldError{Field: o.name, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setList(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*dst = b
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst = i
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*dst = d
		return nil
	}
}
