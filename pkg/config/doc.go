// Package config loads the ironbee process configuration.
//
// Configuration is a YAML file with engine, rules, scripting, audit,
// telemetry and server sections:
//
//	engine:
//	  default_context: main
//	  rule_timeout: 50ms
//	rules:
//	  files: ["rules/*.rules"]
//	  watch: true
//	audit:
//	  enabled: true
//	  backend: sqlite
//	  path: data/audit.db
//	  retention:
//	    days: 30
//	    schedule: "0 3 * * *"
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//
// LoadConfig decodes the file over DefaultConfig, so fields left out keep
// their defaults, and validates the result. LoadConfigWithEnvOverrides
// additionally applies IRONBEE_SECTION_FIELD environment variables.
//
// Validation failures are reported together as a ValidationError whose
// FieldErrors name the offending field by its YAML path.
package config
