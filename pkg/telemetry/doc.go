// Package telemetry groups the observability packages of ironbee.
//
//   - logging: slog handlers with rotation, tx-scoped attributes and
//     secret redaction
//   - metrics: Prometheus collectors for rule, script and audit activity
//   - tracing: OpenTelemetry spans for admin requests and evaluations
//   - health: liveness, readiness and version endpoints
//
// Each subpackage is configured from the telemetry section of the config
// file and is independent of the others.
package telemetry
