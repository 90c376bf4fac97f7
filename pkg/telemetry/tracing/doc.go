// Package tracing exports OpenTelemetry traces of rule evaluation and admin
// requests.
//
// The admin server wraps every request in a server span (Middleware),
// continuing W3C traceparent headers. The rule manager opens an
// "ironbee.evaluate" span per transaction with one child per lifecycle
// phase, and RuleObserver records each evaluated rule as a span event.
//
// Spans are exported over OTLP gRPC and sampled by the configured
// strategy, wrapped in parent-based sampling:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    insecure: true
//	    sampler: ratio
//	    sample_ratio: 0.25
//
// A disabled tracer returns no-op spans, so callers never branch on
// Enabled.
package tracing
