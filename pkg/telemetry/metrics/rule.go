package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/A-new/ironbee/pkg/config"
)

// RuleMetrics tracks rule evaluation.
//
// Metrics:
//   - ironbee_engine_rule_evaluations_total: evaluations by rule, phase and outcome
//   - ironbee_engine_rule_duration_seconds: operator and action time by phase
//   - ironbee_engine_actions_total: executed actions by name and phase
//   - ironbee_engine_rule_errors_total: failed evaluations by rule and kind
type RuleMetrics struct {
	evaluationsTotal *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	actionsTotal     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
}

// NewRuleMetrics creates and registers rule metrics with the provided registry.
func NewRuleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RuleMetrics {
	rm := &RuleMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluations_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"rule_id", "phase", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_duration_seconds",
				Help:      "Duration of one rule evaluation including its actions",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"phase"},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "actions_total",
				Help:      "Total number of executed rule actions",
			},
			[]string{"action", "phase"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_errors_total",
				Help:      "Total number of failed rule evaluations",
			},
			[]string{"rule_id", "kind"},
		),
	}

	registry.MustRegister(
		rm.evaluationsTotal,
		rm.duration,
		rm.actionsTotal,
		rm.errorsTotal,
	)
	return rm
}

// RecordEvaluation records one rule evaluation.
func (rm *RuleMetrics) RecordEvaluation(ruleID, phase, outcome string, d time.Duration) {
	rm.evaluationsTotal.WithLabelValues(ruleID, phase, outcome).Inc()
	rm.duration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordAction records one executed action.
func (rm *RuleMetrics) RecordAction(action, phase string) {
	rm.actionsTotal.WithLabelValues(action, phase).Inc()
}

// RecordError records a failed evaluation.
func (rm *RuleMetrics) RecordError(ruleID, kind string) {
	rm.errorsTotal.WithLabelValues(ruleID, kind).Inc()
}
