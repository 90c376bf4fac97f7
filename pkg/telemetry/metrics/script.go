package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/A-new/ironbee/pkg/config"
)

// ScriptMetrics tracks the script runtime.
//
// Metrics:
//   - ironbee_engine_script_lock_wait_seconds: time spent acquiring the runtime lock
//   - ironbee_engine_script_lock_failures_total: failed acquisitions by operation
//   - ironbee_engine_script_contexts_active: live script contexts
//   - ironbee_engine_script_evaluations_total: evaluations by function and status
//   - ironbee_engine_script_evaluation_duration_seconds: evaluation time
type ScriptMetrics struct {
	lockWait       *prometheus.HistogramVec
	lockFailures   *prometheus.CounterVec
	contextsActive prometheus.Gauge
	evalsTotal     *prometheus.CounterVec
	evalDuration   *prometheus.HistogramVec
}

// NewScriptMetrics creates and registers script metrics with the provided registry.
func NewScriptMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ScriptMetrics {
	sm := &ScriptMetrics{
		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "script_lock_wait_seconds",
				Help:      "Time spent waiting for the script runtime lock",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
			},
			[]string{"op"},
		),
		lockFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "script_lock_failures_total",
				Help:      "Total number of failed script runtime lock acquisitions",
			},
			[]string{"op"},
		),
		contextsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "script_contexts_active",
				Help:      "Number of live script evaluation contexts",
			},
		),
		evalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "script_evaluations_total",
				Help:      "Total number of script evaluations",
			},
			[]string{"function", "status"},
		),
		evalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "script_evaluation_duration_seconds",
				Help:      "Duration of script evaluations",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"function"},
		),
	}

	registry.MustRegister(
		sm.lockWait,
		sm.lockFailures,
		sm.contextsActive,
		sm.evalsTotal,
		sm.evalDuration,
	)
	return sm
}

// RecordLock records one lock acquisition attempt.
func (sm *ScriptMetrics) RecordLock(op string, wait time.Duration, err error) {
	sm.lockWait.WithLabelValues(op).Observe(wait.Seconds())
	if err != nil {
		sm.lockFailures.WithLabelValues(op).Inc()
	}
}

// RecordContext tracks context creation ("create") and destruction ("destroy").
func (sm *ScriptMetrics) RecordContext(op string) {
	switch op {
	case "create":
		sm.contextsActive.Inc()
	case "destroy":
		sm.contextsActive.Dec()
	}
}

// RecordEval records a finished evaluation.
func (sm *ScriptMetrics) RecordEval(function string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sm.evalsTotal.WithLabelValues(function, status).Inc()
	sm.evalDuration.WithLabelValues(function).Observe(d.Seconds())
}
