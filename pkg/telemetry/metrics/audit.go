package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/A-new/ironbee/pkg/config"
)

// AuditMetrics tracks the audit recorder.
type AuditMetrics struct {
	writesTotal  *prometheus.CounterVec
	droppedTotal prometheus.Counter
}

// NewAuditMetrics creates and registers audit metrics with the provided registry.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		writesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_writes_total",
				Help:      "Total number of audit record writes by status",
			},
			[]string{"status"},
		),
		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_dropped_total",
				Help:      "Total number of audit records dropped because the queue was full",
			},
		),
	}
	registry.MustRegister(am.writesTotal, am.droppedTotal)
	return am
}

// RecordWrite records one storage write.
func (am *AuditMetrics) RecordWrite(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	am.writesTotal.WithLabelValues(status).Inc()
}

// RecordDrop records a record dropped by a full queue.
func (am *AuditMetrics) RecordDrop() {
	am.droppedTotal.Inc()
}
