package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/A-new/ironbee/pkg/config"
	"github.com/A-new/ironbee/pkg/rule/engine"
)

// OverflowLabel replaces rule ids once the cardinality limit is reached.
const OverflowLabel = "other"

// Collector owns every ironbee metric. It implements engine.Observer and
// script.Observer so it can be attached directly to an engine and a script
// runtime.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	rules  *RuleMetrics
	script *ScriptMetrics
	audit  *AuditMetrics

	ruleLabels *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics with registry.
// If registry is nil a new one is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = append([]float64(nil), config.DefaultDurationBuckets...)
	}
	limit := cfg.MaxRuleLabels
	if limit <= 0 {
		limit = config.DefaultMaxRuleLabels
	}

	return &Collector{
		config:     cfg,
		registry:   registry,
		rules:      NewRuleMetrics(cfg, registry),
		script:     NewScriptMetrics(cfg, registry),
		audit:      NewAuditMetrics(cfg, registry),
		ruleLabels: NewCardinalityLimiter(limit),
	}
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Rules returns the rule metrics.
func (c *Collector) Rules() *RuleMetrics { return c.rules }

// Script returns the script runtime metrics.
func (c *Collector) Script() *ScriptMetrics { return c.script }

// Audit returns the audit recorder metrics.
func (c *Collector) Audit() *AuditMetrics { return c.audit }

// ObserveRule implements engine.Observer.
func (c *Collector) ObserveRule(_ context.Context, ev engine.RuleEvent) {
	if !c.config.Enabled {
		return
	}
	ruleID := ev.RuleID
	if !c.ruleLabels.Allow(ruleID) {
		ruleID = OverflowLabel
	}
	phase := ev.Phase.String()

	c.rules.RecordEvaluation(ruleID, phase, outcome(ev), ev.Duration)
	for _, a := range ev.Actions {
		c.rules.RecordAction(a, phase)
	}
	if ev.Err != nil {
		c.rules.RecordError(ruleID, errorKind(ev.Err))
	}
}

// ObserveLock implements script.Observer.
func (c *Collector) ObserveLock(op string, wait time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.script.RecordLock(op, wait, err)
}

// ObserveContext implements script.Observer.
func (c *Collector) ObserveContext(op, _ string) {
	if !c.config.Enabled {
		return
	}
	c.script.RecordContext(op)
}

// ObserveEval implements script.Observer.
func (c *Collector) ObserveEval(function string, d time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	if !c.ruleLabels.Allow(function) {
		function = OverflowLabel
	}
	c.script.RecordEval(function, d, err)
}

func outcome(ev engine.RuleEvent) string {
	switch {
	case ev.Err != nil:
		return "error"
	case ev.Result:
		return "true"
	default:
		return "false"
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, engine.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, engine.ErrLockFailure):
		return "lock"
	case errors.Is(err, engine.ErrDestroyed):
		return "destroyed"
	default:
		return "evaluation"
	}
}

// CardinalityLimiter bounds the number of distinct label values recorded.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
