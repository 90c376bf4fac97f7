package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/A-new/ironbee/pkg/rule/directive"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/script"
	"github.com/A-new/ironbee/pkg/tx"
)

// ErrNotLoaded is returned by Evaluate before the first successful Load.
var ErrNotLoaded = errors.New("rules not loaded")

// Options configures a Manager.
type Options struct {
	// Files are rules file paths or glob patterns, loaded in order.
	Files []string

	Engine engine.Config

	// Script configures the script runtime. Nil disables RuleExt.
	Script *script.Config

	// SealOnLoad seals every context after loading.
	SealOnLoad bool

	// ContinueOnError reports every failing directive. A load with any
	// error is still rejected.
	ContinueOnError bool

	// Observers are attached to every engine the manager builds.
	Observers []engine.Observer

	// ScriptObserver is passed to every script runtime.
	ScriptObserver script.Observer

	// Tracer opens evaluation and phase spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Status describes the active rule set.
type Status struct {
	Files     []string  `json:"files"`
	Contexts  []string  `json:"contexts"`
	Rules     int       `json:"rules"`
	Functions []string  `json:"functions,omitempty"`
	LoadedAt  time.Time `json:"loaded_at"`
	Reloads   int       `json:"reloads"`
	LastError string    `json:"last_error,omitempty"`
}

// ruleSet is one engine with the runtime its script operators use.
type ruleSet struct {
	engine   *engine.Engine
	runtime  *script.Runtime
	files    []string
	loadedAt time.Time
}

func (rs *ruleSet) close() error {
	err := rs.engine.Close()
	if rs.runtime != nil {
		err = errors.Join(err, rs.runtime.Close())
	}
	return err
}

// Manager owns the active rule set and replaces it on reload. Evaluations
// in flight on the old set finish before it is closed.
type Manager struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	loadMu sync.Mutex // serializes Load

	mu      sync.RWMutex
	current *ruleSet
	reloads int
	lastErr error
	closed  bool
}

// NewManager creates a manager. Call Load before Evaluate.
func NewManager(opts Options, logger *slog.Logger) (*Manager, error) {
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("no rules files configured")
	}
	if err := opts.Engine.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "rule.manager"),
		tracer: tracer,
	}, nil
}

// Load builds a new rule set from the configured files and makes it
// active. On failure the previous set stays active.
func (m *Manager) Load() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	start := time.Now()
	rs, err := m.build()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if rs != nil {
			_ = rs.close()
		}
		return fmt.Errorf("manager closed")
	}
	m.lastErr = err
	if err != nil {
		hasPrevious := m.current != nil
		m.mu.Unlock()
		m.logger.Error("rules load failed, keeping previous rule set",
			"error", err,
			"has_previous", hasPrevious,
		)
		return err
	}
	old := m.current
	m.current = rs
	if old != nil {
		m.reloads++
	}
	m.mu.Unlock()

	if old != nil {
		if err := old.close(); err != nil {
			m.logger.Warn("closing previous rule set", "error", err)
		}
	}

	m.logger.Info("rules loaded",
		"files", len(rs.files),
		"rules", rs.engine.RuleCount(),
		"contexts", len(rs.engine.ContextNames()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Reload is Load, named for watcher callbacks.
func (m *Manager) Reload() error { return m.Load() }

func (m *Manager) build() (rs *ruleSet, err error) {
	files, err := ExpandFiles(m.opts.Files)
	if err != nil {
		return nil, err
	}

	e, err := engine.NewEngine(m.opts.Engine, m.logger)
	if err != nil {
		return nil, err
	}
	rs = &ruleSet{engine: e, files: files, loadedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = rs.close()
			rs = nil
		}
	}()

	for _, o := range m.opts.Observers {
		e.AddObserver(o)
	}
	if m.opts.Script != nil {
		rs.runtime, err = script.NewRuntime(*m.opts.Script, m.logger, m.opts.ScriptObserver)
		if err != nil {
			return rs, fmt.Errorf("failed to create script runtime: %w", err)
		}
	}

	p := directive.NewParser(e, rs.runtime, m.logger)
	p.ContinueOnError = m.opts.ContinueOnError

	var errs []error
	for _, f := range files {
		if err := p.LoadFile(f); err != nil {
			errs = append(errs, err)
			if !m.opts.ContinueOnError {
				break
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return rs, err
	}

	if m.opts.SealOnLoad {
		if err := e.SealAll(); err != nil {
			return rs, err
		}
	}
	return rs, nil
}

// ExpandFiles expands glob patterns in order. Each pattern must match at
// least one file; duplicates after the first occurrence are dropped.
func ExpandFiles(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid rules pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("rules pattern %q matched no files", pattern)
		}
		sort.Strings(matches)
		for _, f := range matches {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// Evaluate runs phase against t on the active rule set.
func (m *Manager) Evaluate(ctx context.Context, t *tx.Transaction, phase engine.Phase) (*engine.PhaseResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNotLoaded
	}
	return m.evaluatePhase(ctx, t, phase)
}

// EvaluateAll runs every lifecycle phase in order on one rule set. Phases
// after a block still run; acting on the verdict is left to the caller.
func (m *Manager) EvaluateAll(ctx context.Context, t *tx.Transaction) ([]*engine.PhaseResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNotLoaded
	}
	if t == nil {
		return nil, engine.ErrNilTransaction
	}

	ctx, span := m.tracer.Start(ctx, "ironbee.evaluate", trace.WithAttributes(
		attribute.String("ironbee.tx.id", t.ID()),
		attribute.String("ironbee.context", t.Context()),
	))
	defer span.End()

	var results []*engine.PhaseResult
	var errs []error
	for _, phase := range engine.LifecyclePhases() {
		res, err := m.evaluatePhase(ctx, t, phase)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", phase, err))
		}
	}
	err := errors.Join(errs...)
	span.SetAttributes(attribute.Bool("ironbee.blocked", t.Blocked()))
	endSpan(span, err)
	return results, err
}

func (m *Manager) evaluatePhase(ctx context.Context, t *tx.Transaction, phase engine.Phase) (*engine.PhaseResult, error) {
	ctx, span := m.tracer.Start(ctx, "ironbee.phase "+phase.String(),
		trace.WithAttributes(attribute.String("ironbee.phase", phase.String())))
	defer span.End()

	res, err := m.current.engine.Evaluate(ctx, t, phase)
	if res != nil {
		span.SetAttributes(
			attribute.String("ironbee.context", res.Context),
			attribute.Int("ironbee.rules", res.Rules),
			attribute.Bool("ironbee.matched", res.Matched),
		)
	}
	endSpan(span, err)
	return res, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Loaded reports whether a rule set is active.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// Files returns the expanded files of the active set, or the configured
// patterns when nothing is loaded.
func (m *Manager) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return append([]string(nil), m.opts.Files...)
	}
	return append([]string(nil), m.current.files...)
}

// Status returns a snapshot of the active rule set.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{Reloads: m.reloads}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	if m.current == nil {
		return s
	}
	s.Files = append([]string(nil), m.current.files...)
	s.Contexts = m.current.engine.ContextNames()
	s.Rules = m.current.engine.RuleCount()
	s.LoadedAt = m.current.loadedAt
	if m.current.runtime != nil {
		s.Functions = m.current.runtime.Functions()
	}
	return s
}

// Close closes the active rule set. Later Loads fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.current == nil {
		return nil
	}
	err := m.current.close()
	m.current = nil
	return err
}

// Watch reloads the rules whenever a file in the directory of an active
// rules file changes. It blocks until ctx is canceled.
func (m *Manager) Watch(ctx context.Context, debounce time.Duration) error {
	cfg := DefaultFileWatcherConfig()
	cfg.Dirs = WatchDirs(m.Files())
	if debounce > 0 {
		cfg.DebounceInterval = debounce
	}
	fw, err := NewFileWatcher(cfg, m.logger)
	if err != nil {
		return err
	}
	defer fw.Stop()
	return fw.Watch(ctx, m.Reload)
}
