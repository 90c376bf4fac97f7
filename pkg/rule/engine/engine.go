package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/A-new/ironbee/pkg/field"
)

// ErrEngineClosed is returned by operations on a closed engine.
var ErrEngineClosed = errors.New("engine closed")

// Engine holds the operator and action registries and the named
// configuration contexts, and evaluates rules against transactions.
type Engine struct {
	config    Config
	logger    *slog.Logger
	bridge    *field.Bridge
	operators *OperatorRegistry
	actions   *ActionRegistry

	mu        sync.RWMutex
	contexts  map[string]*Context
	observers []Observer
	closed    bool

	generatedIDs atomic.Uint64
}

// NewEngine creates an engine with the built-in operators and actions
// registered and the default context created.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		config:    cfg,
		logger:    logger.With("component", "rule.engine"),
		bridge:    field.NewBridge(logger),
		operators: NewOperatorRegistry(),
		actions:   NewActionRegistry(),
		contexts:  make(map[string]*Context),
	}
	e.contexts[cfg.DefaultContext] = newContext(cfg.DefaultContext)

	if err := RegisterBuiltinOperators(e.operators, cfg.Builtins); err != nil {
		return nil, fmt.Errorf("failed to register operators: %w", err)
	}
	if err := RegisterBuiltinActions(e.actions, logger); err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}
	return e, nil
}

// Operators returns the operator registry.
func (e *Engine) Operators() *OperatorRegistry { return e.operators }

// Actions returns the action registry.
func (e *Engine) Actions() *ActionRegistry { return e.actions }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// DefaultContext returns the name of the default context.
func (e *Engine) DefaultContext() string { return e.config.DefaultContext }

// AddObserver registers o to receive rule events.
func (e *Engine) AddObserver(o Observer) {
	if o == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// CreateContext creates an empty named context. It is a no-op if the
// context exists.
func (e *Engine) CreateContext(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty context name", ErrConfigSyntax)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if _, ok := e.contexts[name]; !ok {
		e.contexts[name] = newContext(name)
	}
	return nil
}

// Context returns the named context.
func (e *Engine) Context(name string) (*Context, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[name]
	return c, ok
}

// ContextNames returns the context names, sorted.
func (e *Engine) ContextNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.contexts))
	for name := range e.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RuleCount returns the number of rules across all contexts.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, c := range e.contexts {
		n += c.Len()
	}
	return n
}

// RegisterRule adds rule to the named context in the given phase and links
// it into a pending chain. The context is created if it does not exist. A
// rule without an id is given a generated one. On error the rule is not
// registered and remains owned by the caller.
func (e *Engine) RegisterRule(ctxName string, rule *Rule, phase Phase) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", ErrConfigSyntax)
	}
	if rule.Operator == nil {
		return fmt.Errorf("%w: rule %q has no operator", ErrConfigSyntax, rule.ID)
	}
	if !phase.Valid() {
		return fmt.Errorf("%w: phase %d", ErrUnknownIdentifier, int(phase))
	}
	if ctxName == "" {
		ctxName = e.config.DefaultContext
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	c, ok := e.contexts[ctxName]
	if !ok {
		c = newContext(ctxName)
	}
	if err := c.add(rule, phase, e.config.MaxRulesPerPhase); err != nil {
		return err
	}
	if !ok {
		e.contexts[ctxName] = c
	}
	if rule.ID == "" {
		rule.ID = fmt.Sprintf("rule-%d", e.generatedIDs.Add(1))
	}

	e.logger.Debug("rule registered",
		"context", ctxName,
		"rule_id", rule.ID,
		"phase", phase.String(),
		"operator", rule.Operator.Name(),
		"flags", rule.Flags.String(),
		"actions", len(rule.Actions),
	)
	return nil
}

// Seal validates the chains of the named context and makes it read-only.
func (e *Engine) Seal(ctxName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[ctxName]
	if !ok {
		return fmt.Errorf("%w: context %q", ErrUnknownIdentifier, ctxName)
	}
	return c.seal()
}

// SealAll seals every context.
func (e *Engine) SealAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, c := range e.contexts {
		if err := c.seal(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// Close destroys every operator and action instance of every context.
// Evaluations in progress finish first. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for _, c := range e.contexts {
		if err := c.destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Debug("engine closed", "contexts", len(e.contexts))
	return joinErrors(errs)
}
