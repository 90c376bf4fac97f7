package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/A-new/ironbee/pkg/tx"
)

// PhaseResult summarizes the evaluation of one phase.
type PhaseResult struct {
	Phase   Phase
	Context string
	// Matched is true if any rule group had a true outcome.
	Matched bool
	// Groups is the number of rule groups evaluated.
	Groups int
	// Rules is the number of rules whose operator ran.
	Rules    int
	Errors   int
	Duration time.Duration
}

// RuleEvent describes the evaluation of one rule.
type RuleEvent struct {
	TxID     string
	Context  string
	RuleID   string
	Phase    Phase
	Operator string
	External bool
	Result   bool
	Actions  []string
	Blocked  bool
	Err      error
	Duration time.Duration
	Time     time.Time
}

// Observer receives rule events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ObserveRule(ctx context.Context, ev RuleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev RuleEvent)

// ObserveRule calls f.
func (f ObserverFunc) ObserveRule(ctx context.Context, ev RuleEvent) { f(ctx, ev) }

// Evaluate runs the rules of phase against t, using the context named by
// t.Context() or the default context if that one does not exist. Rule
// groups run in registration order; a failing group is recorded and the
// remaining groups still run. The returned error joins the group errors.
func (e *Engine) Evaluate(ctx context.Context, t *tx.Transaction, phase Phase) (*PhaseResult, error) {
	if t == nil {
		return nil, ErrNilTransaction
	}
	if !phase.Valid() {
		return nil, fmt.Errorf("%w: phase %d", ErrUnknownIdentifier, int(phase))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	c, ok := e.contexts[t.Context()]
	if !ok {
		c = e.contexts[e.config.DefaultContext]
	}

	start := time.Now()
	result := &PhaseResult{Phase: phase, Context: c.name}

	var errs []error
	for _, idx := range c.phases[phase] {
		head := c.rules[idx]
		if head.Flags.Has(FlagChainedTo) {
			continue
		}
		result.Groups++

		matched, err := e.evaluateGroup(ctx, c, head, t, phase, result)
		if err != nil {
			result.Errors++
			errs = append(errs, err)
			e.logger.Warn("rule evaluation failed",
				"tx_id", t.ID(),
				"context", c.name,
				"rule_id", head.ID,
				"phase", phase.String(),
				"error", err,
			)
			continue
		}
		if matched {
			result.Matched = true
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug("phase evaluated",
		"tx_id", t.ID(),
		"context", c.name,
		"phase", phase.String(),
		"groups", result.Groups,
		"matched", result.Matched,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, joinErrors(errs)
}

// evaluateGroup walks a chain starting at head. The caller holds e.mu.
func (e *Engine) evaluateGroup(ctx context.Context, c *Context, head *Rule, t *tx.Transaction, phase Phase, pr *PhaseResult) (bool, error) {
	if e.config.RuleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RuleTimeout)
		defer cancel()
	}

	for rule := head; rule != nil; {
		start := time.Now()
		ev := RuleEvent{
			TxID:     t.ID(),
			Context:  c.name,
			RuleID:   rule.ID,
			Phase:    phase,
			Operator: rule.Operator.Name(),
			External: rule.Flags.Has(FlagExternal),
			Time:     start,
		}

		result, err := e.executeOperator(ctx, rule, t)
		pr.Rules++
		if err != nil {
			ev.Err = err
			ev.Duration = time.Since(start)
			e.notify(ctx, ev)
			return false, &EvaluationError{RuleID: rule.ID, Phase: phase, Cause: err}
		}
		ev.Result = result

		polarity := OnTrue
		if !result {
			polarity = OnFalse
		}
		ev.Actions, err = e.runActions(ctx, rule, polarity, t, phase)
		ev.Blocked = t.Blocked()
		ev.Duration = time.Since(start)
		if err != nil {
			ev.Err = err
			e.notify(ctx, ev)
			return false, &EvaluationError{RuleID: rule.ID, Phase: phase, Cause: err}
		}
		e.notify(ctx, ev)

		if !result {
			return false, nil
		}
		if !rule.Flags.Has(FlagChain) {
			return true, nil
		}
		next := c.Successor(rule)
		if next == nil {
			return true, nil
		}
		rule = next
	}
	return false, nil
}

// executeOperator invokes the operator once per present input and returns on
// the first true result. External rules are invoked once with no input.
func (e *Engine) executeOperator(ctx context.Context, rule *Rule, t *tx.Transaction) (bool, error) {
	if rule.Flags.Has(FlagExternal) {
		return rule.Operator.Execute(ctx, t, nil)
	}

	for _, name := range rule.Inputs {
		f, ok := t.Get(name)
		if !ok {
			continue
		}
		in := &Input{Name: name, Value: e.bridge.Convert(f)}
		matched, err := rule.Operator.Execute(ctx, t, in)
		if err != nil {
			return false, fmt.Errorf("input %s: %w", name, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) runActions(ctx context.Context, rule *Rule, polarity Polarity, t *tx.Transaction, phase Phase) ([]string, error) {
	ec := &ActionContext{
		Tx:     t,
		Rule:   rule,
		Phase:  phase,
		Logger: e.logger,
	}

	var executed []string
	for _, slot := range rule.Actions {
		if slot.Polarity != polarity {
			continue
		}
		if err := slot.Instance.Execute(ctx, ec); err != nil {
			return executed, fmt.Errorf("action %s: %w", slot.Instance.Name(), err)
		}
		executed = append(executed, slot.Instance.Name())
	}
	return executed, nil
}

func (e *Engine) notify(ctx context.Context, ev RuleEvent) {
	for _, o := range e.observers {
		o.ObserveRule(ctx, ev)
	}
}
