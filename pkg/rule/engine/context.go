package engine

import "fmt"

// Context is a named configuration context: the rules of one site. Rules are
// stored in an arena in registration order and referenced by index, both from
// the per-phase lists and from chain links.
type Context struct {
	name    string
	rules   []*Rule
	phases  [numPhases][]int
	pending [numPhases]int
	sealed  bool
}

func newContext(name string) *Context {
	c := &Context{name: name}
	for i := range c.pending {
		c.pending[i] = noSuccessor
	}
	return c
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// Sealed reports whether the context accepts no more rules.
func (c *Context) Sealed() bool { return c.sealed }

// Len returns the number of registered rules.
func (c *Context) Len() int { return len(c.rules) }

// Rules returns all rules in registration order.
func (c *Context) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// PhaseRules returns the rules of one phase in registration order.
func (c *Context) PhaseRules(p Phase) []*Rule {
	if !p.Valid() {
		return nil
	}
	out := make([]*Rule, 0, len(c.phases[p]))
	for _, idx := range c.phases[p] {
		out = append(out, c.rules[idx])
	}
	return out
}

// Successor returns the rule r chains into, or nil.
func (c *Context) Successor(r *Rule) *Rule {
	if r == nil || r.next == noSuccessor || r.next >= len(c.rules) {
		return nil
	}
	return c.rules[r.next]
}

func (c *Context) add(r *Rule, phase Phase, limit int) error {
	if c.sealed {
		return fmt.Errorf("context %q: %w", c.name, ErrSealed)
	}
	if limit > 0 && len(c.phases[phase]) >= limit {
		return fmt.Errorf("%w: context %q phase %s holds %d rules", ErrAllocation, c.name, phase, limit)
	}

	r.Phase = phase
	r.index = len(c.rules)
	r.next = noSuccessor
	c.rules = append(c.rules, r)
	c.phases[phase] = append(c.phases[phase], r.index)

	if pred := c.pending[phase]; pred != noSuccessor {
		c.rules[pred].next = r.index
		r.Flags |= FlagChainedTo
		c.pending[phase] = noSuccessor
	}
	if r.Flags.Has(FlagChain) {
		c.pending[phase] = r.index
	}
	return nil
}

func (c *Context) seal() error {
	for p, idx := range c.pending {
		if idx != noSuccessor {
			return fmt.Errorf("%w: context %q: rule %s in phase %s chains to nothing",
				ErrConfigSyntax, c.name, c.rules[idx].ID, Phase(p))
		}
	}
	c.sealed = true
	return nil
}

func (c *Context) destroy() error {
	var errs []error
	for _, r := range c.rules {
		if err := r.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
		}
	}
	return joinErrors(errs)
}
