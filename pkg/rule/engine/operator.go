package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/A-new/ironbee/pkg/tx"
)

// Operator is a named predicate factory. Create validates the parameter and
// returns a handle that is passed back to Execute and Destroy.
type Operator interface {
	Name() string
	Create(param string, flags InstanceFlags) (any, error)
	Execute(ctx context.Context, handle any, t *tx.Transaction, in *Input) (bool, error)
	Destroy(handle any) error
}

// OperatorRegistry maps operator names to implementations.
type OperatorRegistry struct {
	mu  sync.RWMutex
	ops map[string]Operator
}

// NewOperatorRegistry creates an empty registry.
func NewOperatorRegistry() *OperatorRegistry {
	return &OperatorRegistry{ops: make(map[string]Operator)}
}

// Register adds op under op.Name().
func (r *OperatorRegistry) Register(op Operator) error {
	name := op.Name()
	if name == "" {
		return fmt.Errorf("%w: empty operator name", ErrConfigSyntax)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("%w: operator %q", ErrDuplicateName, name)
	}
	r.ops[name] = op
	return nil
}

// Lookup returns the operator registered under name.
func (r *OperatorRegistry) Lookup(name string) (Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: operator %q", ErrUnknownIdentifier, name)
	}
	return op, nil
}

// Names returns the registered operator names, sorted.
func (r *OperatorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates the named operator.
func (r *OperatorRegistry) Create(name, param string, flags InstanceFlags) (*OperatorInstance, error) {
	op, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return NewOperatorInstance(op, param, flags)
}

// OperatorInstance is an operator bound to a parameter. It is owned by
// exactly one rule.
type OperatorInstance struct {
	op     Operator
	param  string
	flags  InstanceFlags
	handle any

	mu        sync.Mutex
	destroyed bool
}

// NewOperatorInstance creates an instance of op directly, bypassing a registry.
func NewOperatorInstance(op Operator, param string, flags InstanceFlags) (*OperatorInstance, error) {
	handle, err := op.Create(param, flags)
	if err != nil {
		return nil, &CreationError{Kind: "operator", Name: op.Name(), Param: param, Cause: err}
	}
	return &OperatorInstance{op: op, param: param, flags: flags, handle: handle}, nil
}

// Name returns the operator name.
func (i *OperatorInstance) Name() string { return i.op.Name() }

// Param returns the creation parameter.
func (i *OperatorInstance) Param() string { return i.param }

// Flags returns the creation flags.
func (i *OperatorInstance) Flags() InstanceFlags { return i.flags }

// Inverted reports whether results are negated.
func (i *OperatorInstance) Inverted() bool { return i.flags&InstanceInvert != 0 }

// Execute runs the operator against one input and applies inversion.
// in is nil for external rules.
func (i *OperatorInstance) Execute(ctx context.Context, t *tx.Transaction, in *Input) (bool, error) {
	if t == nil {
		return false, ErrNilTransaction
	}
	i.mu.Lock()
	destroyed := i.destroyed
	i.mu.Unlock()
	if destroyed {
		return false, fmt.Errorf("operator %q: %w", i.Name(), ErrDestroyed)
	}

	result, err := i.op.Execute(ctx, i.handle, t, in)
	if err != nil {
		return false, err
	}
	if i.Inverted() {
		result = !result
	}
	return result, nil
}

// Destroy releases the instance. Calling it again is a no-op.
func (i *OperatorInstance) Destroy() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.destroyed {
		return nil
	}
	i.destroyed = true
	return i.op.Destroy(i.handle)
}
