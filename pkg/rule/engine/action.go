package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/A-new/ironbee/pkg/tx"
)

// ActionContext is passed to every action execution.
type ActionContext struct {
	Tx     *tx.Transaction
	Rule   *Rule
	Phase  Phase
	Logger *slog.Logger
}

// Action is a named side-effect factory.
type Action interface {
	Name() string
	Create(param string, flags InstanceFlags) (any, error)
	Execute(ctx context.Context, handle any, ec *ActionContext) error
	Destroy(handle any) error
}

// ActionRegistry maps action names to implementations.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]Action)}
}

// Register adds a under a.Name().
func (r *ActionRegistry) Register(a Action) error {
	name := a.Name()
	if name == "" {
		return fmt.Errorf("%w: empty action name", ErrConfigSyntax)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("%w: action %q", ErrDuplicateName, name)
	}
	r.actions[name] = a
	return nil
}

// Lookup returns the action registered under name.
func (r *ActionRegistry) Lookup(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: action %q", ErrUnknownIdentifier, name)
	}
	return a, nil
}

// Names returns the registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates the named action.
func (r *ActionRegistry) Create(name, param string, flags InstanceFlags) (*ActionInstance, error) {
	a, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	handle, err := a.Create(param, flags)
	if err != nil {
		return nil, &CreationError{Kind: "action", Name: name, Param: param, Cause: err}
	}
	return &ActionInstance{action: a, param: param, flags: flags, handle: handle}, nil
}

// ActionInstance is an action bound to a parameter.
type ActionInstance struct {
	action Action
	param  string
	flags  InstanceFlags
	handle any

	mu        sync.Mutex
	destroyed bool
}

// Name returns the action name.
func (i *ActionInstance) Name() string { return i.action.Name() }

// Param returns the creation parameter.
func (i *ActionInstance) Param() string { return i.param }

// Flags returns the creation flags.
func (i *ActionInstance) Flags() InstanceFlags { return i.flags }

// Execute runs the action.
func (i *ActionInstance) Execute(ctx context.Context, ec *ActionContext) error {
	if ec == nil || ec.Tx == nil {
		return ErrNilTransaction
	}
	i.mu.Lock()
	destroyed := i.destroyed
	i.mu.Unlock()
	if destroyed {
		return fmt.Errorf("action %q: %w", i.Name(), ErrDestroyed)
	}
	return i.action.Execute(ctx, i.handle, ec)
}

// Destroy releases the instance. Calling it again is a no-op.
func (i *ActionInstance) Destroy() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.destroyed {
		return nil
	}
	i.destroyed = true
	return i.action.Destroy(i.handle)
}
