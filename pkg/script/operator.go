package script

import (
	"context"
	"fmt"

	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/tx"
)

// Operator adapts a Runtime to engine.Operator. Its name is the full source
// spec of the rule (for example "js:rules/admin.js"); each instance's
// parameter is the name of the loaded function to call.
type Operator struct {
	name    string
	runtime *Runtime
}

// NewOperator creates a script operator named name.
func NewOperator(name string, rt *Runtime) *Operator {
	return &Operator{name: name, runtime: rt}
}

// Name implements engine.Operator.
func (o *Operator) Name() string { return o.name }

// Create implements engine.Operator. param must name a loaded function.
func (o *Operator) Create(param string, _ engine.InstanceFlags) (any, error) {
	if param == "" {
		return nil, fmt.Errorf("%w: script operator requires a function name", engine.ErrConfigSyntax)
	}
	if !o.runtime.HasFunction(param) {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, param)
	}
	return param, nil
}

// Execute implements engine.Operator. The rule is true when the function
// returns a non-zero result.
func (o *Operator) Execute(ctx context.Context, handle any, t *tx.Transaction, _ *engine.Input) (bool, error) {
	n, err := o.runtime.Evaluate(ctx, handle.(string), t)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Destroy implements engine.Operator.
func (o *Operator) Destroy(any) error { return nil }
