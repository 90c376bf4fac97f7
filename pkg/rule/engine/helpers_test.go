package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/A-new/ironbee/pkg/tx"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), discardLogger())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// traceAction appends its param to a shared trace.
type traceAction struct {
	mu    sync.Mutex
	trace []string
}

func (a *traceAction) Name() string { return "trace" }

func (a *traceAction) Create(param string, _ InstanceFlags) (any, error) { return param, nil }

func (a *traceAction) Execute(_ context.Context, handle any, _ *ActionContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trace = append(a.trace, handle.(string))
	return nil
}

func (a *traceAction) Destroy(any) error { return nil }

func (a *traceAction) Trace() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.trace))
	copy(out, a.trace)
	return out
}

// stubOperator returns a fixed result or error and counts calls.
type stubOperator struct {
	name      string
	result    bool
	err       error
	block     bool
	calls     atomic.Int32
	destroyed atomic.Int32
	inputs    []string
	mu        sync.Mutex
}

func (o *stubOperator) Name() string { return o.name }

func (o *stubOperator) Create(string, InstanceFlags) (any, error) { return nil, nil }

func (o *stubOperator) Execute(ctx context.Context, _ any, _ *tx.Transaction, in *Input) (bool, error) {
	o.calls.Add(1)
	if in != nil {
		o.mu.Lock()
		o.inputs = append(o.inputs, in.Name)
		o.mu.Unlock()
	}
	if o.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return o.result, o.err
}

func (o *stubOperator) Destroy(any) error {
	o.destroyed.Add(1)
	return nil
}

func (o *stubOperator) seenInputs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.inputs...)
}

// buildRule creates a rule with the named registered operator.
func buildRule(t *testing.T, e *Engine, id string, inputs []string, op, param string, invert bool) *Rule {
	t.Helper()
	var flags InstanceFlags
	if invert {
		flags = InstanceInvert
	}
	inst, err := e.Operators().Create(op, param, flags)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", op, err)
	}
	r := NewRule()
	r.ID = id
	r.Inputs = inputs
	r.Operator = inst
	return r
}

func addAction(t *testing.T, e *Engine, r *Rule, name, param string, p Polarity) {
	t.Helper()
	inst, err := e.Actions().Create(name, param, 0)
	if err != nil {
		t.Fatalf("Create action %s error = %v", name, err)
	}
	r.AddAction(inst, p)
}

func mustRegister(t *testing.T, e *Engine, ctxName string, r *Rule, phase Phase) {
	t.Helper()
	if err := e.RegisterRule(ctxName, r, phase); err != nil {
		t.Fatalf("RegisterRule(%s) error = %v", r.ID, err)
	}
}
