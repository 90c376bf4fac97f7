package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/A-new/ironbee/pkg/field"
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/tx"
)

// Observer receives runtime events. ObserveContext is called while the
// runtime lock is held.
type Observer interface {
	ObserveLock(op string, wait time.Duration, err error)
	ObserveContext(op, function string)
	ObserveEval(function string, d time.Duration, err error)
}

// Runtime owns the shared script state: the compiled prelude and the named
// rule functions. Each evaluation runs in its own isolated goja runtime;
// the lock guards only the shared state and the live-context count and is
// never held while script code runs.
type Runtime struct {
	config   Config
	logger   *slog.Logger
	bridge   *field.Bridge
	observer Observer

	sem       chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	// guarded by sem
	prelude   *goja.Program
	functions map[string]*goja.Program

	sources *expirable.LRU[string, *goja.Program]
	active  atomic.Int64
}

// NewRuntime creates a runtime and compiles the prelude, if one exists.
// observer may be nil.
func NewRuntime(cfg Config, logger *slog.Logger, observer Observer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		config:    cfg,
		logger:    logger.With("component", "script.runtime"),
		bridge:    field.NewBridge(logger),
		observer:  observer,
		sem:       make(chan struct{}, 1),
		closed:    make(chan struct{}),
		functions: make(map[string]*goja.Program),
		sources:   expirable.NewLRU[string, *goja.Program](cfg.ProgramCacheSize, nil, cfg.ProgramCacheTTL),
	}

	prelude, err := r.compilePrelude()
	if err != nil {
		return nil, err
	}
	r.prelude = prelude

	r.logger.Info("script runtime initialized",
		"module_base_path", cfg.ModuleBasePath,
		"prelude", prelude != nil,
		"eval_timeout", cfg.EvalTimeout,
	)
	return r, nil
}

func (r *Runtime) compilePrelude() (*goja.Program, error) {
	if r.config.Prelude == "" || r.config.ModuleBasePath == "" {
		return nil, nil
	}
	path := filepath.Join(r.config.ModuleBasePath, r.config.Prelude)
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("no script prelude found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prelude: %w", err)
	}
	p, err := goja.Compile(path, string(src), true)
	if err != nil {
		return nil, fmt.Errorf("%w: prelude %s: %v", engine.ErrConfigSyntax, path, err)
	}
	return p, nil
}

// withCriticalSection runs fn while holding the runtime lock. If the lock
// cannot be acquired, fn is not called and a *LockError is returned. The
// lock is released when fn returns or panics.
func (r *Runtime) withCriticalSection(ctx context.Context, op string, fn func() error) error {
	return r.critical(ctx, op, false, fn)
}

func (r *Runtime) critical(ctx context.Context, op string, evenIfClosed bool, fn func() error) error {
	start := time.Now()
	if err := r.acquire(ctx, evenIfClosed); err != nil {
		lockErr := &LockError{Op: op, Cause: err}
		r.logger.Error("failed to acquire script runtime lock", "op", op, "error", err)
		if r.observer != nil {
			r.observer.ObserveLock(op, time.Since(start), lockErr)
		}
		return lockErr
	}
	defer r.release()

	if r.observer != nil {
		r.observer.ObserveLock(op, time.Since(start), nil)
	}
	return fn()
}

func (r *Runtime) acquire(ctx context.Context, evenIfClosed bool) error {
	closed := r.closed
	if evenIfClosed {
		closed = nil
	} else if r.isClosed() {
		return ErrRuntimeClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return ErrRuntimeClosed
	}
}

func (r *Runtime) release() { <-r.sem }

func (r *Runtime) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// LoadFunction compiles the script at path and stores it under name,
// replacing any function of that name. The file body becomes the body of a
// function taking the ib API object; its return value is the rule result.
func (r *Runtime) LoadFunction(path, name string) error {
	return r.LoadFunctionContext(context.Background(), path, name)
}

// LoadFunctionContext is LoadFunction with a context for lock acquisition.
func (r *Runtime) LoadFunctionContext(ctx context.Context, path, name string) error {
	prog, resolved, err := r.compileFile(path, name)
	if err != nil {
		return err
	}
	return r.store(ctx, name, prog, resolved, true)
}

// DefineFunction is LoadFunction for a name that must not be loaded yet.
// The script is compiled before the lock is taken; nothing is stored when
// compilation fails or name is taken.
func (r *Runtime) DefineFunction(ctx context.Context, path, name string) error {
	prog, resolved, err := r.compileFile(path, name)
	if err != nil {
		return err
	}
	return r.store(ctx, name, prog, resolved, false)
}

// RemoveFunction drops the function stored under name, if any.
func (r *Runtime) RemoveFunction(ctx context.Context, name string) error {
	return r.withCriticalSection(ctx, "remove", func() error {
		if _, ok := r.functions[name]; !ok {
			return nil
		}
		next := make(map[string]*goja.Program, len(r.functions))
		for k, v := range r.functions {
			if k != name {
				next[k] = v
			}
		}
		r.functions = next
		r.logger.Debug("script function removed", "function", name)
		return nil
	})
}

// LoadSource compiles src and stores it under name.
func (r *Runtime) LoadSource(ctx context.Context, name, src string) error {
	if name == "" {
		return fmt.Errorf("%w: script function name is required", engine.ErrConfigSyntax)
	}
	prog, err := compileFunction(name, src)
	if err != nil {
		return err
	}
	return r.store(ctx, name, prog, "", true)
}

func (r *Runtime) compileFile(path, name string) (*goja.Program, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("%w: script function name is required", engine.ErrConfigSyntax)
	}
	resolved := r.resolve(path)

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("%w: script %s: %v", engine.ErrConfigSyntax, path, err)
	}
	key := fmt.Sprintf("%s@%d", resolved, info.ModTime().UnixNano())

	if prog, ok := r.sources.Get(key); ok {
		return prog, resolved, nil
	}
	src, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("%w: script %s: %v", engine.ErrConfigSyntax, path, err)
	}
	prog, err := compileFunction(resolved, string(src))
	if err != nil {
		return nil, "", err
	}
	r.sources.Add(key, prog)
	return prog, resolved, nil
}

// store publishes prog under name with a copy-on-write swap of the root.
func (r *Runtime) store(ctx context.Context, name string, prog *goja.Program, path string, replace bool) error {
	return r.withCriticalSection(ctx, "load", func() error {
		if _, exists := r.functions[name]; exists && !replace {
			return fmt.Errorf("%w: script function %q", engine.ErrDuplicateName, name)
		}
		next := make(map[string]*goja.Program, len(r.functions)+1)
		for k, v := range r.functions {
			next[k] = v
		}
		next[name] = prog
		r.functions = next

		r.logger.Debug("script function loaded", "function", name, "path", path)
		return nil
	})
}

func compileFunction(name, src string) (*goja.Program, error) {
	wrapped := "(function(ib) {\n" + src + "\n})"
	p, err := goja.Compile(name, wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("%w: script %s: %v", engine.ErrConfigSyntax, name, err)
	}
	return p, nil
}

func (r *Runtime) resolve(path string) string {
	if filepath.IsAbs(path) || r.config.ModuleBasePath == "" {
		return path
	}
	candidate := filepath.Join(r.config.ModuleBasePath, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// HasFunction reports whether a function is loaded under name.
func (r *Runtime) HasFunction(name string) bool {
	var ok bool
	_ = r.withCriticalSection(context.Background(), "lookup", func() error {
		_, ok = r.functions[name]
		return nil
	})
	return ok
}

// Functions returns the loaded function names, sorted.
func (r *Runtime) Functions() []string {
	var names []string
	_ = r.withCriticalSection(context.Background(), "lookup", func() error {
		for name := range r.functions {
			names = append(names, name)
		}
		return nil
	})
	sort.Strings(names)
	return names
}

// ActiveContexts returns the number of live script contexts.
func (r *Runtime) ActiveContexts() int64 { return r.active.Load() }

// acquireContext takes the shared programs for name and counts a live
// context. The caller holds the lock.
func (r *Runtime) acquireContext(name string) (prelude, prog *goja.Program, err error) {
	prog, ok := r.functions[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownFunction, name)
	}
	r.active.Add(1)
	if r.observer != nil {
		r.observer.ObserveContext("create", name)
	}
	return r.prelude, prog, nil
}

// releaseContext uncounts a live context. The caller holds the lock.
func (r *Runtime) releaseContext(name string) {
	r.active.Add(-1)
	if r.observer != nil {
		r.observer.ObserveContext("destroy", name)
	}
}

// instantiate runs the prelude and the function-defining program in vm.
// It runs outside the lock and can be interrupted.
func (r *Runtime) instantiate(vm *goja.Runtime, name string, prelude, prog *goja.Program) (goja.Callable, error) {
	for k, v := range r.config.Globals {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to set global %s: %w", k, err)
		}
	}
	if prelude != nil {
		if _, err := runProgram(vm, prelude); err != nil {
			return nil, &EvaluationError{Function: r.config.Prelude, Cause: err}
		}
	}
	v, err := runProgram(vm, prog)
	if err != nil {
		return nil, &EvaluationError{Function: name, Cause: err}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &EvaluationError{Function: name, Cause: errors.New("script did not compile to a function")}
	}
	return fn, nil
}

// Evaluate runs the named function against t in a fresh context and returns
// its result as an integer: booleans map to 0 and 1, numbers are truncated.
// Only context bookkeeping happens under the lock; the prelude, the
// function and its call run outside it and are interrupted when ctx is done.
// The context is released under the lock whether or not the script succeeds.
func (r *Runtime) Evaluate(ctx context.Context, name string, t *tx.Transaction) (result int64, err error) {
	if t == nil {
		return 0, engine.ErrNilTransaction
	}
	if r.config.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.EvalTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer.ObserveEval(name, time.Since(start), err)
		}
	}()

	var prelude, prog *goja.Program
	err = r.withCriticalSection(ctx, "create", func() error {
		var cerr error
		prelude, prog, cerr = r.acquireContext(name)
		return cerr
	})
	if err != nil {
		return 0, err
	}

	defer func() {
		derr := r.critical(context.WithoutCancel(ctx), "destroy", true, func() error {
			r.releaseContext(name)
			return nil
		})
		if derr != nil && err == nil {
			err = derr
		}
	}()

	vm := goja.New()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	fn, err := r.instantiate(vm, name, prelude, prog)
	if err != nil {
		return 0, interruptCause(ctx, err)
	}

	v, callErr := callFunction(fn, newAPI(ctx, vm, r, name, t))
	if callErr != nil {
		return 0, interruptCause(ctx, &EvaluationError{Function: name, Cause: callErr})
	}

	result, err = toResult(v)
	if err != nil {
		return 0, &EvaluationError{Function: name, Cause: err}
	}
	return result, nil
}

// interruptCause replaces a goja interrupt with the context error that
// triggered it.
func interruptCause(ctx context.Context, err error) error {
	var evalErr *EvaluationError
	var interrupted *goja.InterruptedError
	if errors.As(err, &evalErr) && errors.As(evalErr.Cause, &interrupted) && ctx.Err() != nil {
		return &EvaluationError{Function: evalErr.Function, Cause: ctx.Err()}
	}
	return err
}

func toResult(v goja.Value) (int64, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, fmt.Errorf("%w: script returned no value", engine.ErrTypeMismatch)
	}
	switch x := v.Export().(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("%w: script returned %T", engine.ErrTypeMismatch, x)
	}
}

func runProgram(vm *goja.Runtime, p *goja.Program) (v goja.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return vm.RunProgram(p)
}

func callFunction(fn goja.Callable, args ...goja.Value) (v goja.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn(goja.Undefined(), args...)
}

// Close marks the runtime closed and drops the loaded functions. Later lock
// acquisitions fail with ErrRuntimeClosed; evaluations in flight still
// destroy their contexts.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		_ = r.critical(context.Background(), "close", true, func() error {
			r.functions = make(map[string]*goja.Program)
			r.prelude = nil
			return nil
		})
		r.sources.Purge()
		r.logger.Info("script runtime closed")
	})
	return nil
}
