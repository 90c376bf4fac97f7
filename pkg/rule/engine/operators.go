package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/A-new/ironbee/pkg/field"
	"github.com/A-new/ironbee/pkg/tx"
)

// BuiltinOptions tune the built-in operators.
type BuiltinOptions struct {
	// RegexCacheSize bounds the number of compiled @rx patterns kept.
	RegexCacheSize int
	// RegexTimeout bounds a single @rx match. Zero disables the bound.
	RegexTimeout time.Duration
	// ExprCostLimit bounds the runtime cost of an @expr evaluation.
	ExprCostLimit uint64
}

// DefaultBuiltinOptions returns the options used by NewEngine.
func DefaultBuiltinOptions() BuiltinOptions {
	return BuiltinOptions{
		RegexCacheSize: DefaultRegexCacheSize,
		RegexTimeout:   DefaultRegexTimeout,
		ExprCostLimit:  DefaultExprCostLimit,
	}
}

// funcOperator adapts plain functions to the Operator interface.
type funcOperator struct {
	name   string
	create func(param string) (any, error)
	exec   func(ctx context.Context, handle any, t *tx.Transaction, in *Input) (bool, error)
}

func (o *funcOperator) Name() string { return o.name }

func (o *funcOperator) Create(param string, _ InstanceFlags) (any, error) {
	if o.create == nil {
		return nil, nil
	}
	return o.create(param)
}

func (o *funcOperator) Execute(ctx context.Context, handle any, t *tx.Transaction, in *Input) (bool, error) {
	return o.exec(ctx, handle, t, in)
}

func (o *funcOperator) Destroy(any) error { return nil }

// RegisterBuiltinOperators registers streq, contains, rx, the numeric
// comparisons, ipmatch, exists, nop and expr.
func RegisterBuiltinOperators(reg *OperatorRegistry, opts BuiltinOptions) error {
	rx, err := newRegexOperator(opts.RegexCacheSize, opts.RegexTimeout)
	if err != nil {
		return err
	}
	expr, err := newExprOperator(opts.ExprCostLimit)
	if err != nil {
		return err
	}

	ops := []Operator{
		&funcOperator{name: "streq", create: textParam, exec: matchText(bytes.Equal)},
		&funcOperator{name: "contains", create: textParam, exec: matchText(bytes.Contains)},
		rx,
		numericOperator("eq", func(a, b int64) bool { return a == b }),
		numericOperator("ne", func(a, b int64) bool { return a != b }),
		numericOperator("gt", func(a, b int64) bool { return a > b }),
		numericOperator("lt", func(a, b int64) bool { return a < b }),
		numericOperator("ge", func(a, b int64) bool { return a >= b }),
		numericOperator("le", func(a, b int64) bool { return a <= b }),
		&funcOperator{name: "ipmatch", create: parseIPSet, exec: matchIP},
		&funcOperator{name: "exists", exec: func(_ context.Context, _ any, _ *tx.Transaction, in *Input) (bool, error) {
			return in != nil && !in.Value.IsNone(), nil
		}},
		&funcOperator{name: "nop", exec: func(context.Context, any, *tx.Transaction, *Input) (bool, error) {
			return true, nil
		}},
		expr,
	}
	for _, op := range ops {
		if err := reg.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// unquote strips one pair of surrounding double quotes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func textParam(param string) (any, error) {
	return []byte(unquote(param)), nil
}

func matchText(match func(a, b []byte) bool) func(context.Context, any, *tx.Transaction, *Input) (bool, error) {
	return func(_ context.Context, handle any, _ *tx.Transaction, in *Input) (bool, error) {
		if in == nil {
			return false, nil
		}
		text, ok := in.Value.Text()
		if !ok {
			return false, nil
		}
		return match(text, handle.([]byte)), nil
	}
}

type regexOperator struct {
	cache   *lru.Cache[string, *regexp2.Regexp]
	timeout time.Duration
}

func newRegexOperator(size int, timeout time.Duration) (*regexOperator, error) {
	if size <= 0 {
		size = DefaultRegexCacheSize
	}
	cache, err := lru.New[string, *regexp2.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create regex cache: %w", err)
	}
	return &regexOperator{cache: cache, timeout: timeout}, nil
}

func (o *regexOperator) Name() string { return "rx" }

func (o *regexOperator) Create(param string, _ InstanceFlags) (any, error) {
	pattern := unquote(param)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrConfigSyntax)
	}
	if re, ok := o.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigSyntax, err)
	}
	if o.timeout > 0 {
		re.MatchTimeout = o.timeout
	}
	o.cache.Add(pattern, re)
	return re, nil
}

func (o *regexOperator) Execute(_ context.Context, handle any, _ *tx.Transaction, in *Input) (bool, error) {
	if in == nil {
		return false, nil
	}
	text, ok := in.Value.Text()
	if !ok {
		return false, nil
	}
	matched, err := handle.(*regexp2.Regexp).MatchString(string(text))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	return matched, nil
}

func (o *regexOperator) Destroy(any) error { return nil }

func numericOperator(name string, cmp func(a, b int64) bool) Operator {
	return &funcOperator{
		name: name,
		create: func(param string) (any, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(unquote(param)), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an integer", ErrConfigSyntax, param)
			}
			return n, nil
		},
		exec: func(_ context.Context, handle any, _ *tx.Transaction, in *Input) (bool, error) {
			if in == nil {
				return false, nil
			}
			v, ok := numericValue(in.Value)
			if !ok {
				return false, nil
			}
			return cmp(v, handle.(int64)), nil
		},
	}
}

func numericValue(v field.Value) (int64, bool) {
	switch v.Kind() {
	case field.KindNumber:
		return v.Int(), true
	case field.KindFloat:
		return int64(v.Float()), true
	case field.KindTime:
		return int64(v.Time()), true
	case field.KindString, field.KindByteString:
		text, _ := v.Text()
		n, err := strconv.ParseInt(strings.TrimSpace(string(text)), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func parseIPSet(param string) (any, error) {
	entries := strings.FieldsFunc(unquote(param), func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: ipmatch requires at least one address", ErrConfigSyntax)
	}

	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfigSyntax, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigSyntax, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func matchIP(_ context.Context, handle any, _ *tx.Transaction, in *Input) (bool, error) {
	if in == nil {
		return false, nil
	}
	text, ok := in.Value.Text()
	if !ok {
		return false, nil
	}
	s := strings.TrimSpace(string(text))
	addr, err := netip.ParseAddr(s)
	if err != nil {
		ap, perr := netip.ParseAddrPort(s)
		if perr != nil {
			return false, nil
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap()
	for _, p := range handle.([]netip.Prefix) {
		if p.Contains(addr) {
			return true, nil
		}
	}
	return false, nil
}

type exprOperator struct {
	env       *cel.Env
	costLimit uint64
}

func newExprOperator(costLimit uint64) (*exprOperator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("name", cel.StringType),
		cel.Variable("tx", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	if costLimit == 0 {
		costLimit = DefaultExprCostLimit
	}
	return &exprOperator{env: env, costLimit: costLimit}, nil
}

func (o *exprOperator) Name() string { return "expr" }

func (o *exprOperator) Create(param string, _ InstanceFlags) (any, error) {
	src := unquote(param)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrConfigSyntax)
	}
	ast, issues := o.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigSyntax, issues.Err())
	}
	prg, err := o.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(o.costLimit),
		cel.InterruptCheckFrequency(64),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigSyntax, err)
	}
	return prg, nil
}

func (o *exprOperator) Execute(ctx context.Context, handle any, t *tx.Transaction, in *Input) (bool, error) {
	vars := map[string]any{
		"value": nil,
		"name":  "",
		"tx":    t.Vars(),
	}
	if in != nil {
		vars["value"] = in.Value.Export()
		vars["name"] = in.Name
	}

	out, _, err := handle.(cel.Program).ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression returned %v", ErrTypeMismatch, out.Type())
	}
	return b, nil
}

func (o *exprOperator) Destroy(any) error { return nil }
