package directive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/script"
)

// Directive names handled by the parser.
const (
	DirectiveRule    = "Rule"
	DirectiveRuleExt = "RuleExt"
)

// Parser turns Rule and RuleExt directives into registered rules.
type Parser struct {
	engine  *engine.Engine
	runtime *script.Runtime
	logger  *slog.Logger

	context string
	baseDir string
	source  string

	// ContinueOnError makes file loading report every failing directive
	// instead of stopping at the first.
	ContinueOnError bool

	included map[string]bool
}

// NewParser creates a parser registering into e's default context. rt may
// be nil, in which case RuleExt directives are rejected.
func NewParser(e *engine.Engine, rt *script.Runtime, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		engine:   e,
		runtime:  rt,
		logger:   logger.With("component", "rule.directive"),
		context:  e.DefaultContext(),
		included: make(map[string]bool),
	}
}

// Context returns the configuration context rules are registered into.
func (p *Parser) Context() string { return p.context }

// SetContext selects the configuration context for subsequent directives.
func (p *Parser) SetContext(name string) error {
	if err := p.engine.CreateContext(name); err != nil {
		return err
	}
	p.context = name
	return nil
}

// Apply dispatches a pre-tokenized directive. Directive names are matched
// without regard to case.
func (p *Parser) Apply(name string, args []string) error {
	switch {
	case strings.EqualFold(name, DirectiveRule):
		return p.ParseRule(args)
	case strings.EqualFold(name, DirectiveRuleExt):
		return p.ParseRuleExt(args)
	default:
		return p.fail(name, "", fmt.Errorf("%w: directive %q", engine.ErrUnknownIdentifier, name))
	}
}

// ParseRule handles "Rule <inputs> <operator> [modifiers...]". On error no
// rule is registered and every instance created for it is destroyed.
func (p *Parser) ParseRule(args []string) (err error) {
	if len(args) < 1 {
		return p.fail(DirectiveRule, "", fmt.Errorf("%w: no inputs for rule", engine.ErrConfigSyntax))
	}
	if len(args) < 2 {
		return p.fail(DirectiveRule, args[0], fmt.Errorf("%w: no operator for rule", engine.ErrConfigSyntax))
	}

	rule := engine.NewRule()
	rule.Source = p.source
	defer func() {
		if err != nil {
			p.discard(rule)
		}
	}()

	inputs, err := parseInputs(args[0])
	if err != nil {
		return p.fail(DirectiveRule, args[0], err)
	}
	rule.Inputs = inputs

	name, param, flags, err := parseOperator(args[1])
	if err != nil {
		return p.fail(DirectiveRule, args[1], err)
	}
	inst, err := p.engine.Operators().Create(name, param, flags)
	if err != nil {
		return p.fail(DirectiveRule, args[1], err)
	}
	rule.Operator = inst

	phase := engine.PhaseNone
	for i, mod := range args[2:] {
		if err := p.parseModifier(rule, &phase, mod); err != nil {
			if i == 0 && param == "" && errors.Is(err, engine.ErrUnknownIdentifier) {
				err = fmt.Errorf("%w; an operator parameter must share the operator token, as in \"@%s %s\"", err, name, mod)
			}
			return p.fail(DirectiveRule, mod, err)
		}
	}

	if err := p.engine.RegisterRule(p.context, rule, phase); err != nil {
		return p.fail(DirectiveRule, rule.ID, err)
	}
	p.logger.Debug("rule parsed",
		"rule_id", rule.ID,
		"context", p.context,
		"operator", name,
		"param", param,
		"inverted", flags&engine.InstanceInvert != 0,
		"inputs", len(inputs),
	)
	return nil
}

// ParseRuleExt handles "RuleExt <backend>:<path> [modifiers...]". The script
// at path is loaded as a function named by the rule id, which is required.
func (p *Parser) ParseRuleExt(args []string) (err error) {
	if len(args) < 1 || args[0] == "" {
		return p.fail(DirectiveRuleExt, "", fmt.Errorf("%w: no script for rule", engine.ErrConfigSyntax))
	}
	source := args[0]

	rule := engine.NewRule()
	rule.Source = p.source
	rule.Flags |= engine.FlagExternal
	defer func() {
		if err != nil {
			p.discard(rule)
		}
	}()

	phase := engine.PhaseNone
	for _, mod := range args[1:] {
		if err := p.parseModifier(rule, &phase, mod); err != nil {
			return p.fail(DirectiveRuleExt, mod, err)
		}
	}

	backend, path, ok := strings.Cut(source, ":")
	if !ok || !strings.EqualFold(backend, "js") {
		return p.fail(DirectiveRuleExt, source, engine.ErrUnsupportedBackend)
	}
	if path == "" {
		return p.fail(DirectiveRuleExt, source, fmt.Errorf("%w: empty script path", engine.ErrConfigSyntax))
	}
	if rule.ID == "" {
		return p.fail(DirectiveRuleExt, source, fmt.Errorf("%w: external rule requires an id", engine.ErrConfigSyntax))
	}
	if p.runtime == nil {
		return p.fail(DirectiveRuleExt, source, fmt.Errorf("%w: no script runtime configured", engine.ErrUnsupportedBackend))
	}

	// The function is published only for this rule; it is withdrawn again if
	// the rule does not register.
	if err := p.runtime.DefineFunction(context.Background(), p.resolve(path), rule.ID); err != nil {
		return p.fail(DirectiveRuleExt, source, err)
	}
	defer func() {
		if err != nil {
			if rerr := p.runtime.RemoveFunction(context.Background(), rule.ID); rerr != nil {
				p.logger.Error("failed to withdraw script function", "rule_id", rule.ID, "error", rerr)
			}
		}
	}()

	op, err := p.scriptOperator(source)
	if err != nil {
		return p.fail(DirectiveRuleExt, source, err)
	}
	inst, err := engine.NewOperatorInstance(op, rule.ID, 0)
	if err != nil {
		return p.fail(DirectiveRuleExt, source, err)
	}
	rule.Operator = inst

	if err := p.engine.RegisterRule(p.context, rule, phase); err != nil {
		return p.fail(DirectiveRuleExt, rule.ID, err)
	}
	p.logger.Debug("external rule parsed",
		"rule_id", rule.ID,
		"context", p.context,
		"source", source,
		"phase", phase.String(),
	)
	return nil
}

// scriptOperator returns the operator registered under the full source
// spec, registering one on first use.
func (p *Parser) scriptOperator(source string) (engine.Operator, error) {
	reg := p.engine.Operators()
	if op, err := reg.Lookup(source); err == nil {
		return op, nil
	}
	op := script.NewOperator(source, p.runtime)
	if err := reg.Register(op); err != nil {
		if errors.Is(err, engine.ErrDuplicateName) {
			return reg.Lookup(source)
		}
		return nil, err
	}
	return op, nil
}

func (p *Parser) resolve(path string) string {
	if filepath.IsAbs(path) || p.baseDir == "" {
		return path
	}
	candidate := filepath.Join(p.baseDir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// parseModifier applies one modifier token. The token is split at the first
// colon only when something follows it.
func (p *Parser) parseModifier(rule *engine.Rule, phase *engine.Phase, mod string) error {
	name, value := mod, ""
	if i := strings.IndexByte(mod, ':'); i >= 0 && i+1 < len(mod) {
		name = mod[:i]
		value = strings.TrimLeftFunc(mod[i+1:], unicode.IsSpace)
	}

	switch {
	case strings.EqualFold(name, "id"):
		if value == "" {
			return fmt.Errorf("%w: modifier id with no value", engine.ErrConfigSyntax)
		}
		rule.ID = value
	case strings.EqualFold(name, "phase"):
		if value == "" {
			return fmt.Errorf("%w: modifier phase with no value", engine.ErrConfigSyntax)
		}
		ph, err := engine.ParsePhase(value)
		if err != nil {
			return err
		}
		*phase = ph
	case strings.EqualFold(name, "chain"):
		rule.Flags |= engine.FlagChain
	default:
		polarity := engine.OnTrue
		if strings.HasPrefix(name, "!") {
			name = name[1:]
			polarity = engine.OnFalse
		}
		inst, err := p.engine.Actions().Create(name, value, 0)
		if err != nil {
			return err
		}
		rule.AddAction(inst, polarity)
	}
	return nil
}

func (p *Parser) fail(directive, token string, err error) error {
	de := &DirectiveError{Directive: directive, Token: token, Source: p.source, Err: err}
	p.logger.Error("directive rejected",
		"directive", directive,
		"token", token,
		"context", p.context,
		"source", p.source,
		"error", err,
	)
	return de
}

func (p *Parser) discard(rule *engine.Rule) {
	if err := rule.Destroy(); err != nil {
		p.logger.Warn("failed to destroy rejected rule", "rule_id", rule.ID, "error", err)
	}
}

// parseInputs splits an input list on '|' and ','. Blank entries are dropped.
func parseInputs(s string) ([]string, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	inputs := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			inputs = append(inputs, part)
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: rule inputs are empty", engine.ErrConfigSyntax)
	}
	return inputs, nil
}

// parseOperator parses "[!]@name[ arg]". Blanks may precede '!' and '@';
// anything else before '@' is an error.
func parseOperator(s string) (name, param string, flags engine.InstanceFlags, err error) {
	at := -1
	bang := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '!' && !bang:
			bang = true
			flags |= engine.InstanceInvert
		case c == '@':
			at = i
		case c == ' ' || c == '\t':
			continue
		default:
			return "", "", 0, fmt.Errorf("%w: invalid operator syntax %q", engine.ErrConfigSyntax, s)
		}
		if at >= 0 {
			break
		}
	}
	if at < 0 || at+1 >= len(s) {
		return "", "", 0, fmt.Errorf("%w: invalid operator syntax %q", engine.ErrConfigSyntax, s)
	}

	rest := s[at+1:]
	name, param, _ = strings.Cut(rest, " ")
	if name == "" {
		return "", "", 0, fmt.Errorf("%w: invalid operator syntax %q", engine.ErrConfigSyntax, s)
	}
	param = strings.TrimRight(strings.TrimLeftFunc(param, unicode.IsSpace), " ")
	return name, param, flags, nil
}
