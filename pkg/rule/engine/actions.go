package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/A-new/ironbee/pkg/tx"
)

// FlagAllow is the transaction flag set by the allow action.
const FlagAllow = "allow"

type funcAction struct {
	name   string
	create func(param string) (any, error)
	exec   func(ctx context.Context, handle any, ec *ActionContext) error
}

func (a *funcAction) Name() string { return a.name }

func (a *funcAction) Create(param string, _ InstanceFlags) (any, error) {
	if a.create == nil {
		return unquote(param), nil
	}
	return a.create(param)
}

func (a *funcAction) Execute(ctx context.Context, handle any, ec *ActionContext) error {
	return a.exec(ctx, handle, ec)
}

func (a *funcAction) Destroy(any) error { return nil }

// RegisterBuiltinActions registers block, allow, log, event, setvar and
// setflag. logger is used by the log action when the action context carries
// none.
func RegisterBuiltinActions(reg *ActionRegistry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rule.action")

	actions := []Action{
		&funcAction{name: "block", exec: func(_ context.Context, handle any, ec *ActionContext) error {
			reason := handle.(string)
			if reason == "" {
				reason = "blocked by rule " + ec.Rule.ID
			}
			ec.Tx.Block(ec.Rule.ID, reason)
			return nil
		}},
		&funcAction{name: "allow", exec: func(_ context.Context, _ any, ec *ActionContext) error {
			ec.Tx.SetFlag(FlagAllow)
			return nil
		}},
		&funcAction{name: "log", exec: func(_ context.Context, handle any, ec *ActionContext) error {
			l := ec.Logger
			if l == nil {
				l = logger
			}
			msg := handle.(string)
			if msg == "" {
				msg = "rule matched"
			}
			l.Info(msg,
				"tx_id", ec.Tx.ID(),
				"rule_id", ec.Rule.ID,
				"phase", ec.Phase.String(),
			)
			return nil
		}},
		&funcAction{name: "event", exec: func(_ context.Context, handle any, ec *ActionContext) error {
			ec.Tx.AddEvent(tx.Event{
				RuleID:  ec.Rule.ID,
				Phase:   ec.Phase.String(),
				Message: handle.(string),
			})
			return nil
		}},
		&funcAction{name: "setvar", create: parseAssignment, exec: func(_ context.Context, handle any, ec *ActionContext) error {
			kv := handle.([2]string)
			ec.Tx.SetVar(kv[0], kv[1])
			return nil
		}},
		&funcAction{name: "setflag", create: requireParam("setflag"), exec: func(_ context.Context, handle any, ec *ActionContext) error {
			ec.Tx.SetFlag(handle.(string))
			return nil
		}},
	}
	for _, a := range actions {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func parseAssignment(param string) (any, error) {
	name, value, ok := strings.Cut(unquote(param), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: setvar expects name=value, got %q", ErrConfigSyntax, param)
	}
	return [2]string{name, value}, nil
}

func requireParam(action string) func(string) (any, error) {
	return func(param string) (any, error) {
		p := strings.TrimSpace(unquote(param))
		if p == "" {
			return nil, fmt.Errorf("%w: %s requires a parameter", ErrConfigSyntax, action)
		}
		return p, nil
	}
}
