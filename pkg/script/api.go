package script

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/A-new/ironbee/pkg/tx"
)

// newAPI builds the ib object passed to rule functions.
//
//	ib.id            transaction id
//	ib.context       configuration context name
//	ib.rule          rule id (the function name)
//	ib.get(name)     field value, or null if absent
//	ib.setvar(n, v)  set a transaction variable
//	ib.block(reason) block the transaction
//	ib.event(msg)    record an event
//	ib.log(lvl, msg) log through the engine logger
//	ib.flag(name)    set a transaction flag
//	ib.hasFlag(name) test a transaction flag
func newAPI(ctx context.Context, vm *goja.Runtime, r *Runtime, ruleID string, t *tx.Transaction) *goja.Object {
	obj := vm.NewObject()
	logger := r.logger.With("rule_id", ruleID, "tx_id", t.ID())

	_ = obj.Set("id", t.ID())
	_ = obj.Set("context", t.Context())
	_ = obj.Set("rule", ruleID)

	_ = obj.Set("get", func(name string) any {
		f, ok := t.Get(name)
		if !ok {
			return nil
		}
		return r.bridge.Convert(f).Export()
	})
	_ = obj.Set("setvar", func(name, value string) {
		t.SetVar(name, value)
	})
	_ = obj.Set("block", func(reason string) {
		if reason == "" {
			reason = "blocked by script " + ruleID
		}
		t.Block(ruleID, reason)
	})
	_ = obj.Set("event", func(msg string) {
		t.AddEvent(tx.Event{RuleID: ruleID, Message: msg})
	})
	_ = obj.Set("log", func(level, msg string) {
		logger.Log(ctx, parseLevel(level), msg)
	})
	_ = obj.Set("flag", func(name string) {
		t.SetFlag(name)
	})
	_ = obj.Set("hasFlag", func(name string) bool {
		return t.HasFlag(name)
	})
	return obj
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
