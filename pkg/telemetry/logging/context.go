package logging

import (
	"context"
	"log/slog"
)

type contextKey string

// Context keys for rule evaluation log fields.
const (
	TxIDKey    contextKey = "tx_id"
	RuleIDKey  contextKey = "rule_id"
	PhaseKey   contextKey = "phase"
	ContextKey contextKey = "context"
)

// WithTxID adds a transaction id to the context.
func WithTxID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TxIDKey, id)
}

// GetTxID retrieves the transaction id from the context.
func GetTxID(ctx context.Context) string {
	return stringValue(ctx, TxIDKey)
}

// WithRuleID adds a rule id to the context.
func WithRuleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RuleIDKey, id)
}

// GetRuleID retrieves the rule id from the context.
func GetRuleID(ctx context.Context) string {
	return stringValue(ctx, RuleIDKey)
}

// WithPhase adds a phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, PhaseKey, phase)
}

// GetPhase retrieves the phase name from the context.
func GetPhase(ctx context.Context) string {
	return stringValue(ctx, PhaseKey)
}

// WithConfigContext adds a configuration context name to the context.
func WithConfigContext(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKey, name)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

var contextKeys = []contextKey{TxIDKey, ContextKey, RuleIDKey, PhaseKey}

// ContextHandler adds the transaction fields stored in the context to every
// record logged through one of the *Context methods.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range contextKeys {
		if v := stringValue(ctx, key); v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
