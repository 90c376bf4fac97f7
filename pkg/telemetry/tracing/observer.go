package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/A-new/ironbee/pkg/rule/engine"
)

// RuleObserver adds one "rule" event per evaluated rule to the span in
// the evaluation context. Rules evaluated outside a recording span cost
// nothing.
func RuleObserver() engine.Observer {
	return engine.ObserverFunc(func(ctx context.Context, ev engine.RuleEvent) {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}
		attrs := []attribute.KeyValue{
			AttrRuleID.String(ev.RuleID),
			AttrOperator.String(ev.Operator),
			AttrResult.Bool(ev.Result),
		}
		if ev.Blocked {
			attrs = append(attrs, AttrBlocked.Bool(true))
		}
		if ev.Err != nil {
			attrs = append(attrs, attribute.String("error", ev.Err.Error()))
		}
		span.AddEvent("rule", trace.WithAttributes(attrs...), trace.WithTimestamp(ev.Time))
	})
}
