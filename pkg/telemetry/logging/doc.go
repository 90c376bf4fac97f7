// Package logging builds the process logger.
//
// Output is JSON, text or console formatted via log/slog and may be teed to a
// size-rotated file. Values of sensitive attributes (authorization headers,
// cookies, passwords) are masked before they are written.
//
// Transaction fields placed in a context with WithTxID, WithRuleID and
// WithPhase are added to every record logged through the *Context methods:
//
//	ctx = logging.WithTxID(ctx, t.ID())
//	logger.InfoContext(ctx, "rule matched", "operator", "streq")
package logging
