package manager

import (
	"github.com/A-new/ironbee/pkg/rule/engine"
	"github.com/A-new/ironbee/pkg/tx"
)

// PhaseSummary is the serializable form of one engine.PhaseResult.
type PhaseSummary struct {
	Phase      string `json:"phase"`
	Matched    bool   `json:"matched"`
	Groups     int    `json:"groups"`
	Rules      int    `json:"rules"`
	Errors     int    `json:"errors"`
	DurationUS int64  `json:"duration_us"`
}

// Outcome is the state of a transaction after EvaluateAll.
type Outcome struct {
	TxID    string            `json:"tx_id"`
	Context string            `json:"context"`
	Blocked bool              `json:"blocked"`
	Verdict *tx.Verdict       `json:"verdict,omitempty"`
	Vars    map[string]string `json:"vars,omitempty"`
	Flags   []string          `json:"flags,omitempty"`
	Events  []tx.Event        `json:"events,omitempty"`
	Phases  []PhaseSummary    `json:"phases"`
	Error   string            `json:"error,omitempty"`
}

// Summarize builds the outcome of t from the results and error returned by
// EvaluateAll.
func Summarize(t *tx.Transaction, results []*engine.PhaseResult, err error) Outcome {
	out := Outcome{
		TxID:    t.ID(),
		Context: t.Context(),
		Blocked: t.Blocked(),
		Vars:    t.Vars(),
		Flags:   t.Flags(),
		Events:  t.Events(),
		Phases:  make([]PhaseSummary, 0, len(results)),
	}
	if v, ok := t.Verdict(); ok {
		out.Verdict = &v
	}
	if len(out.Vars) == 0 {
		out.Vars = nil
	}
	for _, res := range results {
		if res.Context != "" {
			out.Context = res.Context
		}
		out.Phases = append(out.Phases, PhaseSummary{
			Phase:      res.Phase.String(),
			Matched:    res.Matched,
			Groups:     res.Groups,
			Rules:      res.Rules,
			Errors:     res.Errors,
			DurationUS: res.Duration.Microseconds(),
		})
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
