package engine

import (
	"fmt"
	"strings"

	"github.com/A-new/ironbee/pkg/field"
)

// Phase is a point in the request/response lifecycle at which rules run.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseRequestHeader
	PhaseRequestBody
	PhaseResponseHeader
	PhaseResponseBody
	PhasePostprocess

	numPhases
)

var phaseNames = [numPhases]string{
	"NONE",
	"REQUEST_HEADER",
	"REQUEST_BODY",
	"RESPONSE_HEADER",
	"RESPONSE_BODY",
	"POSTPROCESS",
}

// String returns the directive spelling of the phase.
func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
	return phaseNames[p]
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseNone && p < numPhases
}

// ParsePhase parses a phase name, ignoring case. REQUEST and RESPONSE are
// accepted as aliases for the body phases.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToUpper(s) {
	case "REQUEST_HEADER":
		return PhaseRequestHeader, nil
	case "REQUEST", "REQUEST_BODY":
		return PhaseRequestBody, nil
	case "RESPONSE_HEADER":
		return PhaseResponseHeader, nil
	case "RESPONSE", "RESPONSE_BODY":
		return PhaseResponseBody, nil
	case "POSTPROCESS":
		return PhasePostprocess, nil
	case "NONE":
		return PhaseNone, nil
	default:
		return PhaseNone, fmt.Errorf("%w: phase %q", ErrUnknownIdentifier, s)
	}
}

// LifecyclePhases returns the phases a server drives for every transaction,
// in order. PhaseNone is not included.
func LifecyclePhases() []Phase {
	return []Phase{
		PhaseRequestHeader,
		PhaseRequestBody,
		PhaseResponseHeader,
		PhaseResponseBody,
		PhasePostprocess,
	}
}

// Flags are rule attribute bits.
type Flags uint32

const (
	// FlagExternal marks a rule whose operator is a script.
	FlagExternal Flags = 1 << 0
	// FlagChain marks a rule that continues into its successor on a true result.
	FlagChain Flags = 1 << 1
	// FlagChainedTo marks a rule reached only through a predecessor.
	FlagChainedTo Flags = 1 << 2
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagExternal) {
		parts = append(parts, "EXTERNAL")
	}
	if f.Has(FlagChain) {
		parts = append(parts, "CHAIN")
	}
	if f.Has(FlagChainedTo) {
		parts = append(parts, "CHAINED_TO")
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// InstanceFlags are passed to operator and action factories.
type InstanceFlags uint32

// InstanceInvert negates an operator result or selects the on-false list for
// an action.
const InstanceInvert InstanceFlags = 1 << 0

// Polarity selects when an action fires.
type Polarity int

const (
	OnTrue Polarity = iota
	OnFalse
)

func (p Polarity) String() string {
	if p == OnFalse {
		return "on-false"
	}
	return "on-true"
}

// ActionSlot binds an action instance to a rule.
type ActionSlot struct {
	Instance *ActionInstance
	Polarity Polarity
}

// Input is one converted rule input passed to an operator.
type Input struct {
	Name  string
	Value field.Value
}

const noSuccessor = -1

// Rule is a single security rule. A Rule is built by the directive parser
// and is immutable once registered.
type Rule struct {
	ID       string
	Phase    Phase
	Inputs   []string
	Operator *OperatorInstance
	Actions  []ActionSlot
	Flags    Flags

	// Source is the file and line the rule was read from, when known.
	Source string

	index int
	next  int
}

// NewRule returns an empty rule in phase NONE.
func NewRule() *Rule {
	return &Rule{index: noSuccessor, next: noSuccessor}
}

// AddAction appends an action to the rule.
func (r *Rule) AddAction(inst *ActionInstance, p Polarity) {
	r.Actions = append(r.Actions, ActionSlot{Instance: inst, Polarity: p})
}

// ActionsFor returns the instances that fire for polarity p, in order.
func (r *Rule) ActionsFor(p Polarity) []*ActionInstance {
	var out []*ActionInstance
	for _, slot := range r.Actions {
		if slot.Polarity == p {
			out = append(out, slot.Instance)
		}
	}
	return out
}

// Destroy releases the operator and every action instance of the rule.
func (r *Rule) Destroy() error {
	var errs []error
	if r.Operator != nil {
		if err := r.Operator.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, slot := range r.Actions {
		if slot.Instance == nil {
			continue
		}
		if err := slot.Instance.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}
