package tx

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/A-new/ironbee/pkg/field"
)

// Well-known field names populated by the server integration.
const (
	FieldRequestURI    = "REQUEST_URI"
	FieldRequestMethod = "REQUEST_METHOD"
	FieldRemoteAddr    = "REMOTE_ADDR"
	FieldRequestBody   = "REQUEST_BODY"
	FieldResponseBody  = "RESPONSE_BODY"
)

// DefaultContext is the configuration context used when none is set.
const DefaultContext = "main"

// Event is a rule-generated event attached to a transaction.
type Event struct {
	RuleID  string    `json:"rule_id"`
	Phase   string    `json:"phase"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Verdict records the first block decision taken on a transaction.
type Verdict struct {
	RuleID string    `json:"rule_id"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Transaction holds the field state of one HTTP transaction as seen by the
// rule engine. It is safe for concurrent use; actions and scripts mutate it
// while rules read from it.
type Transaction struct {
	id      string
	context string
	created time.Time

	mu      sync.RWMutex
	fields  map[string]*field.Field
	order   []string
	vars    map[string]string
	flags   map[string]bool
	events  []Event
	verdict *Verdict
}

// New creates a transaction bound to the named configuration context with a
// random id. An empty context name selects DefaultContext.
func New(contextName string) *Transaction {
	return NewWithID(uuid.NewString(), contextName)
}

// NewWithID creates a transaction with a caller-chosen id.
func NewWithID(id, contextName string) *Transaction {
	if contextName == "" {
		contextName = DefaultContext
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Transaction{
		id:      id,
		context: contextName,
		created: time.Now(),
		fields:  make(map[string]*field.Field),
		vars:    make(map[string]string),
		flags:   make(map[string]bool),
	}
}

// ID returns the transaction id.
func (t *Transaction) ID() string { return t.id }

// Context returns the configuration context name.
func (t *Transaction) Context() string { return t.context }

// Created returns the creation time.
func (t *Transaction) Created() time.Time { return t.created }

// Get returns the named field, if present.
func (t *Transaction) Get(name string) (*field.Field, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.fields[name]
	return f, ok
}

// Set stores f under its name, replacing any previous field of that name.
func (t *Transaction) Set(f *field.Field) {
	if f == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(f)
}

func (t *Transaction) setLocked(f *field.Field) {
	if _, exists := t.fields[f.Name]; !exists {
		t.order = append(t.order, f.Name)
	}
	t.fields[f.Name] = f
}

// Fields returns all fields in insertion order.
func (t *Transaction) Fields() []*field.Field {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*field.Field, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.fields[name])
	}
	return out
}

// AppendBody appends a chunk of streamed body data to the named byte string
// field, creating it on first use. Chunks may arrive at any granularity.
func (t *Transaction) AppendBody(name string, chunk []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.fields[name]
	if !ok {
		t.setLocked(field.NewByteStr(name, chunk))
		return nil
	}
	prev, ok := existing.ByteStr()
	if !ok {
		return fmt.Errorf("field %q is %s, not a body buffer", name, existing.Type)
	}

	buf := make([]byte, 0, len(prev)+len(chunk))
	buf = append(buf, prev...)
	buf = append(buf, chunk...)
	t.fields[name] = field.NewByteStr(name, buf)
	return nil
}

// SetVar sets a transaction variable. Variables are also visible to rules as
// text fields of the same name.
func (t *Transaction) SetVar(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vars[name] = value
	t.setLocked(field.NewNulStr(name, value))
}

// Var returns a transaction variable.
func (t *Transaction) Var(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.vars[name]
	return v, ok
}

// Vars returns a copy of all transaction variables.
func (t *Transaction) Vars() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.vars))
	for k, v := range t.vars {
		out[k] = v
	}
	return out
}

// SetFlag sets a named flag.
func (t *Transaction) SetFlag(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flags[name] = true
}

// HasFlag reports whether a flag is set.
func (t *Transaction) HasFlag(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.flags[name]
}

// Flags returns the set flags in sorted order.
func (t *Transaction) Flags() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.flags))
	for k := range t.flags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AddEvent appends an event.
func (t *Transaction) AddEvent(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

// Events returns a copy of the recorded events.
func (t *Transaction) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Block marks the transaction as blocked. Only the first block is kept.
func (t *Transaction) Block(ruleID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.verdict != nil {
		return
	}
	t.verdict = &Verdict{RuleID: ruleID, Reason: reason, Time: time.Now()}
}

// Blocked reports whether a rule blocked the transaction.
func (t *Transaction) Blocked() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.verdict != nil
}

// Verdict returns the block verdict, if any.
func (t *Transaction) Verdict() (Verdict, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.verdict == nil {
		return Verdict{}, false
	}
	return *t.verdict, true
}
