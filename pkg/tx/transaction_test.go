package tx

import (
	"sync"
	"testing"

	"github.com/A-new/ironbee/pkg/field"
)

func TestNew_DefaultsContext(t *testing.T) {
	tr := New("")
	if tr.Context() != DefaultContext {
		t.Errorf("Context() = %q, want %q", tr.Context(), DefaultContext)
	}
	if tr.ID() == "" {
		t.Error("ID() should be generated")
	}
	if New("").ID() == tr.ID() {
		t.Error("ids should be unique")
	}
}

func TestTransaction_FieldOrder(t *testing.T) {
	tr := NewWithID("t1", "site")
	tr.Set(field.NewNulStr("b", "1"))
	tr.Set(field.NewNulStr("a", "2"))
	tr.Set(field.NewNulStr("b", "3"))

	fields := tr.Fields()
	if len(fields) != 2 {
		t.Fatalf("len(Fields()) = %d, want 2", len(fields))
	}
	if fields[0].Name != "b" || fields[1].Name != "a" {
		t.Errorf("order = %s,%s, want b,a", fields[0].Name, fields[1].Name)
	}
	f, _ := tr.Get("b")
	if v := field.NewBridge(nil).Convert(f); v.Str() != "3" {
		t.Errorf("b = %q, want replaced value 3", v.Str())
	}
}

func TestTransaction_AppendBody(t *testing.T) {
	tr := New("")
	chunks := []string{"a", "bc", "", "d\x00e"}
	for _, c := range chunks {
		if err := tr.AppendBody(FieldRequestBody, []byte(c)); err != nil {
			t.Fatalf("AppendBody() error = %v", err)
		}
	}

	f, ok := tr.Get(FieldRequestBody)
	if !ok {
		t.Fatal("body field missing")
	}
	got, _ := f.ByteStr()
	if string(got) != "abcd\x00e" {
		t.Errorf("body = %q", got)
	}

	tr.Set(field.NewNum("n", 1))
	if err := tr.AppendBody("n", []byte("x")); err == nil {
		t.Error("AppendBody on num field should fail")
	}
}

func TestTransaction_VarsFlagsEvents(t *testing.T) {
	tr := New("")
	tr.SetVar("score", "5")
	if v, ok := tr.Var("score"); !ok || v != "5" {
		t.Errorf("Var() = %q, %v", v, ok)
	}
	if _, ok := tr.Get("score"); !ok {
		t.Error("variable should be visible as a field")
	}

	tr.SetFlag("z")
	tr.SetFlag("a")
	if flags := tr.Flags(); len(flags) != 2 || flags[0] != "a" {
		t.Errorf("Flags() = %v", flags)
	}
	if !tr.HasFlag("z") || tr.HasFlag("missing") {
		t.Error("HasFlag mismatch")
	}

	tr.AddEvent(Event{RuleID: "r1", Message: "m"})
	evs := tr.Events()
	if len(evs) != 1 || evs[0].Time.IsZero() {
		t.Errorf("Events() = %+v", evs)
	}
}

func TestTransaction_FirstBlockWins(t *testing.T) {
	tr := New("")
	if tr.Blocked() {
		t.Fatal("new transaction should not be blocked")
	}
	tr.Block("first", "a")
	tr.Block("second", "b")

	v, ok := tr.Verdict()
	if !ok || v.RuleID != "first" || v.Reason != "a" {
		t.Errorf("Verdict() = %+v, %v", v, ok)
	}
}

func TestTransaction_ConcurrentMutation(t *testing.T) {
	tr := New("")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.SetVar("k", "v")
			tr.SetFlag("f")
			tr.AddEvent(Event{RuleID: "r"})
			_ = tr.AppendBody(FieldResponseBody, []byte("x"))
			_ = tr.Fields()
		}()
	}
	wg.Wait()

	f, _ := tr.Get(FieldResponseBody)
	body, _ := f.ByteStr()
	if len(body) != 16 {
		t.Errorf("len(body) = %d, want 16", len(body))
	}
	if len(tr.Events()) != 16 {
		t.Errorf("len(Events()) = %d, want 16", len(tr.Events()))
	}
}
