package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/A-new/ironbee/pkg/field"
	"github.com/A-new/ironbee/pkg/tx"
)

func TestBuiltinOperators(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name  string
		op    string
		param string
		value field.Value
		want  bool
	}{
		{"streq match", "streq", "/admin", field.String("/admin"), true},
		{"streq quoted", "streq", `"/admin"`, field.String("/admin"), true},
		{"streq miss", "streq", "/admin", field.String("/admin/"), false},
		{"streq bytes with nul", "streq", "a\x00b", field.ByteString([]byte("a\x00b")), true},
		{"streq number text", "streq", "42", field.Number(42), true},
		{"streq list", "streq", "x", field.List(nil), false},
		{"contains", "contains", "adm", field.String("/admin"), true},
		{"contains miss", "contains", "root", field.String("/admin"), false},
		{"rx anchored", "rx", `^/adm[a-z]+$`, field.String("/admin"), true},
		{"rx lookahead", "rx", `^(?=.*select)(?=.*from)`, field.String("select * from t"), true},
		{"rx miss", "rx", `^\d+$`, field.String("12a"), false},
		{"eq", "eq", "5", field.Number(5), true},
		{"eq text", "eq", "5", field.String(" 5 "), true},
		{"ne", "ne", "5", field.Number(6), true},
		{"gt", "gt", "5", field.Number(6), true},
		{"gt equal", "gt", "5", field.Number(5), false},
		{"lt", "lt", "5", field.Float(4.9), true},
		{"ge", "ge", "5", field.Number(5), true},
		{"le", "le", "5", field.Number(6), false},
		{"numeric non-number", "eq", "5", field.String("five"), false},
		{"ipmatch cidr", "ipmatch", "10.0.0.0/8 192.168.1.1", field.String("10.1.2.3"), true},
		{"ipmatch single", "ipmatch", "10.0.0.0/8,192.168.1.1", field.String("192.168.1.1"), true},
		{"ipmatch with port", "ipmatch", "10.0.0.0/8", field.String("10.0.0.1:8080"), true},
		{"ipmatch v6", "ipmatch", "2001:db8::/32", field.String("2001:db8::1"), true},
		{"ipmatch miss", "ipmatch", "10.0.0.0/8", field.String("11.0.0.1"), false},
		{"ipmatch garbage", "ipmatch", "10.0.0.0/8", field.String("not-an-ip"), false},
		{"exists", "exists", "", field.String(""), true},
		{"exists none", "exists", "", field.None(), false},
		{"nop", "nop", "", field.None(), true},
		{"expr value", "expr", `value.startsWith("/adm") && name == "URI"`, field.String("/admin"), true},
		{"expr number", "expr", `value > 10`, field.Number(11), true},
		{"expr list", "expr", `size(value) == 2 && value[1].name == "b"`, field.List([]field.NamedValue{
			{Name: "a", Value: field.Number(1)},
			{Name: "b", Value: field.String("x")},
		}), true},
		{"expr tx vars", "expr", `"score" in tx && tx["score"] == "9"`, field.None(), true},
	}

	tr := tx.New("")
	tr.SetVar("score", "9")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := e.Operators().Create(tt.op, tt.param, 0)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			defer inst.Destroy()

			got, err := inst.Execute(context.Background(), tr, &Input{Name: "URI", Value: tt.value})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuiltinOperators_CreateErrors(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		op    string
		param string
	}{
		{"rx", "("},
		{"rx", ""},
		{"eq", "abc"},
		{"ipmatch", ""},
		{"ipmatch", "10.0.0.0/99"},
		{"expr", "value +"},
		{"expr", ""},
	}
	for _, tt := range tests {
		t.Run(tt.op+" "+tt.param, func(t *testing.T) {
			_, err := e.Operators().Create(tt.op, tt.param, 0)
			if !errors.Is(err, ErrConfigSyntax) {
				t.Fatalf("Create() error = %v, want ErrConfigSyntax", err)
			}
			var ce *CreationError
			if !errors.As(err, &ce) || ce.Kind != "operator" || ce.Name != tt.op {
				t.Errorf("CreationError = %+v", ce)
			}
		})
	}
}

func TestExprOperator_NonBoolResult(t *testing.T) {
	e := newTestEngine(t)
	inst, err := e.Operators().Create("expr", `name + "x"`, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = inst.Execute(context.Background(), tx.New(""), &Input{Name: "n", Value: field.None()})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("error = %v, want ErrTypeMismatch", err)
	}
}

func TestRegexOperator_SharesCompiledPatterns(t *testing.T) {
	op, err := newRegexOperator(4, 0)
	if err != nil {
		t.Fatal(err)
	}
	a, err := op.Create("^a+$", 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := op.Create(`"^a+$"`, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("identical patterns should share a compiled regexp")
	}
}

func TestOperatorRegistry(t *testing.T) {
	reg := NewOperatorRegistry()
	op := &stubOperator{name: "stub"}
	if err := reg.Register(op); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&stubOperator{name: "stub"}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate: %v", err)
	}
	if _, err := reg.Lookup("missing"); !errors.Is(err, ErrUnknownIdentifier) {
		t.Errorf("lookup: %v", err)
	}
	if _, err := reg.Create("missing", "", 0); !errors.Is(err, ErrUnknownIdentifier) {
		t.Errorf("create: %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("Names() = %v", names)
	}
}

func TestOperatorInstance_Lifecycle(t *testing.T) {
	op := &stubOperator{name: "stub", result: true}
	inst, err := NewOperatorInstance(op, "p", InstanceInvert)
	if err != nil {
		t.Fatal(err)
	}
	if !inst.Inverted() || inst.Param() != "p" || inst.Name() != "stub" {
		t.Errorf("instance = %+v", inst)
	}

	if _, err := inst.Execute(context.Background(), nil, nil); !errors.Is(err, ErrNilTransaction) {
		t.Errorf("nil tx: %v", err)
	}
	if op.destroyed.Load() != 0 {
		t.Error("Execute with nil tx must not destroy")
	}

	got, err := inst.Execute(context.Background(), tx.New(""), nil)
	if err != nil || got {
		t.Errorf("inverted Execute() = %v, %v; want false", got, err)
	}

	if err := inst.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := inst.Destroy(); err != nil {
		t.Fatal(err)
	}
	if op.destroyed.Load() != 1 {
		t.Errorf("destroyed = %d, want 1", op.destroyed.Load())
	}
	if _, err := inst.Execute(context.Background(), tx.New(""), nil); !errors.Is(err, ErrDestroyed) {
		t.Errorf("after destroy: %v", err)
	}
}
