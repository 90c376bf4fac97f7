package tx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/A-new/ironbee/pkg/field"
)

const fixture = `
id: fixture-1
context: shop
fields:
  - name: REQUEST_URI
    value: /admin
  - name: CONTENT_LENGTH
    value: 42
  - name: RATIO
    value: 0.5
  - name: SEEN_AT
    type: time
    value: "2024-01-02T03:04:05Z"
  - name: ARGS
    items:
      - name: user
        value: alice
      - name: id
        type: num
        value: "7"
request_body: ["part1", "part2"]
`

func TestParseSpec_Build(t *testing.T) {
	spec, err := ParseSpec([]byte(fixture))
	if err != nil {
		t.Fatalf("ParseSpec() error = %v", err)
	}

	tr, err := spec.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tr.ID() != "fixture-1" || tr.Context() != "shop" {
		t.Errorf("id/context = %q/%q", tr.ID(), tr.Context())
	}

	b := field.NewBridge(nil)
	tests := []struct {
		name string
		kind field.Kind
	}{
		{"REQUEST_URI", field.KindString},
		{"CONTENT_LENGTH", field.KindNumber},
		{"RATIO", field.KindFloat},
		{"SEEN_AT", field.KindTime},
		{"ARGS", field.KindList},
		{FieldRequestBody, field.KindByteString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := tr.Get(tt.name)
			if !ok {
				t.Fatalf("field %s missing", tt.name)
			}
			if k := b.Convert(f).Kind(); k != tt.kind {
				t.Errorf("kind = %v, want %v", k, tt.kind)
			}
		})
	}

	f, _ := tr.Get(FieldRequestBody)
	if body, _ := f.ByteStr(); string(body) != "part1part2" {
		t.Errorf("body = %q", body)
	}

	args := b.Convert(mustGet(t, tr, "ARGS")).List()
	if len(args) != 2 || args[1].Name != "id" || args[1].Value.Int() != 7 {
		t.Errorf("ARGS = %+v", args)
	}
}

func TestParseSpec_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "bogus: 1\n"},
		{"missing field name", "fields:\n  - value: x\n"},
		{"bad number", "fields:\n  - name: n\n    type: num\n    value: abc\n"},
		{"unknown type", "fields:\n  - name: n\n    type: stream\n"},
		{"malformed yaml", "fields: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpec([]byte(tt.doc))
			if err == nil {
				_, err = spec.Build()
			}
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("error = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestLoadSpecFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatal(err)
	}
	spec, err := LoadSpecFile(path)
	if err != nil {
		t.Fatalf("LoadSpecFile() error = %v", err)
	}
	if len(spec.Fields) != 5 {
		t.Errorf("len(Fields) = %d, want 5", len(spec.Fields))
	}
	if _, err := LoadSpecFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func mustGet(t *testing.T, tr *Transaction, name string) *field.Field {
	t.Helper()
	f, ok := tr.Get(name)
	if !ok {
		t.Fatalf("field %s missing", name)
	}
	return f
}
