package tx

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/A-new/ironbee/pkg/field"
)

// ErrInvalidSpec is returned when a transaction fixture cannot be built.
var ErrInvalidSpec = errors.New("invalid transaction spec")

// Spec describes a transaction fixture, as read from YAML by the eval command
// and by tests.
type Spec struct {
	ID           string      `yaml:"id"`
	Context      string      `yaml:"context"`
	Fields       []FieldSpec `yaml:"fields"`
	RequestBody  []string    `yaml:"request_body"`
	ResponseBody []string    `yaml:"response_body"`
}

// FieldSpec describes one field. Type may be num, time, float, string,
// bytes or list; when empty it is inferred from Value.
type FieldSpec struct {
	Name  string      `yaml:"name"`
	Type  string      `yaml:"type"`
	Value any         `yaml:"value"`
	Items []FieldSpec `yaml:"items"`
}

// LoadSpecFile reads a fixture from disk.
func LoadSpecFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses a YAML fixture.
func ParseSpec(data []byte) (*Spec, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return DecodeSpec(raw)
}

// DecodeSpec decodes a generic map, such as one taken from a larger config
// document, into a Spec.
func DecodeSpec(raw map[string]any) (*Spec, error) {
	var spec Spec
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           &spec,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return &spec, nil
}

// Build creates the transaction described by the spec. Body entries are
// appended as separate chunks.
func (s *Spec) Build() (*Transaction, error) {
	t := NewWithID(s.ID, s.Context)
	for i := range s.Fields {
		f, err := s.Fields[i].build()
		if err != nil {
			return nil, err
		}
		t.Set(f)
	}
	for _, chunk := range s.RequestBody {
		if err := t.AppendBody(FieldRequestBody, []byte(chunk)); err != nil {
			return nil, err
		}
	}
	for _, chunk := range s.ResponseBody {
		if err := t.AppendBody(FieldResponseBody, []byte(chunk)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (fs *FieldSpec) build() (*field.Field, error) {
	if fs.Name == "" {
		return nil, fmt.Errorf("%w: field name is required", ErrInvalidSpec)
	}

	typ := strings.ToLower(fs.Type)
	if typ == "" {
		typ = inferType(fs)
	}

	switch typ {
	case "list":
		items := make([]*field.Field, 0, len(fs.Items))
		for i := range fs.Items {
			item, err := fs.Items[i].build()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", fs.Name, err)
			}
			items = append(items, item)
		}
		return field.NewList(fs.Name, items...), nil
	case "num", "number", "int":
		n, err := toInt64(fs.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidSpec, fs.Name, err)
		}
		return field.NewNum(fs.Name, n), nil
	case "float":
		switch v := fs.Value.(type) {
		case float64:
			return field.NewFloat(fs.Name, v), nil
		case int:
			return field.NewFloat(fs.Name, float64(v)), nil
		default:
			return nil, fmt.Errorf("%w: field %q: %v is not a float", ErrInvalidSpec, fs.Name, fs.Value)
		}
	case "time":
		switch v := fs.Value.(type) {
		case time.Time:
			return field.NewTimeFrom(fs.Name, v), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidSpec, fs.Name, err)
			}
			return field.NewTimeFrom(fs.Name, ts), nil
		default:
			n, err := toInt64(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: field %q: %v is not a timestamp", ErrInvalidSpec, fs.Name, fs.Value)
			}
			return field.NewTime(fs.Name, uint64(n)), nil
		}
	case "bytes", "bytestr":
		return field.NewByteStr(fs.Name, []byte(fmt.Sprint(valueOrEmpty(fs.Value)))), nil
	case "string", "nulstr":
		return field.NewNulStr(fs.Name, fmt.Sprint(valueOrEmpty(fs.Value))), nil
	default:
		return nil, fmt.Errorf("%w: field %q: unknown type %q", ErrInvalidSpec, fs.Name, fs.Type)
	}
}

func inferType(fs *FieldSpec) string {
	if len(fs.Items) > 0 {
		return "list"
	}
	switch fs.Value.(type) {
	case int, int64:
		return "num"
	case float64:
		return "float"
	case time.Time:
		return "time"
	default:
		return "string"
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		if _, err := fmt.Sscan(n, &out); err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("%v is not an integer", v)
	}
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
