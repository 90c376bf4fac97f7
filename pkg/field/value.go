package field

import (
	"log/slog"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindNone is the empty value, used for unsupported or absent data.
	KindNone Kind = iota
	KindNumber
	KindTime
	KindFloat
	KindString
	KindByteString
	KindList
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindByteString:
		return "bytestring"
	case KindList:
		return "list"
	default:
		return "none"
	}
}

// NamedValue is one element of a List value.
type NamedValue struct {
	Name  string
	Value Value
}

// Value is the closed set of native values rules operate on.
// The zero Value is None.
type Value struct {
	kind  Kind
	num   int64
	tm    uint64
	float float64
	str   string
	bytes []byte
	list  []NamedValue
}

// None returns the empty value.
func None() Value { return Value{} }

// Number returns a number value.
func Number(v int64) Value { return Value{kind: KindNumber, num: v} }

// Time returns a time value in microseconds since the epoch.
func Time(usec uint64) Value { return Value{kind: KindTime, tm: usec} }

// Float returns a float value.
func Float(v float64) Value { return Value{kind: KindFloat, float: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// ByteString returns a byte string value. The buffer is not copied.
func ByteString(v []byte) Value { return Value{kind: KindByteString, bytes: v} }

// List returns a list value.
func List(items []NamedValue) Value { return Value{kind: KindList, list: items} }

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is the empty value.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Int returns the number payload.
func (v Value) Int() int64 { return v.num }

// Time returns the time payload.
func (v Value) Time() uint64 { return v.tm }

// Float returns the float payload.
func (v Value) Float() float64 { return v.float }

// Str returns the string payload.
func (v Value) Str() string { return v.str }

// Bytes returns the byte string payload. Length is explicit; the buffer may
// contain NUL bytes.
func (v Value) Bytes() []byte { return v.bytes }

// List returns the list payload.
func (v Value) List() []NamedValue { return v.list }

// Text returns the byte representation used by string-matching operators.
// Scalars render as their decimal text; lists and None have no text.
func (v Value) Text() ([]byte, bool) {
	switch v.kind {
	case KindString:
		return []byte(v.str), true
	case KindByteString:
		return v.bytes, true
	case KindNumber:
		return strconv.AppendInt(nil, v.num, 10), true
	case KindTime:
		return strconv.AppendUint(nil, v.tm, 10), true
	case KindFloat:
		return strconv.AppendFloat(nil, v.float, 'g', -1, 64), true
	default:
		return nil, false
	}
}

// Export converts v to plain Go values for the script and expression layers.
// Lists export as []any of {"name", "value"} maps to keep order and repeated names.
func (v Value) Export() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindTime:
		return v.tm
	case KindFloat:
		return v.float
	case KindString:
		return v.str
	case KindByteString:
		return string(v.bytes)
	case KindList:
		out := make([]any, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, map[string]any{
				"name":  item.Name,
				"value": item.Value.Export(),
			})
		}
		return out
	default:
		return nil
	}
}

// LogValue implements slog.LogValuer.
func (v Value) LogValue() slog.Value {
	switch v.kind {
	case KindNumber:
		return slog.Int64Value(v.num)
	case KindTime:
		return slog.Uint64Value(v.tm)
	case KindFloat:
		return slog.Float64Value(v.float)
	case KindString:
		return slog.StringValue(v.str)
	case KindByteString:
		return slog.StringValue(strconv.Quote(string(v.bytes)))
	case KindList:
		return slog.GroupValue(slog.Int("len", len(v.list)))
	default:
		return slog.StringValue("<none>")
	}
}
