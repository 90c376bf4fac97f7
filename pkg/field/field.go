package field

import (
	"fmt"
	"time"
)

// Type is the storage type tag of a Field.
type Type int

const (
	// TypeGeneric is an opaque host value with no rule-visible mapping.
	TypeGeneric Type = iota
	// TypeNum is a signed integer.
	TypeNum
	// TypeTime is an unsigned timestamp in microseconds since the epoch.
	TypeTime
	// TypeFloat is a double precision float.
	TypeFloat
	// TypeNulStr is text.
	TypeNulStr
	// TypeByteStr is a length-delimited byte buffer that may contain NUL bytes.
	TypeByteStr
	// TypeList is an ordered list of named fields.
	TypeList
	// TypeStream is a raw stream buffer made of chunks.
	TypeStream
)

// String returns the type name used in diagnostics.
func (t Type) String() string {
	switch t {
	case TypeGeneric:
		return "generic"
	case TypeNum:
		return "num"
	case TypeTime:
		return "time"
	case TypeFloat:
		return "float"
	case TypeNulStr:
		return "nulstr"
	case TypeByteStr:
		return "bytestr"
	case TypeList:
		return "list"
	case TypeStream:
		return "stream"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Field is a named, typed transaction value as produced by the server
// integration. Fields are opaque to rules; Bridge converts them to Values.
type Field struct {
	Name string
	Type Type

	num    int64
	tm     uint64
	float  float64
	str    string
	bytes  []byte
	list   []*Field
	chunks [][]byte
	opaque any
}

// NewNum creates a numeric field.
func NewNum(name string, v int64) *Field {
	return &Field{Name: name, Type: TypeNum, num: v}
}

// NewTime creates a time field from microseconds since the epoch.
func NewTime(name string, usec uint64) *Field {
	return &Field{Name: name, Type: TypeTime, tm: usec}
}

// NewTimeFrom creates a time field from a time.Time.
func NewTimeFrom(name string, t time.Time) *Field {
	return NewTime(name, uint64(t.UnixMicro()))
}

// NewFloat creates a float field.
func NewFloat(name string, v float64) *Field {
	return &Field{Name: name, Type: TypeFloat, float: v}
}

// NewNulStr creates a text field.
func NewNulStr(name, v string) *Field {
	return &Field{Name: name, Type: TypeNulStr, str: v}
}

// NewByteStr creates a byte string field. The buffer is copied.
func NewByteStr(name string, v []byte) *Field {
	b := make([]byte, len(v))
	copy(b, v)
	return &Field{Name: name, Type: TypeByteStr, bytes: b}
}

// NewList creates a list field. Element order is preserved and names may repeat.
func NewList(name string, items ...*Field) *Field {
	return &Field{Name: name, Type: TypeList, list: items}
}

// NewStream creates an empty stream buffer field.
func NewStream(name string) *Field {
	return &Field{Name: name, Type: TypeStream}
}

// NewGeneric wraps an arbitrary host value.
func NewGeneric(name string, v any) *Field {
	return &Field{Name: name, Type: TypeGeneric, opaque: v}
}

// Append adds an element to a list field.
func (f *Field) Append(item *Field) error {
	if f.Type != TypeList {
		return fmt.Errorf("field %q: cannot append to %s", f.Name, f.Type)
	}
	f.list = append(f.list, item)
	return nil
}

// AppendChunk adds a chunk to a stream field. The chunk is copied.
func (f *Field) AppendChunk(chunk []byte) error {
	if f.Type != TypeStream {
		return fmt.Errorf("field %q: cannot append chunk to %s", f.Name, f.Type)
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	f.chunks = append(f.chunks, c)
	return nil
}

// Items returns the elements of a list field, or nil.
func (f *Field) Items() []*Field {
	if f.Type != TypeList {
		return nil
	}
	return f.list
}

// Chunks returns the chunks of a stream field, or nil.
func (f *Field) Chunks() [][]byte {
	if f.Type != TypeStream {
		return nil
	}
	return f.chunks
}

// Opaque returns the host value of a generic field.
func (f *Field) Opaque() any {
	return f.opaque
}

// ByteStr returns the buffer of a byte string field.
func (f *Field) ByteStr() ([]byte, bool) {
	if f.Type != TypeByteStr {
		return nil, false
	}
	return f.bytes, true
}
