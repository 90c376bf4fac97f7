package field

import (
	"log/slog"
)

// DefaultMaxDepth bounds list recursion during conversion.
const DefaultMaxDepth = 64

// Bridge converts opaque Fields into Values. Conversion never fails: fields
// with no defined mapping convert to None and the unexpected type is logged
// at error level.
type Bridge struct {
	logger   *slog.Logger
	maxDepth int
}

// NewBridge creates a Bridge that reports unexpected field types to logger.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		logger:   logger.With("component", "field.bridge"),
		maxDepth: DefaultMaxDepth,
	}
}

// WithMaxDepth returns a copy of the bridge with a different list depth bound.
func (b *Bridge) WithMaxDepth(depth int) *Bridge {
	nb := *b
	if depth > 0 {
		nb.maxDepth = depth
	}
	return &nb
}

// Convert maps f to a Value. A nil field yields None without logging.
func (b *Bridge) Convert(f *Field) Value {
	return b.convert(f, 0)
}

func (b *Bridge) convert(f *Field, depth int) Value {
	if f == nil {
		return None()
	}

	switch f.Type {
	case TypeNum:
		return Number(f.num)
	case TypeTime:
		return Time(f.tm)
	case TypeFloat:
		return Float(f.float)
	case TypeNulStr:
		return String(f.str)
	case TypeByteStr:
		return ByteString(f.bytes)
	case TypeList:
		if depth >= b.maxDepth {
			b.logger.Error("list nesting exceeds conversion depth",
				"field", f.Name,
				"max_depth", b.maxDepth,
			)
			return None()
		}
		items := make([]NamedValue, 0, len(f.list))
		for _, item := range f.list {
			if item == nil {
				continue
			}
			items = append(items, NamedValue{
				Name:  item.Name,
				Value: b.convert(item, depth+1),
			})
		}
		return List(items)
	default:
		b.logger.Error("unexpected field type",
			"field", f.Name,
			"type", f.Type.String(),
		)
		return None()
	}
}
