package tuple

import (
	"fmt"

	"github.com/c360/tuplestreams/errors"
)

// Kind identifies the representation of a field value after normalization.
type Kind int

// KindInvalid is reported by KindOf for values that were never normalized.
const KindInvalid Kind = -1

const (
	// KindNull is the absent value
	KindNull Kind = iota
	// KindString holds string
	KindString
	// KindInt holds int64 (every signed integer type normalizes to it)
	KindInt
	// KindUint holds uint64 (every unsigned integer type normalizes to it)
	KindUint
	// KindFloat holds float64
	KindFloat
	// KindBool holds bool
	KindBool
	// KindBytes holds []byte
	KindBytes
	// KindTuple holds *Tuple
	KindTuple
	// KindList holds []any of normalized values
	KindList
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindString: "string",
	KindInt:    "int",
	KindUint:   "uint",
	KindFloat:  "float",
	KindBool:   "bool",
	KindBytes:  "bytes",
	KindTuple:  "tuple",
	KindList:   "list",
}

// String returns the descriptor name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Numeric reports whether values of the kind order numerically.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindUint || k == KindFloat
}

// ParseKind maps a descriptor name back to its kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindNull, false
}

// KindOf reports the kind of an already normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case int64:
		return KindInt
	case uint64:
		return KindUint
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case []byte:
		return KindBytes
	case *Tuple:
		return KindTuple
	case []any:
		return KindList
	default:
		return KindInvalid
	}
}

// Normalize converts a Go value into the canonical representation stored in tuples.
// Integer widths collapse to int64/uint64, float32 widens to float64, typed slices of
// tuples or strings become []any. Unsupported types fail with ErrValidation.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return uint64(val), nil
	case uint8:
		return uint64(val), nil
	case uint16:
		return uint64(val), nil
	case uint32:
		return uint64(val), nil
	case uint64:
		return val, nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case []byte:
		cp := make([]byte, len(val))
		copy(cp, val)
		return cp, nil
	case *Tuple:
		if val == nil {
			return nil, nil
		}
		return val, nil
	case []*Tuple:
		out := make([]any, 0, len(val))
		for _, t := range val {
			if t == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, t)
		}
		return out, nil
	case []string:
		out := make([]any, 0, len(val))
		for _, s := range val {
			out = append(out, s)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, errors.Validationf("tuple", "Normalize", "unsupported value type %T", v)
	}
}

// TypeName returns the runtime type descriptor of a normalized value. Tuples report their
// declared tuple type, falling back to "tuple" when none was given.
func TypeName(v any) string {
	if t, ok := v.(*Tuple); ok {
		if t.typ != "" {
			return t.typ
		}
		return KindTuple.String()
	}
	return KindOf(v).String()
}
