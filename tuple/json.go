package tuple

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// wireTuple is the JSON form of a tuple. Values carry their kind so integers, bytes and
// nested tuples survive a round trip.
type wireTuple struct {
	ID       string               `json:"id"`
	Type     string               `json:"type,omitempty"`
	Fields   map[string]wireValue `json:"fields"`
	Declared map[string]string    `json:"declared,omitempty"`
}

type wireValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *Tuple) MarshalJSON() ([]byte, error) {
	w := wireTuple{
		ID:       t.id.String(),
		Type:     t.typ,
		Fields:   make(map[string]wireValue, len(t.fields)),
		Declared: t.declared,
	}
	for name, v := range t.fields {
		wv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		w.Fields[name] = wv
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tuple) UnmarshalJSON(data []byte) error {
	var w wireTuple
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("tuple id: %w", err)
	}
	*t = Tuple{id: id, typ: w.Type, fields: make(map[string]any, len(w.Fields))}
	for name, wv := range w.Fields {
		if !validFieldName(name) {
			return fmt.Errorf("invalid field name %q", name)
		}
		v, err := decodeValue(wv)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		t.fields[name] = v
	}
	for name, d := range w.Declared {
		if err := t.Declare(name, d); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(v any) (wireValue, error) {
	kind := KindOf(v)
	wv := wireValue{Kind: kind.String()}
	if kind == KindInvalid {
		return wv, fmt.Errorf("value of type %T is not normalized", v)
	}
	if kind == KindNull {
		return wv, nil
	}

	var raw []byte
	var err error
	switch val := v.(type) {
	case int64:
		raw = []byte(strconv.FormatInt(val, 10))
	case uint64:
		raw = []byte(strconv.FormatUint(val, 10))
	case []any:
		elems := make([]wireValue, len(val))
		for i, elem := range val {
			if elems[i], err = encodeValue(elem); err != nil {
				return wv, fmt.Errorf("list element %d: %w", i, err)
			}
		}
		raw, err = json.Marshal(elems)
	default:
		raw, err = json.Marshal(val)
	}
	if err != nil {
		return wv, err
	}
	wv.Value = raw
	return wv, nil
}

func decodeValue(wv wireValue) (any, error) {
	kind, ok := ParseKind(wv.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown value kind %q", wv.Kind)
	}

	switch kind {
	case KindNull:
		return nil, nil
	case KindString:
		var s string
		err := json.Unmarshal(wv.Value, &s)
		return s, err
	case KindInt:
		return strconv.ParseInt(string(wv.Value), 10, 64)
	case KindUint:
		return strconv.ParseUint(string(wv.Value), 10, 64)
	case KindFloat:
		var f float64
		err := json.Unmarshal(wv.Value, &f)
		return f, err
	case KindBool:
		var b bool
		err := json.Unmarshal(wv.Value, &b)
		return b, err
	case KindBytes:
		var b []byte
		err := json.Unmarshal(wv.Value, &b)
		return b, err
	case KindTuple:
		nested := &Tuple{}
		if err := json.Unmarshal(wv.Value, nested); err != nil {
			return nil, err
		}
		return nested, nil
	case KindList:
		var elems []wireValue
		if err := json.Unmarshal(wv.Value, &elems); err != nil {
			return nil, err
		}
		out := make([]any, len(elems))
		for i, elem := range elems {
			v, err := decodeValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unhandled value kind %q", wv.Kind)
	}
}
