package tuple

import (
	"bytes"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/tuplestreams/errors"
)

// ID is the globally unique primary key of a tuple.
type ID = uuid.UUID

// NilID is the zero ID; no constructed tuple carries it.
var NilID = uuid.Nil

// Tuple is a semi-structured record: a set of named fields holding normalized values.
//
// A tuple may be mutated until it is handed to a channel, registry or store. After
// handoff the receiver owns it and the tuple must be treated as read-only.
type Tuple struct {
	id       ID
	typ      string
	fields   map[string]any
	declared map[string]string
}

// New creates an empty tuple of the given type name with a fresh ID.
func New(typeName string) *Tuple {
	return NewWithID(uuid.New(), typeName)
}

// NewWithID creates an empty tuple with an explicit ID, used when decoding.
func NewWithID(id ID, typeName string) *Tuple {
	return &Tuple{
		id:     id,
		typ:    typeName,
		fields: make(map[string]any),
	}
}

// ID returns the tuple's primary key.
func (t *Tuple) ID() ID { return t.id }

// Type returns the declared tuple type name, possibly empty.
func (t *Tuple) Type() string { return t.typ }

// Len returns the number of fields.
func (t *Tuple) Len() int { return len(t.fields) }

func validFieldName(name string) bool {
	return name != "" && !strings.Contains(name, ".")
}

// Set stores a field value after normalizing it.
func (t *Tuple) Set(name string, value any) error {
	if !validFieldName(name) {
		return errors.Validationf("tuple", "Set", "invalid field name %q", name)
	}
	v, err := Normalize(value)
	if err != nil {
		return errors.Wrap(err, "tuple", "Set", "field "+name)
	}
	t.fields[name] = v
	return nil
}

// MustSet is like Set but panics on error. It returns the tuple for chaining.
func (t *Tuple) MustSet(name string, value any) *Tuple {
	if err := t.Set(name, value); err != nil {
		panic(err)
	}
	return t
}

// Delete removes a field.
func (t *Tuple) Delete(name string) {
	delete(t.fields, name)
	delete(t.declared, name)
}

// Get returns a field value.
func (t *Tuple) Get(name string) (any, bool) {
	v, ok := t.fields[name]
	return v, ok
}

// Has reports whether the field exists, even if it holds null.
func (t *Tuple) Has(name string) bool {
	_, ok := t.fields[name]
	return ok
}

// Fields returns field names in sorted order.
func (t *Tuple) Fields() []string {
	names := make([]string, 0, len(t.fields))
	for name := range t.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declare records the declared type descriptor of a field, independent of the value it
// currently holds.
func (t *Tuple) Declare(name, typeName string) error {
	if !validFieldName(name) {
		return errors.Validationf("tuple", "Declare", "invalid field name %q", name)
	}
	if typeName == "" {
		return errors.Validationf("tuple", "Declare", "empty type for field %q", name)
	}
	if t.declared == nil {
		t.declared = make(map[string]string)
	}
	t.declared[name] = typeName
	return nil
}

// DeclaredType returns the declared descriptor of a field, falling back to the runtime
// type of its value. The second result is false when the field does not exist.
func (t *Tuple) DeclaredType(name string) (string, bool) {
	v, ok := t.fields[name]
	if !ok {
		return "", false
	}
	if d, ok := t.declared[name]; ok {
		return d, true
	}
	return TypeName(v), true
}

// Lookup resolves a dot-separated path. The empty path resolves to the tuple itself.
// Every intermediate segment must name a field holding a tuple.
func (t *Tuple) Lookup(path string) (any, bool) {
	if path == "" {
		return t, true
	}
	parent, field, ok := t.Parent(path)
	if !ok {
		return nil, false
	}
	return parent.Get(field)
}

// Parent resolves every segment of path but the last and returns the tuple that should
// hold the final field, along with that field's name.
func (t *Tuple) Parent(path string) (*Tuple, string, bool) {
	segments := strings.Split(path, ".")
	cur := t
	for _, seg := range segments[:len(segments)-1] {
		v, ok := cur.fields[seg]
		if !ok {
			return nil, "", false
		}
		next, ok := v.(*Tuple)
		if !ok {
			return nil, "", false
		}
		cur = next
	}
	return cur, segments[len(segments)-1], true
}

// Clone returns a deep copy carrying the same ID.
func (t *Tuple) Clone() *Tuple {
	c := NewWithID(t.id, t.typ)
	for name, v := range t.fields {
		c.fields[name] = cloneValue(v)
	}
	for name, d := range t.declared {
		if c.declared == nil {
			c.declared = make(map[string]string, len(t.declared))
		}
		c.declared[name] = d
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []byte:
		cp := make([]byte, len(val))
		copy(cp, val)
		return cp
	case *Tuple:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two tuples have the same ID, type and field values.
func (t *Tuple) Equal(o *Tuple) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.id != o.id || t.typ != o.typ || len(t.fields) != len(o.fields) {
		return false
	}
	for name, v := range t.fields {
		ov, ok := o.fields[name]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two values after normalizing them. Numbers compare by numeric
// value across kinds; every other kind requires identical kind and content. Values that
// cannot be normalized are equal to nothing.
func ValuesEqual(a, b any) bool {
	var err error
	if KindOf(a) == KindInvalid {
		if a, err = Normalize(a); err != nil {
			return false
		}
	}
	if KindOf(b) == KindInvalid {
		if b, err = Normalize(b); err != nil {
			return false
		}
	}
	return valuesEqual(a, b)
}

func valuesEqual(a, b any) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka == KindInvalid || kb == KindInvalid {
		return false
	}
	if ka.Numeric() && kb.Numeric() {
		c, ok := CompareNumbers(a, b)
		return ok && c == 0
	}
	if ka != kb {
		return false
	}
	switch av := a.(type) {
	case nil:
		return true
	case string:
		return av == b.(string)
	case bool:
		return av == b.(bool)
	case []byte:
		return bytes.Equal(av, b.([]byte))
	case *Tuple:
		return av.Equal(b.(*Tuple))
	case []any:
		bv := b.([]any)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CompareNumbers orders two normalized numeric values. The second result is false when
// either value is not numeric or is NaN.
func CompareNumbers(a, b any) (int, bool) {
	if isNaN(a) || isNaN(b) {
		return 0, false
	}
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, bv), true
		case uint64:
			if av < 0 {
				return -1, true
			}
			return cmpOrdered(uint64(av), bv), true
		case float64:
			return cmpOrdered(float64(av), bv), true
		}
	case uint64:
		switch bv := b.(type) {
		case uint64:
			return cmpOrdered(av, bv), true
		case int64:
			if bv < 0 {
				return 1, true
			}
			return cmpOrdered(av, uint64(bv)), true
		case float64:
			return cmpOrdered(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return cmpOrdered(av, bv), true
		case int64:
			return cmpOrdered(av, float64(bv)), true
		case uint64:
			return cmpOrdered(av, float64(bv)), true
		}
	}
	return 0, false
}

func isNaN(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
