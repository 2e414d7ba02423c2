// Package filter evaluates tuple queries.
package filter

import (
	"bytes"
	"strings"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/tuple"
)

// operatorFunc compares a resolved field value against the query's comparison value.
// Both arguments are normalized. A type mismatch yields false, never a panic.
type operatorFunc func(fieldValue, compareValue any) bool

var operators = map[tuple.Op]operatorFunc{
	tuple.OpEqual:        operatorEqual,
	tuple.OpNotEqual:     operatorNotEqual,
	tuple.OpGreater:      ordering(func(c int) bool { return c > 0 }),
	tuple.OpGreaterEqual: ordering(func(c int) bool { return c >= 0 }),
	tuple.OpLess:         ordering(func(c int) bool { return c < 0 }),
	tuple.OpLessEqual:    ordering(func(c int) bool { return c <= 0 }),
	tuple.OpBeginsWith:   substring(strings.HasPrefix, bytes.HasPrefix),
	tuple.OpContains:     substring(strings.Contains, bytes.Contains),
	tuple.OpEndsWith:     substring(strings.HasSuffix, bytes.HasSuffix),
	tuple.OpHasType:      operatorHasType,
	tuple.OpHasSubtype:   operatorHasSubtype,
}

// node is one compiled query node.
type node interface {
	match(t *tuple.Tuple) bool
}

// Filter is a compiled, validated query. It is immutable and safe for concurrent use.
type Filter struct {
	query *tuple.Query
	root  node
}

// Compile validates a query and builds its evaluator.
func Compile(q *tuple.Query) (*Filter, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	root, err := compile(q)
	if err != nil {
		return nil, err
	}
	return &Filter{query: q, root: root}, nil
}

// MustCompile is like Compile but panics if the query is invalid.
func MustCompile(q *tuple.Query) *Filter {
	f, err := Compile(q)
	if err != nil {
		panic(err)
	}
	return f
}

// Check reports whether t satisfies q. An invalid query matches nothing.
func Check(q *tuple.Query, t *tuple.Tuple) bool {
	f, err := Compile(q)
	if err != nil {
		return false
	}
	return f.Matches(t)
}

// Query returns the source query.
func (f *Filter) Query() *tuple.Query { return f.query }

// Matches evaluates the filter. A nil tuple never matches.
func (f *Filter) Matches(t *tuple.Tuple) bool {
	if t == nil {
		return false
	}
	return f.root.match(t)
}

func compile(q *tuple.Query) (node, error) {
	switch q.Kind {
	case tuple.QueryEmpty, "":
		return emptyNode{}, nil
	case tuple.QueryUnary:
		sub, err := compile(q.Sub)
		if err != nil {
			return nil, err
		}
		return notNode{sub: sub}, nil
	case tuple.QueryBinary:
		left, err := compile(q.Left)
		if err != nil {
			return nil, err
		}
		right, err := compile(q.Right)
		if err != nil {
			return nil, err
		}
		if q.Op == tuple.OpAnd {
			return andNode{left: left, right: right}, nil
		}
		return orNode{left: left, right: right}, nil
	case tuple.QueryCompare:
		return compileCompare(q)
	default:
		return nil, errors.Validationf("filter", "Compile", "unknown query kind %q", q.Kind)
	}
}

func compileCompare(q *tuple.Query) (node, error) {
	switch q.Op {
	case tuple.OpHasField:
		return hasFieldNode{path: q.Path}, nil
	case tuple.OpHasDeclaredType:
		return declaredTypeNode{path: q.Path, descriptor: q.Value.(string)}, nil
	}

	fn, ok := operators[q.Op]
	if !ok {
		return nil, errors.Validationf("filter", "Compile", "no evaluator for operator %q", q.Op)
	}
	value, err := tuple.Normalize(q.Value)
	if err != nil {
		return nil, err
	}
	return compareNode{path: q.Path, fn: fn, value: value}, nil
}

type emptyNode struct{}

func (emptyNode) match(*tuple.Tuple) bool { return true }

type notNode struct{ sub node }

func (n notNode) match(t *tuple.Tuple) bool { return !n.sub.match(t) }

type andNode struct{ left, right node }

func (n andNode) match(t *tuple.Tuple) bool { return n.left.match(t) && n.right.match(t) }

type orNode struct{ left, right node }

func (n orNode) match(t *tuple.Tuple) bool { return n.left.match(t) || n.right.match(t) }

type compareNode struct {
	path  string
	fn    operatorFunc
	value any
}

func (n compareNode) match(t *tuple.Tuple) bool {
	v, ok := t.Lookup(n.path)
	if !ok {
		return false
	}
	return n.fn(v, n.value)
}

type hasFieldNode struct{ path string }

func (n hasFieldNode) match(t *tuple.Tuple) bool {
	parent, field, ok := t.Parent(n.path)
	return ok && parent.Has(field)
}

type declaredTypeNode struct {
	path       string
	descriptor string
}

func (n declaredTypeNode) match(t *tuple.Tuple) bool {
	if n.path == "" {
		return tuple.TypeName(t) == n.descriptor
	}
	parent, field, ok := t.Parent(n.path)
	if !ok {
		return false
	}
	declared, ok := parent.DeclaredType(field)
	return ok && declared == n.descriptor
}

// Operator implementations

func operatorEqual(fieldValue, compareValue any) bool {
	return tuple.ValuesEqual(fieldValue, compareValue)
}

// operatorNotEqual is false for values of incompatible kinds, like every other
// comparison on a type-mismatched field.
func operatorNotEqual(fieldValue, compareValue any) bool {
	kf, kc := tuple.KindOf(fieldValue), tuple.KindOf(compareValue)
	if kf.Numeric() && kc.Numeric() {
		c, ok := tuple.CompareNumbers(fieldValue, compareValue)
		return ok && c != 0
	}
	if kf != kc {
		return false
	}
	return !tuple.ValuesEqual(fieldValue, compareValue)
}

func ordering(accept func(int) bool) operatorFunc {
	return func(fieldValue, compareValue any) bool {
		c, ok := order(fieldValue, compareValue)
		return ok && accept(c)
	}
}

// order compares numbers numerically and strings or byte sequences lexically.
func order(a, b any) (int, bool) {
	if c, ok := tuple.CompareNumbers(a, b); ok {
		return c, true
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case []byte:
		switch bv := b.(type) {
		case []byte:
			return bytes.Compare(av, bv), true
		case string:
			return bytes.Compare(av, []byte(bv)), true
		}
	}
	return 0, false
}

func substring(strFn func(s, sub string) bool, byteFn func(s, sub []byte) bool) operatorFunc {
	return func(fieldValue, compareValue any) bool {
		switch fv := fieldValue.(type) {
		case string:
			switch cv := compareValue.(type) {
			case string:
				return strFn(fv, cv)
			case []byte:
				return strFn(fv, string(cv))
			}
		case []byte:
			switch cv := compareValue.(type) {
			case []byte:
				return byteFn(fv, cv)
			case string:
				return byteFn(fv, []byte(cv))
			}
		}
		return false
	}
}

func operatorHasType(fieldValue, compareValue any) bool {
	descriptor, ok := compareValue.(string)
	return ok && tuple.TypeName(fieldValue) == descriptor
}

func operatorHasSubtype(fieldValue, compareValue any) bool {
	descriptor, ok := compareValue.(string)
	if !ok {
		return false
	}
	return IsSubtype(fieldValue, descriptor)
}

// IsSubtype reports whether a value's runtime type is the descriptor or one of its
// subtypes. "any" is the root of every type, "number" covers the numeric kinds, and
// tuple types form a dotted hierarchy under "tuple": a "sensor.gps" tuple is a subtype of
// "sensor".
func IsSubtype(v any, descriptor string) bool {
	name := tuple.TypeName(v)
	kind := tuple.KindOf(v)
	switch {
	case descriptor == "any", name == descriptor:
		return true
	case descriptor == "number":
		return kind.Numeric()
	case kind == tuple.KindTuple:
		return descriptor == tuple.KindTuple.String() || strings.HasPrefix(name, descriptor+".")
	}
	return false
}
