package tuple

import (
	"fmt"
	"strings"

	"github.com/c360/tuplestreams/errors"
)

// QueryKind selects the shape of a Query node.
type QueryKind string

// Query node kinds
const (
	QueryEmpty   QueryKind = "empty"
	QueryUnary   QueryKind = "unary"
	QueryBinary  QueryKind = "binary"
	QueryCompare QueryKind = "compare"
)

// Op is a query operator.
type Op string

// Logical operators
const (
	OpNot Op = "not"
	OpAnd Op = "and"
	OpOr  Op = "or"
)

// Comparison operators
const (
	OpEqual           Op = "eq"
	OpNotEqual        Op = "ne"
	OpGreater         Op = "gt"
	OpGreaterEqual    Op = "gte"
	OpLess            Op = "lt"
	OpLessEqual       Op = "lte"
	OpBeginsWith      Op = "begins_with"
	OpContains        Op = "contains"
	OpEndsWith        Op = "ends_with"
	OpHasType         Op = "has_type"
	OpHasSubtype      Op = "has_subtype"
	OpHasDeclaredType Op = "has_declared_type"
	OpHasField        Op = "has_field"
)

// Ordering reports whether the operator orders values.
func (op Op) Ordering() bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	}
	return false
}

// Substring reports whether the operator tests subsequences.
func (op Op) Substring() bool {
	return op == OpBeginsWith || op == OpContains || op == OpEndsWith
}

// TypeTest reports whether the operator compares type descriptors.
func (op Op) TypeTest() bool {
	return op == OpHasType || op == OpHasSubtype || op == OpHasDeclaredType
}

func (op Op) comparison() bool {
	return op == OpEqual || op == OpNotEqual || op.Ordering() || op.Substring() ||
		op.TypeTest() || op == OpHasField
}

// Query is a predicate expression tree over tuples. The Kind decides which of the
// remaining fields are meaningful:
//
//	empty    none
//	unary    Op (not), Sub
//	binary   Op (and|or), Left, Right
//	compare  Path, Op, Value
type Query struct {
	Kind  QueryKind `json:"kind"`
	Op    Op        `json:"op,omitempty"`
	Sub   *Query    `json:"sub,omitempty"`
	Left  *Query    `json:"left,omitempty"`
	Right *Query    `json:"right,omitempty"`
	Path  string    `json:"path,omitempty"`
	Value any       `json:"value,omitempty"`
}

// Empty returns the query matching every tuple.
func Empty() *Query { return &Query{Kind: QueryEmpty} }

// Not negates a query.
func Not(q *Query) *Query { return &Query{Kind: QueryUnary, Op: OpNot, Sub: q} }

// And conjoins two queries.
func And(a, b *Query) *Query { return &Query{Kind: QueryBinary, Op: OpAnd, Left: a, Right: b} }

// Or disjoins two queries.
func Or(a, b *Query) *Query { return &Query{Kind: QueryBinary, Op: OpOr, Left: a, Right: b} }

// Compare tests the value at path against value with op.
func Compare(path string, op Op, value any) *Query {
	return &Query{Kind: QueryCompare, Path: path, Op: op, Value: value}
}

// Field is shorthand for Compare(path, OpEqual, value).
func Field(path string, value any) *Query { return Compare(path, OpEqual, value) }

// HasField matches tuples where the final segment of path exists.
func HasField(path string) *Query { return Compare(path, OpHasField, nil) }

// Validate enforces the structural invariants of the tree. It runs once when a request is
// accepted so evaluation never sees a malformed node.
func (q *Query) Validate() error {
	if q == nil {
		return errors.Validationf("query", "Validate", "nil query")
	}
	switch q.Kind {
	case QueryEmpty, "":
		if q.Sub != nil || q.Left != nil || q.Right != nil || q.Op != "" {
			return errors.Validationf("query", "Validate", "empty query carries operands")
		}
		return nil
	case QueryUnary:
		if q.Op != OpNot {
			return errors.Validationf("query", "Validate", "unary operator %q", q.Op)
		}
		if q.Sub == nil || q.Left != nil || q.Right != nil {
			return errors.Validationf("query", "Validate", "unary query needs exactly one subquery")
		}
		return q.Sub.Validate()
	case QueryBinary:
		if q.Op != OpAnd && q.Op != OpOr {
			return errors.Validationf("query", "Validate", "binary operator %q", q.Op)
		}
		if q.Left == nil || q.Right == nil || q.Sub != nil {
			return errors.Validationf("query", "Validate", "binary query needs two subqueries")
		}
		if err := q.Left.Validate(); err != nil {
			return err
		}
		return q.Right.Validate()
	case QueryCompare:
		return q.validateCompare()
	default:
		return errors.Validationf("query", "Validate", "unknown query kind %q", q.Kind)
	}
}

func (q *Query) validateCompare() error {
	if !q.Op.comparison() {
		return errors.Validationf("query", "Validate", "comparison operator %q", q.Op)
	}
	if q.Sub != nil || q.Left != nil || q.Right != nil {
		return errors.Validationf("query", "Validate", "compare query carries subqueries")
	}
	if q.Path != "" {
		for _, seg := range strings.Split(q.Path, ".") {
			if seg == "" {
				return errors.Validationf("query", "Validate", "empty segment in path %q", q.Path)
			}
		}
	}
	if q.Op == OpHasField {
		if q.Path == "" {
			return errors.Validationf("query", "Validate", "has_field needs a field name")
		}
		return nil
	}

	v, err := Normalize(q.Value)
	if err != nil {
		return errors.Wrap(err, "query", "Validate", "comparison value")
	}
	kind := KindOf(v)

	switch {
	case q.Op.TypeTest():
		if s, ok := v.(string); !ok || s == "" {
			return errors.Validationf("query", "Validate", "%s needs a type descriptor, got %s", q.Op, kind)
		}
	case q.Op.Ordering():
		if !kind.Numeric() && kind != KindString && kind != KindBytes {
			return errors.Validationf("query", "Validate", "%s not defined for %s values", q.Op, kind)
		}
	case q.Op.Substring():
		if kind != KindString && kind != KindBytes {
			return errors.Validationf("query", "Validate", "%s not defined for %s values", q.Op, kind)
		}
	}
	return nil
}

// String renders the query in infix form for logs.
func (q *Query) String() string {
	if q == nil {
		return "<nil>"
	}
	switch q.Kind {
	case QueryEmpty, "":
		return "true"
	case QueryUnary:
		return fmt.Sprintf("not (%s)", q.Sub)
	case QueryBinary:
		return fmt.Sprintf("(%s %s %s)", q.Left, q.Op, q.Right)
	case QueryCompare:
		if q.Op == OpHasField {
			return fmt.Sprintf("has_field %q", q.Path)
		}
		return fmt.Sprintf("%q %s %v", q.Path, q.Op, q.Value)
	default:
		return string(q.Kind)
	}
}
