package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tuplestreams/tuple"
)

func testTuple() *tuple.Tuple {
	position := tuple.New("sensor.gps").
		MustSet("lat", 41.5).
		MustSet("lon", -70.25)
	t := tuple.New("sensor.reading").
		MustSet("name", "baz").
		MustSet("count", 12).
		MustSet("limit", uint64(40)).
		MustSet("active", true).
		MustSet("raw", []byte("\x01\x02\x03")).
		MustSet("nothing", nil).
		MustSet("position", position).
		MustSet("tags", []any{"a", "b"})
	_ = t.Declare("count", "number")
	return t
}

func TestCheck_Compare(t *testing.T) {
	tup := testTuple()

	tests := []struct {
		name     string
		query    *tuple.Query
		expected bool
	}{
		{"eq string matches", tuple.Field("name", "baz"), true},
		{"eq string does not match", tuple.Field("name", "foo"), false},
		{"ne string", tuple.Compare("name", tuple.OpNotEqual, "foo"), true},
		{"eq int vs float", tuple.Field("count", 12.0), true},
		{"eq uint vs int", tuple.Field("limit", 40), true},
		{"eq null", tuple.Field("nothing", nil), true},
		{"eq bool", tuple.Field("active", true), true},
		{"ne bool", tuple.Compare("active", tuple.OpNotEqual, true), false},
		{"eq list", tuple.Field("tags", []any{"a", "b"}), true},
		{"gt int", tuple.Compare("count", tuple.OpGreater, 10), true},
		{"gte int equal", tuple.Compare("count", tuple.OpGreaterEqual, 12), true},
		{"lt int", tuple.Compare("count", tuple.OpLess, 12), false},
		{"lte uint", tuple.Compare("limit", tuple.OpLessEqual, 40.0), true},
		{"gt string", tuple.Compare("name", tuple.OpGreater, "bar"), true},
		{"lt string", tuple.Compare("name", tuple.OpLess, "bar"), false},
		{"gt bytes", tuple.Compare("raw", tuple.OpGreater, []byte{1, 1}), true},
		{"begins_with string", tuple.Compare("name", tuple.OpBeginsWith, "ba"), true},
		{"contains string", tuple.Compare("name", tuple.OpContains, "a"), true},
		{"ends_with string", tuple.Compare("name", tuple.OpEndsWith, "az"), true},
		{"ends_with miss", tuple.Compare("name", tuple.OpEndsWith, "ba"), false},
		{"contains bytes", tuple.Compare("raw", tuple.OpContains, []byte{2}), true},
		{"begins_with bytes from string", tuple.Compare("raw", tuple.OpBeginsWith, "\x01"), true},
		{"nested path", tuple.Compare("position.lat", tuple.OpGreater, 40), true},
		{"nested path miss", tuple.Compare("position.alt", tuple.OpGreater, 40), false},
		{"path through non tuple", tuple.Field("name.first", "b"), false},
		{"missing field", tuple.Field("status", "active"), false},
		{"missing field ne is still false", tuple.Compare("status", tuple.OpNotEqual, "x"), false},
		{"ordering type mismatch", tuple.Compare("name", tuple.OpGreater, 5), false},
		{"ne type mismatch", tuple.Compare("name", tuple.OpNotEqual, 5), false},
		{"ne string vs number text", tuple.Compare("count", tuple.OpNotEqual, "12"), false},
		{"ne null vs string", tuple.Compare("nothing", tuple.OpNotEqual, "x"), false},
		{"ne int vs float", tuple.Compare("count", tuple.OpNotEqual, 12.5), true},
		{"substring on number", tuple.Compare("count", tuple.OpContains, "1"), false},
		{"ordering on bool field", tuple.Compare("active", tuple.OpLess, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Check(tt.query, tup))
		})
	}
}

func TestCheck_NaNMatchesNothing(t *testing.T) {
	tup := tuple.New("reading").MustSet("value", math.NaN())

	for _, op := range []tuple.Op{
		tuple.OpEqual, tuple.OpNotEqual, tuple.OpGreater, tuple.OpGreaterEqual,
		tuple.OpLess, tuple.OpLessEqual,
	} {
		t.Run(string(op), func(t *testing.T) {
			assert.False(t, Check(tuple.Compare("value", op, 5), tup))
			assert.False(t, Check(tuple.Compare("value", op, math.NaN()), tup))
		})
	}
	assert.True(t, Check(tuple.HasField("value"), tup))
}

func TestCheck_TypeOperators(t *testing.T) {
	tup := testTuple()

	tests := []struct {
		name     string
		query    *tuple.Query
		expected bool
	}{
		{"has_type tuple itself", tuple.Compare("", tuple.OpHasType, "sensor.reading"), true},
		{"has_type nested tuple", tuple.Compare("position", tuple.OpHasType, "sensor.gps"), true},
		{"has_type nested supertype", tuple.Compare("position", tuple.OpHasType, "sensor"), false},
		{"has_subtype nested supertype", tuple.Compare("position", tuple.OpHasSubtype, "sensor"), true},
		{"has_subtype tuple root", tuple.Compare("position", tuple.OpHasSubtype, "tuple"), true},
		{"has_subtype prefix not segment", tuple.Compare("position", tuple.OpHasSubtype, "sens"), false},
		{"has_type int", tuple.Compare("count", tuple.OpHasType, "int"), true},
		{"has_subtype number", tuple.Compare("count", tuple.OpHasSubtype, "number"), true},
		{"has_subtype any", tuple.Compare("name", tuple.OpHasSubtype, "any"), true},
		{"has_subtype string not number", tuple.Compare("name", tuple.OpHasSubtype, "number"), false},
		{"has_declared_type declared", tuple.Compare("count", tuple.OpHasDeclaredType, "number"), true},
		{"has_declared_type runtime differs", tuple.Compare("count", tuple.OpHasDeclaredType, "int"), false},
		{"has_declared_type fallback", tuple.Compare("name", tuple.OpHasDeclaredType, "string"), true},
		{"has_declared_type self", tuple.Compare("", tuple.OpHasDeclaredType, "sensor.reading"), true},
		{"has_declared_type missing", tuple.Compare("gone", tuple.OpHasDeclaredType, "string"), false},
		{"has_field present", tuple.HasField("name"), true},
		{"has_field null value", tuple.HasField("nothing"), true},
		{"has_field nested", tuple.HasField("position.lon"), true},
		{"has_field absent", tuple.HasField("position.alt"), false},
		{"has_field broken path", tuple.HasField("name.x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Check(tt.query, tup))
		})
	}
}

func TestCheck_Logic(t *testing.T) {
	tup := testTuple()
	yes := tuple.Field("name", "baz")
	no := tuple.Field("name", "foo")

	tests := []struct {
		name     string
		query    *tuple.Query
		expected bool
	}{
		{"empty", tuple.Empty(), true},
		{"not true", tuple.Not(yes), false},
		{"not false", tuple.Not(no), true},
		{"and both", tuple.And(yes, yes), true},
		{"and one", tuple.And(yes, no), false},
		{"or one", tuple.Or(no, yes), true},
		{"or none", tuple.Or(no, no), false},
		{"nested", tuple.Not(tuple.And(no, tuple.Or(yes, no))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Check(tt.query, tup))
		})
	}
}

// panicNode fails the test if evaluated, proving short-circuiting.
type panicNode struct{ t *testing.T }

func (p panicNode) match(*tuple.Tuple) bool {
	p.t.Fatal("right operand evaluated")
	return false
}

func TestLogic_ShortCircuits(t *testing.T) {
	tup := testTuple()
	f := &Filter{root: andNode{left: notNode{sub: emptyNode{}}, right: panicNode{t}}}
	assert.False(t, f.Matches(tup))

	f = &Filter{root: orNode{left: emptyNode{}, right: panicNode{t}}}
	assert.True(t, f.Matches(tup))
}

func TestCompile_RejectsInvalid(t *testing.T) {
	_, err := Compile(tuple.Compare("a", tuple.OpContains, 3))
	require.Error(t, err)

	_, err = Compile(nil)
	require.Error(t, err)

	assert.False(t, Check(tuple.Compare("a", tuple.OpLess, true), testTuple()))
	assert.Panics(t, func() { MustCompile(tuple.Not(nil)) })
}

func TestFilter_NilTuple(t *testing.T) {
	f := MustCompile(tuple.Empty())
	assert.False(t, f.Matches(nil))
	assert.Same(t, f.Query(), f.query)
}

func TestCheck_NeverPanics(t *testing.T) {
	values := []any{nil, "s", 1, uint64(2), 1.5, true, []byte("b"), []any{1}}
	ops := []tuple.Op{
		tuple.OpEqual, tuple.OpNotEqual, tuple.OpGreater, tuple.OpGreaterEqual,
		tuple.OpLess, tuple.OpLessEqual, tuple.OpBeginsWith, tuple.OpContains,
		tuple.OpEndsWith, tuple.OpHasType, tuple.OpHasSubtype, tuple.OpHasDeclaredType,
		tuple.OpHasField,
	}
	paths := []string{"", "name", "count", "raw", "position", "position.lat", "tags", "nothing", "x.y"}

	tup := testTuple()
	for _, op := range ops {
		for _, path := range paths {
			for _, v := range values {
				q := tuple.Compare(path, op, v)
				assert.NotPanics(t, func() { Check(q, tup) }, "op=%s path=%q value=%v", op, path, v)
			}
		}
	}
}

func TestIsSubtype(t *testing.T) {
	assert.True(t, IsSubtype(int64(1), "number"))
	assert.True(t, IsSubtype(3.5, "float"))
	assert.False(t, IsSubtype("x", "int"))
	assert.True(t, IsSubtype(tuple.New(""), "tuple"))
	assert.True(t, IsSubtype(tuple.New("a.b.c"), "a.b"))
	assert.False(t, IsSubtype(tuple.New("ab"), "a"))
}
