// Package tuple defines the records exchanged by the tuple I/O layer and the predicate
// queries used to select them.
//
// A Tuple maps field names to normalized values (string, int64, uint64, float64, bool,
// []byte, *Tuple, []any or nil) and carries a UUID assigned at construction:
//
//	t := tuple.New("sensor.reading").
//	    MustSet("name", "baz").
//	    MustSet("celsius", 21)
//
// A Query is an expression tree of Empty, Not, And/Or and Compare nodes. Compare nodes
// address fields with dot-separated paths; the empty path denotes the tuple itself:
//
//	q := tuple.And(
//	    tuple.Field("name", "baz"),
//	    tuple.Compare("position.lat", tuple.OpGreater, 40.0),
//	)
//	if err := q.Validate(); err != nil {
//	    return err
//	}
//
// Validate rejects malformed trees and comparisons that can never be meaningful, such as
// ordering against a boolean. Evaluation lives in package filter.
package tuple
