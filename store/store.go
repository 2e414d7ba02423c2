// Package store keeps tuples for write, read, query and delete requests. It serves the
// QUERY requests that channel registries reject.
package store

import (
	"context"

	"github.com/c360/tuplestreams/filter"
	"github.com/c360/tuplestreams/tuple"
)

// Store holds tuples by ID. Implementations are safe for concurrent use.
type Store interface {
	// Backend names the implementation for logs and metrics.
	Backend() string
	// Write stores t, replacing any tuple with the same ID.
	Write(ctx context.Context, t *tuple.Tuple) error
	// Read returns the tuple stored under id, or errors.ErrNotFound.
	Read(ctx context.Context, id tuple.ID) (*tuple.Tuple, error)
	// Query returns every stored tuple f matches.
	Query(ctx context.Context, f *filter.Filter) ([]*tuple.Tuple, error)
	// Delete removes the tuple stored under id and returns it, or errors.ErrNotFound.
	Delete(ctx context.Context, id tuple.ID) (*tuple.Tuple, error)
	Close() error
}
