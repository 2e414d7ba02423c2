package store

import (
	"context"
	"slices"
	"sync"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/filter"
	"github.com/c360/tuplestreams/tuple"
)

type memoryEntry struct {
	t   *tuple.Tuple
	seq uint64
}

// MemoryStore keeps tuples in a map. Tuples are copied in and out, and queries return
// them in write order.
type MemoryStore struct {
	mu     sync.RWMutex
	tuples map[tuple.ID]memoryEntry
	seq    uint64
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tuples: make(map[tuple.ID]memoryEntry)}
}

// Backend returns "memory".
func (s *MemoryStore) Backend() string { return "memory" }

// Write stores a copy of t. Rewriting an ID keeps its original position.
func (s *MemoryStore) Write(ctx context.Context, t *tuple.Tuple) error {
	if t == nil {
		return errors.Validationf("store", "MemoryStore.Write", "nil tuple")
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "store", "MemoryStore.Write", "write tuple")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Revoked("store", "MemoryStore.Write")
	}
	entry, exists := s.tuples[t.ID()]
	if !exists {
		s.seq++
		entry.seq = s.seq
	}
	entry.t = t.Clone()
	s.tuples[t.ID()] = entry
	return nil
}

// Read returns a copy of the tuple stored under id.
func (s *MemoryStore) Read(_ context.Context, id tuple.ID) (*tuple.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tuples[id]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "store", "MemoryStore.Read", "look up "+id.String())
	}
	return entry.t.Clone(), nil
}

// Query returns copies of the matching tuples in write order.
func (s *MemoryStore) Query(ctx context.Context, f *filter.Filter) ([]*tuple.Tuple, error) {
	if f == nil {
		return nil, errors.Validationf("store", "MemoryStore.Query", "nil filter")
	}

	s.mu.RLock()
	matched := make([]memoryEntry, 0)
	for _, entry := range s.tuples {
		if f.Matches(entry.t) {
			matched = append(matched, entry)
		}
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "store", "MemoryStore.Query", "scan tuples")
	}
	slices.SortFunc(matched, func(a, b memoryEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]*tuple.Tuple, len(matched))
	for i, entry := range matched {
		out[i] = entry.t.Clone()
	}
	return out, nil
}

// Delete removes and returns the tuple stored under id.
func (s *MemoryStore) Delete(_ context.Context, id tuple.ID) (*tuple.Tuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tuples[id]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "store", "MemoryStore.Delete", "look up "+id.String())
	}
	delete(s.tuples, id)
	return entry.t, nil
}

// Len returns the number of stored tuples.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tuples)
}

// Close refuses further writes.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
