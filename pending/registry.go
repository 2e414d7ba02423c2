package pending

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/tuple"
)

// Collection holds pending requests and matches arriving tuples against them.
//
// A read is delivered at most once: it is removed from the collection before its result
// is sent. Listens receive every matching tuple. Results are always sent outside the
// collection's locks, so a source may add or remove requests from its handler.
type Collection interface {
	// Insert adds a request. Inserting a duplicate ID fails.
	Insert(req *Request) error
	// Remove takes a request out of the collection. It reports false if absent.
	Remove(id ID) (*Request, bool)
	// Get looks up a request without removing it.
	Get(id ID) (*Request, bool)
	// Len returns the number of pending requests.
	Len() int
	// TupleArrived matches t against the pending requests and returns the number of
	// results delivered.
	TupleArrived(ctx context.Context, t *tuple.Tuple) (int, error)
	// Drain removes and returns every pending request.
	Drain() []*Request
}

// Registry is a lock-striped Collection for concurrent arrivals. Each arrival scans a
// snapshot of the keys and re-fetches every entry before testing it, so requests added
// during a scan may miss that tuple and requests removed during a scan are skipped.
type Registry struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu      sync.Mutex
	entries map[ID]*Request
}

var _ Collection = (*Registry)(nil)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 16

// NewRegistry creates a Registry. The shard count is rounded up to a power of two.
func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}

	r := &Registry{
		shards: make([]*shard, n),
		mask:   uint32(n - 1),
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[ID]*Request)}
	}
	return r
}

func (r *Registry) shardFor(id ID) *shard {
	return r.shards[binary.BigEndian.Uint32(id[12:])&r.mask]
}

// Insert adds a request.
func (r *Registry) Insert(req *Request) error {
	s := r.shardFor(req.id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[req.id]; exists {
		return errors.Validationf("pending", "Registry.Insert", "request %s already pending", req.id)
	}
	s.entries[req.id] = req
	return nil
}

// Remove takes a request out of the registry.
func (r *Registry) Remove(id ID) (*Request, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	return req, ok
}

// removeIf removes id only if it still maps to req.
func (r *Registry) removeIf(id ID, req *Request) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[id] != req {
		return false
	}
	delete(s.entries, id)
	return true
}

// Get looks up a request.
func (r *Registry) Get(id ID) (*Request, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.entries[id]
	return req, ok
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (r *Registry) keys() []ID {
	var ids []ID
	for _, s := range r.shards {
		s.mu.Lock()
		for id := range s.entries {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	return ids
}

// TupleArrived delivers t to every matching request. It never blocks on an empty
// registry; a tuple nobody waits for is dropped.
func (r *Registry) TupleArrived(ctx context.Context, t *tuple.Tuple) (int, error) {
	if t == nil {
		return 0, errors.Validationf("pending", "Registry.TupleArrived", "nil tuple")
	}

	delivered := 0
	for _, id := range r.keys() {
		if err := ctx.Err(); err != nil {
			return delivered, errors.WrapTransient(err, "pending", "Registry.TupleArrived", "scan requests")
		}

		req, ok := r.Get(id)
		if !ok || !req.Matches(t) {
			continue
		}
		if req.kind == KindRead {
			if !r.removeIf(id, req) {
				continue
			}
			req.deliver(t)
			req.complete()
		} else {
			req.deliver(t)
		}
		delivered++
	}
	return delivered, nil
}

// Drain removes and returns every pending request.
func (r *Registry) Drain() []*Request {
	var out []*Request
	for _, s := range r.shards {
		s.mu.Lock()
		for id, req := range s.entries {
			out = append(out, req)
			delete(s.entries, id)
		}
		s.mu.Unlock()
	}
	return out
}
