package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/tuple"
)

// SyncRegistry is a Collection that serializes arrivals under one lock. Requests are
// matched in insertion order against a request set that stays fixed while a tuple is
// processed.
//
// TupleArrived blocks while the registry is empty, until a request is inserted, ctx is
// done, or the optional wait timeout elapses.
type SyncRegistry struct {
	waitTimeout time.Duration

	mu      sync.Mutex
	order   []*Request
	index   map[ID]*Request
	changed chan struct{}
	drained bool
}

var _ Collection = (*SyncRegistry)(nil)

// NewSyncRegistry creates a SyncRegistry. A zero waitTimeout waits until ctx is done.
func NewSyncRegistry(waitTimeout time.Duration) *SyncRegistry {
	return &SyncRegistry{
		waitTimeout: waitTimeout,
		index:       make(map[ID]*Request),
		changed:     make(chan struct{}),
	}
}

// notify wakes waiters. Callers hold r.mu.
func (r *SyncRegistry) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Insert adds a request and wakes any blocked arrival.
func (r *SyncRegistry) Insert(req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[req.id]; exists {
		return errors.Validationf("pending", "SyncRegistry.Insert", "request %s already pending", req.id)
	}
	r.index[req.id] = req
	r.order = append(r.order, req)
	r.notify()
	return nil
}

// Remove takes a request out of the registry.
func (r *SyncRegistry) Remove(id ID) (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.index[id]
	if !ok {
		return nil, false
	}
	delete(r.index, id)
	for i, p := range r.order {
		if p == req {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return req, true
}

// Get looks up a request.
func (r *SyncRegistry) Get(id ID) (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.index[id]
	return req, ok
}

// Len returns the number of pending requests.
func (r *SyncRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// TupleArrived waits for at least one request, then delivers t to every match.
func (r *SyncRegistry) TupleArrived(ctx context.Context, t *tuple.Tuple) (int, error) {
	if t == nil {
		return 0, errors.Validationf("pending", "SyncRegistry.TupleArrived", "nil tuple")
	}

	var timeout <-chan time.Time
	if r.waitTimeout > 0 {
		timer := time.NewTimer(r.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	r.mu.Lock()
	for len(r.order) == 0 {
		if r.drained {
			r.mu.Unlock()
			return 0, errors.Revoked("pending", "SyncRegistry.TupleArrived")
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, errors.WrapTransient(ctx.Err(), "pending", "SyncRegistry.TupleArrived", "wait for requests")
		case <-timeout:
			return 0, errors.WrapTransient(
				fmt.Errorf("%w: no request within %v", errors.ErrWaitTimeout, r.waitTimeout),
				"pending", "SyncRegistry.TupleArrived", "wait for requests")
		}
		r.mu.Lock()
	}

	var (
		matched []*Request
		kept    = make([]*Request, 0, len(r.order))
	)
	for _, req := range r.order {
		if !req.Matches(t) {
			kept = append(kept, req)
			continue
		}
		matched = append(matched, req)
		if req.kind == KindRead {
			delete(r.index, req.id)
			continue
		}
		kept = append(kept, req)
	}
	r.order = kept
	r.mu.Unlock()

	for _, req := range matched {
		req.deliver(t)
		if req.kind == KindRead {
			req.complete()
		}
	}
	return len(matched), nil
}

// Drain removes and returns every pending request. Blocked and later arrivals fail with
// ErrRevoked instead of waiting.
func (r *SyncRegistry) Drain() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.order
	r.order = nil
	r.index = make(map[ID]*Request)
	r.drained = true
	r.notify()
	return out
}
