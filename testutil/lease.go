package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/tuplestreams/lease"
)

// LeaseRequest is one call to ManualAcquirer.Acquire.
type LeaseRequest struct {
	Owner      lease.Owner
	Descriptor string
	Duration   time.Duration
	Lease      lease.Lease
}

// ManualAcquirer is a lease.Acquirer driven by the test. Leases are granted, denied and
// expired explicitly, and owner callbacks run synchronously on the calling goroutine.
type ManualAcquirer struct {
	// AutoGrant grants every lease inside Acquire.
	AutoGrant bool

	mu       sync.Mutex
	requests []*LeaseRequest
	live     map[uuid.UUID]*LeaseRequest
	canceled []lease.Lease
}

var _ lease.Acquirer = (*ManualAcquirer)(nil)

// NewManualAcquirer creates a ManualAcquirer.
func NewManualAcquirer(autoGrant bool) *ManualAcquirer {
	return &ManualAcquirer{AutoGrant: autoGrant, live: make(map[uuid.UUID]*LeaseRequest)}
}

// Acquire records the request and grants it when AutoGrant is set.
func (a *ManualAcquirer) Acquire(_ context.Context, owner lease.Owner, descriptor string, d time.Duration) {
	a.mu.Lock()
	req := &LeaseRequest{Owner: owner, Descriptor: descriptor, Duration: d}
	a.requests = append(a.requests, req)
	idx := len(a.requests) - 1
	a.mu.Unlock()

	if a.AutoGrant {
		a.Grant(idx)
	}
}

// Requests returns the recorded Acquire calls.
func (a *ManualAcquirer) Requests() []*LeaseRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*LeaseRequest(nil), a.requests...)
}

// Grant grants the i-th request for its requested duration.
func (a *ManualAcquirer) Grant(i int) lease.Lease {
	a.mu.Lock()
	req := a.requests[i]
	req.Lease = lease.Lease{ID: uuid.New(), Descriptor: req.Descriptor}
	a.live[req.Lease.ID] = req
	a.mu.Unlock()

	req.Owner.LeaseAcquired(req.Lease, req.Duration)
	return req.Lease
}

// Deny refuses the i-th request.
func (a *ManualAcquirer) Deny(i int, err error) {
	a.mu.Lock()
	req := a.requests[i]
	a.mu.Unlock()
	req.Owner.LeaseDenied(err)
}

// Expire ends a live lease as if its time ran out. It reports false if the lease was not
// live.
func (a *ManualAcquirer) Expire(l lease.Lease) bool {
	a.mu.Lock()
	req, ok := a.live[l.ID]
	delete(a.live, l.ID)
	a.mu.Unlock()

	if ok {
		req.Owner.LeaseCanceled(l)
	}
	return ok
}

// Renew extends a live lease.
func (a *ManualAcquirer) Renew(_ context.Context, l lease.Lease, d time.Duration) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[l.ID]; !ok {
		return 0, fmt.Errorf("lease %s not live", l)
	}
	return d, nil
}

// Cancel ends a live lease and records it.
func (a *ManualAcquirer) Cancel(_ context.Context, l lease.Lease) error {
	a.mu.Lock()
	req, ok := a.live[l.ID]
	delete(a.live, l.ID)
	if ok {
		a.canceled = append(a.canceled, l)
	}
	a.mu.Unlock()

	if ok {
		req.Owner.LeaseCanceled(l)
	}
	return nil
}

// Canceled returns the leases ended through Cancel.
func (a *ManualAcquirer) Canceled() []lease.Lease {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]lease.Lease(nil), a.canceled...)
}

// Live returns the number of live leases.
func (a *ManualAcquirer) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
