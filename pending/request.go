package pending

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/filter"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/tuple"
)

// ID identifies a pending request. It is the originating request's ID.
type ID = event.ID

// Kind distinguishes one-shot reads from continuous listens.
type Kind int

const (
	// KindRead is satisfied by the first matching tuple and then leaves the registry.
	KindRead Kind = iota
	// KindListen receives every matching tuple until its lease ends.
	KindListen
)

func (k Kind) String() string {
	if k == KindListen {
		return "listen"
	}
	return "read"
}

// Request is one read or listen waiting for tuples. It keeps the originating event request
// so results can be correlated and sent back to its source.
type Request struct {
	id       ID
	kind     Kind
	filter   *filter.Filter
	idOnly   bool
	duration time.Duration
	origin   event.Request

	mu       sync.Mutex
	lease    lease.Lease
	finished bool
	release  func(lease.Lease)
}

// FromEvent builds a pending request from a read or listen request. Other request types
// are unsupported.
func FromEvent(req event.Request) (*Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		kind     Kind
		query    *tuple.Query
		idOnly   bool
		duration time.Duration
	)
	switch r := req.(type) {
	case *event.ReadRequest:
		kind, query, idOnly, duration = KindRead, r.Query, r.IDOnly, r.Timeout
	case *event.ListenRequest:
		kind, query, idOnly, duration = KindListen, r.Query, r.IDOnly, r.Duration
	default:
		return nil, errors.Unsupportedf("pending", "FromEvent", "%s requests cannot wait for tuples", req.Kind())
	}

	f, err := filter.Compile(query)
	if err != nil {
		return nil, err
	}
	return &Request{
		id:       req.RequestID(),
		kind:     kind,
		filter:   f,
		idOnly:   idOnly,
		duration: duration,
		origin:   req,
	}, nil
}

// ID returns the request's ID.
func (r *Request) ID() ID { return r.id }

// Kind returns whether the request is a read or a listen.
func (r *Request) Kind() Kind { return r.kind }

// Duration returns the read timeout or listen duration.
func (r *Request) Duration() time.Duration { return r.duration }

// Matches reports whether t satisfies the request's filter.
func (r *Request) Matches(t *tuple.Tuple) bool { return r.filter.Matches(t) }

// Lease returns the lease backing the request, or the zero Lease.
func (r *Request) Lease() lease.Lease {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lease
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s [%s]", r.kind, r.id, r.filter.Query())
}

// deliver sends t, or only its ID, to the request's source.
func (r *Request) deliver(t *tuple.Tuple) {
	if r.idOnly {
		r.origin.Reply(&event.InputByIDResponse{TupleID: t.ID()})
		return
	}
	r.origin.Reply(&event.InputResponse{Tuple: t})
}

// expire tells a read's source that no tuple arrived in time.
func (r *Request) expire() {
	if r.kind == KindRead {
		r.origin.Reply(&event.InputResponse{})
	}
}

// attach records the granted lease. It reports false when the request already left the
// registry, in which case the caller owns the lease and must cancel it.
func (r *Request) attach(l lease.Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false
	}
	r.lease = l
	return true
}

// complete marks the request done and releases its lease, once.
func (r *Request) complete() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	l, release := r.lease, r.release
	r.mu.Unlock()

	if release != nil && !l.IsZero() {
		release(l)
	}
}
