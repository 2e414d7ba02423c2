package pending

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/tuple"
)

// Config tunes a Manager.
type Config struct {
	// CancelTimeout bounds each lease cancellation during Close.
	CancelTimeout time.Duration
}

// DefaultCancelTimeout is used when Config.CancelTimeout is zero.
const DefaultCancelTimeout = 2 * time.Second

// Deps holds the Manager's runtime dependencies.
type Deps struct {
	// Name labels logs and metrics, usually the owning channel's name.
	Name       string
	Collection Collection
	// Leases grants request leases. When nil, requests are added without leases and
	// stay pending until removed explicitly.
	Leases          lease.Acquirer
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger
}

// Manager routes read, listen and remove requests into a Collection and ties each
// pending request to a lease: a read whose lease ends before a match gets an empty
// InputResponse, a listen whose lease ends leaves silently.
type Manager struct {
	name     string
	cfg      Config
	coll     Collection
	leases   lease.Acquirer
	logger   *slog.Logger
	metrics  *pendingMetrics
	registry *metric.MetricsRegistry
	closed   atomic.Bool
}

// NewManager creates a Manager over deps.Collection.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Collection == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "pending", "NewManager", "collection is required")
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newPendingMetrics(deps.MetricsRegistry, deps.Name)
	if err != nil {
		return nil, errors.WrapFatal(err, "pending", "NewManager", "metrics registration")
	}

	return &Manager{
		name:     deps.Name,
		cfg:      cfg,
		coll:     deps.Collection,
		leases:   deps.Leases,
		logger:   logger.With("component", "pending", "registry", deps.Name),
		metrics:  metrics,
		registry: deps.MetricsRegistry,
	}, nil
}

// Handle accepts a request. Reads and listens become pending; removes are acknowledged
// with a RemoveResponse; anything else fails with ErrUnsupported. Failures are reported
// to the request's source.
func (m *Manager) Handle(ctx context.Context, req event.Request) {
	if err := req.Validate(); err != nil {
		req.Fail(err)
		return
	}

	switch r := req.(type) {
	case *event.ReadRequest, *event.ListenRequest:
		var err error
		if m.leases != nil {
			err = m.AddLeased(ctx, req)
		} else {
			_, err = m.Add(req)
		}
		if err != nil {
			req.Fail(err)
		}
	case *event.RemoveRequest:
		_, removed := m.Remove(r.Target)
		r.Reply(&event.RemoveResponse{Removed: removed})
	default:
		req.Fail(errors.Unsupportedf("pending", "Manager.Handle", "%s requests are not served by a pending registry", req.Kind()))
	}
}

// Add inserts a read or listen without a lease. It stays pending until a read matches or
// the request is removed. A listen is acknowledged right away.
func (m *Manager) Add(req event.Request) (*Request, error) {
	if m.closed.Load() {
		return nil, errors.Revoked("pending", "Manager.Add")
	}
	p, err := FromEvent(req)
	if err != nil {
		return nil, err
	}
	if err := m.coll.Insert(p); err != nil {
		return nil, err
	}
	m.metrics.recordAdded(p.kind, m.coll.Len())
	if p.kind == KindListen {
		req.Reply(&event.ListenResponse{Duration: p.duration})
	}
	return p, nil
}

// AddLeased inserts a read or listen and asks for a lease covering its timeout or
// duration. The request is matchable at once; if the lease is denied it is withdrawn and
// the source gets an ExceptionalResponse.
func (m *Manager) AddLeased(ctx context.Context, req event.Request) error {
	if m.leases == nil {
		return errors.Unsupportedf("pending", "Manager.AddLeased", "no lease acquirer configured")
	}
	if m.closed.Load() {
		return errors.Revoked("pending", "Manager.AddLeased")
	}
	p, err := FromEvent(req)
	if err != nil {
		return err
	}
	p.release = m.cancelLease

	if err := m.coll.Insert(p); err != nil {
		return err
	}
	m.metrics.recordAdded(p.kind, m.coll.Len())

	m.leases.Acquire(ctx, &requestOwner{m: m, req: p}, p.kind.String()+":"+p.id.String(), p.duration)
	return nil
}

// Remove withdraws a pending request and releases its lease. It reports false if no
// request was pending under id.
func (m *Manager) Remove(id ID) (*Request, bool) {
	p, ok := m.coll.Remove(id)
	if !ok {
		return nil, false
	}
	p.complete()
	m.metrics.recordRemoved("removed", m.coll.Len())
	return p, true
}

// TupleArrived hands t to the collection.
func (m *Manager) TupleArrived(ctx context.Context, t *tuple.Tuple) (int, error) {
	if m.closed.Load() {
		return 0, errors.Revoked("pending", "Manager.TupleArrived")
	}
	n, err := m.coll.TupleArrived(ctx, t)
	m.metrics.recordArrival(n, m.coll.Len())
	return n, err
}

// Len returns the number of pending requests.
func (m *Manager) Len() int { return m.coll.Len() }

// Close withdraws every pending request. Reads get an empty InputResponse. Leases are
// canceled, each bounded by the cancel timeout.
func (m *Manager) Close(ctx context.Context) {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	drained := m.coll.Drain()
	for _, p := range drained {
		p.mu.Lock()
		p.finished = true
		l := p.lease
		p.mu.Unlock()

		if !l.IsZero() && m.leases != nil {
			cctx, cancel := context.WithTimeout(ctx, m.cfg.CancelTimeout)
			if err := m.leases.Cancel(cctx, l); err != nil {
				m.logger.Warn("Lease cancel failed during close", "lease", l, "error", err)
			}
			cancel()
		}
		p.expire()
		m.metrics.recordRemoved("closed", 0)
	}
	if m.registry != nil {
		m.registry.UnregisterService("pending." + m.name)
	}
	m.logger.Debug("Pending registry closed", "withdrawn", len(drained))
}

func (m *Manager) cancelLease(l lease.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CancelTimeout)
	defer cancel()
	if err := m.leases.Cancel(ctx, l); err != nil {
		m.logger.Warn("Lease cancel failed", "lease", l, "error", err)
	}
}

// requestOwner receives lease events for one pending request.
type requestOwner struct {
	m   *Manager
	req *Request
}

func (o *requestOwner) LeaseAcquired(l lease.Lease, granted time.Duration) {
	if !o.req.attach(l) {
		// Matched or removed before the grant arrived.
		o.m.cancelLease(l)
		return
	}
	if o.req.kind == KindListen {
		o.req.origin.Reply(&event.ListenResponse{Lease: l, Duration: granted})
	}
}

func (o *requestOwner) LeaseDenied(err error) {
	p, ok := o.m.coll.Remove(o.req.id)
	if !ok || p != o.req {
		return
	}
	p.complete()
	o.m.metrics.recordRemoved("denied", o.m.coll.Len())
	o.m.logger.Debug("Pending request lease denied", "request", p.id, "error", err)
	p.origin.Fail(errors.WrapInvalid(err, "pending", "Manager.AddLeased", "acquire request lease"))
}

func (o *requestOwner) LeaseCanceled(l lease.Lease) {
	p, ok := o.m.coll.Remove(o.req.id)
	if !ok || p != o.req {
		return
	}
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()

	o.m.metrics.recordRemoved("expired", o.m.coll.Len())
	o.m.logger.Debug("Pending request lease ended", "request", p.id, "lease", l)
	p.expire()
}
