package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/metric"
)

// ManagerConfig bounds the leases a Manager grants.
type ManagerConfig struct {
	// MaxDuration caps every grant and renewal. Zero means no cap.
	MaxDuration time.Duration
}

// ManagerDeps holds the Manager's runtime dependencies.
type ManagerDeps struct {
	Config          ManagerConfig
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger
}

// Manager is an in-process Acquirer. Expiry runs on timers; owner callbacks run in order
// on a single dispatch goroutine, never while the Manager's lock is held, so owners may
// call back into the Manager.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *leaseMetrics

	mu     sync.Mutex
	leases map[uuid.UUID]*entry
	closed bool

	dispatch *dispatcher
}

type entry struct {
	lease Lease
	owner Owner
	timer *time.Timer
	gen   uint64
}

var _ Acquirer = (*Manager)(nil)

// NewManager creates a Manager and starts its dispatch goroutine.
func NewManager(deps ManagerDeps) (*Manager, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Config.MaxDuration < 0 {
		return nil, errors.Validationf("lease", "NewManager", "max duration must not be negative")
	}

	metrics, err := newLeaseMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "lease", "NewManager", "metrics registration")
	}

	m := &Manager{
		cfg:      deps.Config,
		logger:   logger.With("component", "lease-manager"),
		metrics:  metrics,
		leases:   make(map[uuid.UUID]*entry),
		dispatch: newDispatcher(),
	}
	go m.dispatch.run()
	return m, nil
}

func (m *Manager) capDuration(d time.Duration) time.Duration {
	if m.cfg.MaxDuration > 0 && d > m.cfg.MaxDuration {
		return m.cfg.MaxDuration
	}
	return d
}

// Acquire requests a lease for owner. The result arrives through owner's callbacks.
func (m *Manager) Acquire(ctx context.Context, owner Owner, descriptor string, d time.Duration) {
	if owner == nil {
		m.logger.Warn("Lease requested without owner", "descriptor", descriptor)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var denial error
	switch {
	case m.closed:
		denial = fmt.Errorf("%w: manager closed", errors.ErrLeaseDenied)
	case ctx.Err() != nil:
		denial = fmt.Errorf("%w: %w", errors.ErrLeaseDenied, ctx.Err())
	case d <= 0:
		denial = fmt.Errorf("%w: duration must be positive, got %v", errors.ErrLeaseDenied, d)
	}
	if denial != nil {
		m.metrics.recordDenied()
		m.logger.Debug("Lease denied", "descriptor", descriptor, "reason", denial)
		err := errors.WrapInvalid(denial, "lease", "Acquire", "grant lease")
		m.dispatch.enqueue(func() { owner.LeaseDenied(err) })
		return
	}

	granted := m.capDuration(d)
	e := &entry{
		lease: Lease{ID: uuid.New(), Descriptor: descriptor},
		owner: owner,
	}
	m.leases[e.lease.ID] = e
	m.arm(e, granted)
	m.metrics.recordGranted(len(m.leases))

	m.logger.Debug("Lease granted", "lease", e.lease, "duration", granted)
	l := e.lease
	m.dispatch.enqueue(func() { owner.LeaseAcquired(l, granted) })
}

// arm starts e's expiry timer. A renewal bumps gen so a timer that already fired for an
// older generation finds nothing to do.
func (m *Manager) arm(e *entry, d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	id := e.lease.ID
	e.timer = time.AfterFunc(d, func() { m.expire(id, gen) })
}

func (m *Manager) expire(id uuid.UUID, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.leases[id]
	if !ok || e.gen != gen {
		return
	}
	delete(m.leases, id)
	m.metrics.recordEnded("expired", len(m.leases))
	m.logger.Debug("Lease expired", "lease", e.lease)
	m.dispatch.enqueue(func() { e.owner.LeaseCanceled(e.lease) })
}

// Renew extends a live lease to run for d from now. It returns the granted duration.
func (m *Manager) Renew(_ context.Context, l Lease, d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: duration must be positive, got %v", errors.ErrLeaseDenied, d),
			"lease", "Renew", "renew lease")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.leases[l.ID]
	if !ok {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: lease %s", errors.ErrNotFound, l), "lease", "Renew", "find lease")
	}
	granted := m.capDuration(d)
	m.arm(e, granted)
	return granted, nil
}

// Cancel ends a lease early. The owner hears LeaseCanceled once. Canceling a lease that
// already ended is a no-op.
func (m *Manager) Cancel(_ context.Context, l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.leases[l.ID]
	if !ok {
		return nil
	}
	e.timer.Stop()
	delete(m.leases, l.ID)
	m.metrics.recordEnded("canceled", len(m.leases))
	m.logger.Debug("Lease canceled", "lease", e.lease)
	m.dispatch.enqueue(func() { e.owner.LeaseCanceled(e.lease) })
	return nil
}

// Active returns the number of live leases.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Close cancels every live lease, refuses new ones and waits until owners have been
// notified or ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for id, e := range m.leases {
		e := e
		e.timer.Stop()
		delete(m.leases, id)
		m.metrics.recordEnded("canceled", 0)
		m.dispatch.enqueue(func() { e.owner.LeaseCanceled(e.lease) })
	}
	m.mu.Unlock()

	done := m.dispatch.close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "lease", "Close", "await cancellation notices")
	}
}

// dispatcher runs callbacks one at a time in submission order. enqueue never blocks.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closing bool
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close stops accepting callbacks. The returned channel closes once queued callbacks ran.
func (d *dispatcher) close() <-chan struct{} {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.signal()
	return d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closing := d.closing
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}
		<-d.wake
	}
}
