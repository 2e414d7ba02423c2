package binding

import (
	"context"
	"sync"
	"time"

	"github.com/c360/tuplestreams/channel/datagram"
	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/tuple"
)

// BindRequest describes a channel to open.
type BindRequest struct {
	Name string
	// Type names the network, "udp" unless the Factory registers others.
	Type   string
	Local  string
	Remote string
	// Mode is "in", "out" or "inout". Without a remote the channel is input-only.
	Mode          string
	LeaseDuration time.Duration
	// AutoRenew keeps renewing the channel lease at half its granted duration until
	// the binding is revoked.
	AutoRenew bool

	PollInterval    time.Duration
	SendRate        float64
	SendBurst       int
	DeliveryWorkers int
	DeliveryQueue   int
}

func (r BindRequest) withDefaults(leaseDuration time.Duration) BindRequest {
	if r.Type == "" {
		r.Type = "udp"
	}
	if r.LeaseDuration == 0 {
		r.LeaseDuration = leaseDuration
	}
	return r
}

// Validate checks the request fields that do not depend on the network.
func (r BindRequest) Validate() error {
	if r.Name == "" {
		return errors.Validationf("binding", "BindRequest.Validate", "channel name is required")
	}
	if r.Local == "" {
		return errors.Validationf("binding", "BindRequest.Validate", "channel %q has no local address", r.Name)
	}
	mode, err := datagram.ParseMode(r.Mode)
	if err != nil {
		return err
	}
	if mode == datagram.ModeOutput && r.Remote == "" {
		return errors.Validationf("binding", "BindRequest.Validate", "output channel %q has no remote address", r.Name)
	}
	if r.LeaseDuration < 0 {
		return errors.Validationf("binding", "BindRequest.Validate", "channel %q has a negative lease duration", r.Name)
	}
	if r.SendRate < 0 || r.SendBurst < 0 {
		return errors.Validationf("binding", "BindRequest.Validate", "channel %q has a negative send rate", r.Name)
	}
	return nil
}

// Binding is a bound channel held by a lease. It is a lease.Owner for its channel
// lease.
type Binding struct {
	factory *Factory
	req     BindRequest
	client  *datagram.Client

	mu       sync.Mutex
	lease    lease.Lease
	granted  time.Duration
	denied   error
	decided  chan struct{}
	abandon  bool
	finished bool
}

var _ lease.Owner = (*Binding)(nil)

// Name returns the channel name.
func (b *Binding) Name() string { return b.req.Name }

// Request returns the request the binding was made from, with defaults applied.
func (b *Binding) Request() BindRequest { return b.req }

// Client returns the channel.
func (b *Binding) Client() *datagram.Client { return b.client }

// Lease returns the channel lease, or the zero Lease once it has ended.
func (b *Binding) Lease() lease.Lease {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lease
}

// Done is closed when the channel starts revoking.
func (b *Binding) Done() <-chan struct{} { return b.client.Done() }

// Handle serves a request on the channel.
func (b *Binding) Handle(ctx context.Context, req event.Request) {
	b.client.Handle(ctx, req)
}

// Send sends t on the channel.
func (b *Binding) Send(ctx context.Context, t *tuple.Tuple) error {
	return b.client.Send(ctx, t)
}

// Renew extends the channel lease by d and returns the granted duration.
func (b *Binding) Renew(ctx context.Context, d time.Duration) (time.Duration, error) {
	l := b.Lease()
	if l.IsZero() {
		return 0, errors.Revoked("binding", "Binding.Renew")
	}
	granted, err := b.factory.leases.Renew(ctx, l, d)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.granted = granted
	b.mu.Unlock()
	return granted, nil
}

// Revoke cancels the channel lease and revokes the channel. Later calls do nothing.
func (b *Binding) Revoke() error {
	return b.client.Revoke()
}

// awaitLease waits for the channel lease decision.
func (b *Binding) awaitLease(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.decided:
	case <-ctx.Done():
		b.giveUp()
		return errors.WrapTransient(ctx.Err(), "binding", "Factory.Bind", "wait for channel lease")
	case <-timer.C:
		b.giveUp()
		return errors.WrapTransient(errors.ErrLeaseDenied, "binding", "Factory.Bind", "wait for channel lease")
	}

	b.mu.Lock()
	denied, granted := b.denied, b.granted
	b.mu.Unlock()
	if denied != nil {
		return errors.WrapInvalid(denied, "binding", "Factory.Bind", "acquire channel lease")
	}
	if b.req.AutoRenew {
		go b.renewLoop(granted)
	}
	return nil
}

// giveUp marks the binding abandoned so a late grant is canceled.
func (b *Binding) giveUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abandon = true
}

func (b *Binding) renewLoop(granted time.Duration) {
	for {
		wait := granted / 2
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-b.client.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.factory.cfg.CancelTimeout)
		next, err := b.Renew(ctx, b.req.LeaseDuration)
		cancel()
		if err != nil {
			if errors.Is(err, errors.ErrRevoked) {
				return
			}
			b.factory.logger.Warn("Channel lease renewal failed", "channel", b.req.Name, "error", err)
			continue
		}
		granted = next
	}
}

// LeaseAcquired records the channel lease.
func (b *Binding) LeaseAcquired(l lease.Lease, granted time.Duration) {
	b.mu.Lock()
	if b.abandon || b.finished {
		b.mu.Unlock()
		b.cancelLease(l)
		return
	}
	b.lease = l
	b.granted = granted
	close(b.decided)
	b.mu.Unlock()
}

// LeaseDenied fails the pending Bind.
func (b *Binding) LeaseDenied(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.abandon || b.finished {
		return
	}
	if err == nil {
		err = errors.ErrLeaseDenied
	}
	b.denied = err
	close(b.decided)
}

// LeaseCanceled revokes the channel once its lease has ended.
func (b *Binding) LeaseCanceled(l lease.Lease) {
	b.mu.Lock()
	if b.lease != l {
		b.mu.Unlock()
		return
	}
	b.lease = lease.Lease{}
	b.mu.Unlock()

	// Revoking joins the read loop; keep it off the lease dispatcher.
	go b.client.RevokeWithCause("lease", errors.Revoked("binding", "Binding.LeaseCanceled"))
}

// channelRevoked runs once the channel is torn down, whatever the cause.
func (b *Binding) channelRevoked(cause error) {
	b.mu.Lock()
	b.finished = true
	l := b.lease
	b.lease = lease.Lease{}
	b.mu.Unlock()

	if !l.IsZero() {
		b.cancelLease(l)
	}
	b.factory.release(b)
	if cause != nil {
		b.factory.logger.Info("Binding ended", "channel", b.req.Name, "cause", cause)
	}
}

func (b *Binding) cancelLease(l lease.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), b.factory.cfg.CancelTimeout)
	defer cancel()
	if err := b.factory.leases.Cancel(ctx, l); err != nil {
		b.factory.logger.Warn("Channel lease cancel failed", "channel", b.req.Name, "lease", l, "error", err)
	}
}
