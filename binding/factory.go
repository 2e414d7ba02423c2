// Package binding is the front door for opening channels. A Factory turns a BindRequest
// into a live Binding: a bound socket, a pending-request registry, a datagram channel
// and the lease that keeps the channel alive. Losing the lease revokes the channel.
package binding

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/tuplestreams/channel/datagram"
	"github.com/c360/tuplestreams/codec"
	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/pending"
	"github.com/c360/tuplestreams/pkg/retry"
	"github.com/c360/tuplestreams/transport"
)

// Registry modes.
const (
	RegistryConcurrent = "concurrent"
	RegistrySync       = "sync"
)

// Config tunes a Factory.
type Config struct {
	// RegistryMode selects the pending registry variant for new channels.
	RegistryMode string
	Shards       int
	// WaitTimeout bounds a sync registry's wait for requests. Zero waits until the
	// delivery is canceled.
	WaitTimeout time.Duration
	// DefaultLeaseDuration is used when a BindRequest leaves LeaseDuration zero.
	DefaultLeaseDuration time.Duration
	// GrantTimeout bounds how long Bind waits for the channel lease decision.
	GrantTimeout  time.Duration
	CancelTimeout time.Duration
	BindRetry     retry.Config
}

// DefaultConfig returns the settings used for zero fields.
func DefaultConfig() Config {
	return Config{
		RegistryMode:         RegistryConcurrent,
		Shards:               pending.DefaultShards,
		DefaultLeaseDuration: time.Minute,
		GrantTimeout:         5 * time.Second,
		CancelTimeout:        pending.DefaultCancelTimeout,
		BindRetry:            retry.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RegistryMode == "" {
		c.RegistryMode = d.RegistryMode
	}
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.DefaultLeaseDuration <= 0 {
		c.DefaultLeaseDuration = d.DefaultLeaseDuration
	}
	if c.GrantTimeout <= 0 {
		c.GrantTimeout = d.GrantTimeout
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = d.CancelTimeout
	}
	if c.BindRetry.MaxAttempts == 0 && c.BindRetry.InitialDelay == 0 {
		c.BindRetry = d.BindRetry
	}
	return c
}

// Network opens sockets and resolves remote addresses for one channel type.
type Network struct {
	Bind    transport.Binder
	Resolve func(remote string) (net.Addr, error)
}

// Deps holds the Factory's collaborators.
type Deps struct {
	// Leases grants both channel leases and pending-request leases. Required.
	Leases lease.Acquirer
	// Networks maps channel types to networks. Nil registers "udp" only.
	Networks        map[string]Network
	Codec           codec.Codec
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger
}

// Factory creates and tracks Bindings.
type Factory struct {
	cfg      Config
	leases   lease.Acquirer
	networks map[string]Network
	codec    codec.Codec
	metrics  *metric.MetricsRegistry
	logger   *slog.Logger

	mu       sync.Mutex
	bindings map[string]*Binding
	closed   bool
}

// NewFactory creates a Factory.
func NewFactory(cfg Config, deps Deps) (*Factory, error) {
	cfg = cfg.withDefaults()
	if cfg.RegistryMode != RegistryConcurrent && cfg.RegistryMode != RegistrySync {
		return nil, errors.Validationf("binding", "NewFactory", "unknown registry mode %q", cfg.RegistryMode)
	}
	if deps.Leases == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "binding", "NewFactory", "lease acquirer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	networks := deps.Networks
	if networks == nil {
		networks = map[string]Network{
			"udp": {Bind: transport.UDPBinder(logger), Resolve: transport.ResolveUDP},
		}
	}
	c := deps.Codec
	if c == nil {
		c = codec.JSON{}
	}

	return &Factory{
		cfg:      cfg,
		leases:   deps.Leases,
		networks: networks,
		codec:    c,
		metrics:  deps.MetricsRegistry,
		logger:   logger.With("component", "binding"),
		bindings: make(map[string]*Binding),
	}, nil
}

// Bind opens the channel described by req and waits for its lease. On any failure
// everything opened so far is torn down.
func (f *Factory) Bind(ctx context.Context, req BindRequest) (*Binding, error) {
	req = req.withDefaults(f.cfg.DefaultLeaseDuration)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	network, ok := f.networks[req.Type]
	if !ok {
		return nil, errors.Unsupportedf("binding", "Factory.Bind", "no network for channel type %q", req.Type)
	}
	mode, _ := datagram.ParseMode(req.Mode)

	var remote net.Addr
	if req.Remote != "" {
		addr, err := network.Resolve(req.Remote)
		if err != nil {
			return nil, errors.WrapInvalid(err, "binding", "Factory.Bind", "resolve remote address")
		}
		remote = addr
	}

	b := &Binding{factory: f, req: req, decided: make(chan struct{})}
	if err := f.reserve(b); err != nil {
		return nil, err
	}

	bindCfg := f.cfg.BindRetry
	bindCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		f.logger.Warn("Bind attempt failed", "channel", req.Name, "local", req.Local,
			"attempt", attempt, "retry_in", delay, "error", err)
	}
	sock, err := transport.Bind(ctx, bindCfg, network.Bind, req.Local)
	if err != nil {
		f.release(b)
		return nil, errors.Transport(err, "binding", "Factory.Bind", "bind "+req.Local)
	}

	client, err := f.newClient(b, req, mode, sock, remote)
	if err != nil {
		_ = sock.Close()
		f.release(b)
		return nil, err
	}
	b.client = client
	if err := client.Start(ctx); err != nil {
		_ = client.Revoke()
		return nil, err
	}

	f.leases.Acquire(ctx, b, "channel:"+req.Name, req.LeaseDuration)
	if err := b.awaitLease(ctx, f.cfg.GrantTimeout); err != nil {
		_ = client.Revoke()
		return nil, err
	}

	f.logger.Info("Channel bound", "channel", req.Name, "type", req.Type,
		"local", client.LocalAddr(), "remote", req.Remote, "mode", client.Mode())
	return b, nil
}

func (f *Factory) newClient(b *Binding, req BindRequest, mode datagram.Mode, sock transport.Transport, remote net.Addr) (*datagram.Client, error) {
	var pend *pending.Manager
	workers := req.DeliveryWorkers
	if mode.Input() {
		var coll pending.Collection
		if f.cfg.RegistryMode == RegistrySync {
			coll = pending.NewSyncRegistry(f.cfg.WaitTimeout)
			// Arrival order is only kept with a single delivery worker.
			workers = 1
		} else {
			coll = pending.NewRegistry(f.cfg.Shards)
		}

		var err error
		pend, err = pending.NewManager(pending.Config{CancelTimeout: f.cfg.CancelTimeout}, pending.Deps{
			Name:            req.Name,
			Collection:      coll,
			Leases:          f.leases,
			MetricsRegistry: f.metrics,
			Logger:          f.logger,
		})
		if err != nil {
			return nil, err
		}
	}

	client, err := datagram.NewClient(datagram.Config{
		Mode:            mode,
		PollInterval:    req.PollInterval,
		SendRate:        req.SendRate,
		SendBurst:       req.SendBurst,
		DeliveryWorkers: workers,
		DeliveryQueue:   req.DeliveryQueue,
	}, datagram.Deps{
		Name:            req.Name,
		Transport:       sock,
		Remote:          remote,
		Codec:           f.codec,
		Pending:         pend,
		MetricsRegistry: f.metrics,
		Logger:          f.logger,
		OnRevoke:        b.channelRevoked,
	})
	if err != nil {
		if pend != nil {
			pend.Close(context.Background())
		}
		return nil, err
	}
	return client, nil
}

func (f *Factory) reserve(b *Binding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.Revoked("binding", "Factory.Bind")
	}
	if _, exists := f.bindings[b.req.Name]; exists {
		return errors.Validationf("binding", "Factory.Bind", "channel %q is already bound", b.req.Name)
	}
	f.bindings[b.req.Name] = b
	return nil
}

func (f *Factory) release(b *Binding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindings[b.req.Name] == b {
		delete(f.bindings, b.req.Name)
	}
}

// Get returns the live binding named name.
func (f *Factory) Get(name string) (*Binding, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[name]
	return b, ok
}

// Bindings returns the live bindings.
func (f *Factory) Bindings() []*Binding {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Binding, 0, len(f.bindings))
	for _, b := range f.bindings {
		out = append(out, b)
	}
	return out
}

// Close revokes every binding and refuses new ones.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	bindings := make([]*Binding, 0, len(f.bindings))
	for _, b := range f.bindings {
		bindings = append(bindings, b)
	}
	f.mu.Unlock()

	var errs []error
	for _, b := range bindings {
		if err := b.Revoke(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
