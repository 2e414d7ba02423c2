// Package datagram implements a tuple channel over a datagram transport.
//
// A Client owns one bound socket. Outbound tuples are encoded and sent to the remote
// address; inbound datagrams are decoded on a background read loop and handed to a
// pending-request registry through a worker pool. A Client is revoked at most once, by
// its owner, by lease loss, or by a transport failure, and stays revoked.
package datagram

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/tuplestreams/codec"
	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/pending"
	"github.com/c360/tuplestreams/pkg/worker"
	"github.com/c360/tuplestreams/transport"
	"github.com/c360/tuplestreams/tuple"
)

// Mode says which directions a channel carries.
type Mode string

const (
	ModeInput  Mode = "in"
	ModeOutput Mode = "out"
	ModeInOut  Mode = "inout"
)

// ParseMode validates a mode string. Empty means ModeInOut.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeInOut, nil
	case ModeInput, ModeOutput, ModeInOut:
		return Mode(s), nil
	default:
		return "", errors.Validationf("datagram", "ParseMode", "unknown channel mode %q", s)
	}
}

// Input reports whether the mode receives tuples.
func (m Mode) Input() bool { return m == ModeInput || m == ModeInOut }

// Output reports whether the mode sends tuples.
func (m Mode) Output() bool { return m == ModeOutput || m == ModeInOut }

// Config tunes a Client.
type Config struct {
	Mode Mode
	// PollInterval bounds each socket read so the loop notices revocation.
	PollInterval time.Duration
	// SendRate limits sends per second. Zero disables limiting.
	SendRate  float64
	SendBurst int
	// DeliveryWorkers and DeliveryQueue size the pool that hands tuples to the registry.
	DeliveryWorkers int
	DeliveryQueue   int
	// StopTimeout bounds how long Revoke waits for the read loop and deliveries.
	StopTimeout time.Duration
}

// DefaultConfig returns the settings used for zero fields.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeInOut,
		PollInterval:    100 * time.Millisecond,
		DeliveryWorkers: 1,
		DeliveryQueue:   1024,
		StopTimeout:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DeliveryWorkers <= 0 {
		c.DeliveryWorkers = d.DeliveryWorkers
	}
	if c.DeliveryQueue <= 0 {
		c.DeliveryQueue = d.DeliveryQueue
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// Deps holds the Client's collaborators.
type Deps struct {
	Name      string
	Transport transport.Transport
	// Remote is where sends go. Nil makes the channel input-only.
	Remote net.Addr
	Codec  codec.Codec
	// Pending receives decoded tuples and serves read, listen and remove requests.
	// Required for input modes.
	Pending         *pending.Manager
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger
	// OnRevoke runs once, after teardown, with the revocation cause (nil when revoked
	// by the owner).
	OnRevoke func(cause error)
}

// Stats are the Client's counters.
type Stats struct {
	PacketsSent     int64 `json:"packets_sent"`
	BytesSent       int64 `json:"bytes_sent"`
	SendErrors      int64 `json:"send_errors"`
	PacketsReceived int64 `json:"packets_received"`
	BytesReceived   int64 `json:"bytes_received"`
	DecodeErrors    int64 `json:"decode_errors"`
	Dropped         int64 `json:"dropped"`
}

// Client is a datagram tuple channel.
type Client struct {
	name     string
	cfg      Config
	remote   net.Addr
	codec    codec.Codec
	pending  *pending.Manager
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *clientMetrics
	registry *metric.MetricsRegistry
	onRevoke func(error)

	// mu guards the socket reference and the revoked flag together.
	mu       sync.Mutex
	sock     transport.Transport
	revoked  bool
	started  bool
	stop     chan struct{}
	torndown chan struct{}
	loopDone chan struct{}
	cancel   context.CancelFunc
	pool     *worker.Pool[*tuple.Tuple]

	packetsSent     atomic.Int64
	bytesSent       atomic.Int64
	sendErrors      atomic.Int64
	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	decodeErrors    atomic.Int64
	dropped         atomic.Int64
}

// NewClient creates a Client over an already bound transport. Call Start to begin
// receiving.
func NewClient(cfg Config, deps Deps) (*Client, error) {
	cfg = cfg.withDefaults()
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "datagram", "NewClient", "transport is required")
	}
	if cfg.Mode.Input() && deps.Pending == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "datagram", "NewClient", "input channels need a pending registry")
	}
	switch {
	case cfg.Mode == ModeOutput && deps.Remote == nil:
		return nil, errors.Validationf("datagram", "NewClient", "output channel %q has no remote address", deps.Name)
	case deps.Remote == nil:
		cfg.Mode = ModeInput
	case cfg.Mode == ModeInput:
		deps.Remote = nil
	}
	if deps.Codec == nil {
		deps.Codec = codec.JSON{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		name:     deps.Name,
		cfg:      cfg,
		remote:   deps.Remote,
		codec:    deps.Codec,
		pending:  deps.Pending,
		logger:   logger.With("component", "datagram-channel", "channel", deps.Name),
		registry: deps.MetricsRegistry,
		onRevoke: deps.OnRevoke,
		sock:     deps.Transport,
		stop:     make(chan struct{}),
		torndown: make(chan struct{}),
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}

	metrics, err := newClientMetrics(deps.MetricsRegistry, deps.Name)
	if err != nil {
		return nil, errors.WrapFatal(err, "datagram", "NewClient", "metrics registration")
	}
	c.metrics = metrics
	if c.registry != nil {
		c.registry.CoreMetrics().RecordChannelBound()
	}
	return c, nil
}

// Name returns the channel name.
func (c *Client) Name() string { return c.name }

// Mode returns the channel's directions.
func (c *Client) Mode() Mode { return c.cfg.Mode }

// LocalAddr returns the bound address, or nil once revoked.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return nil
	}
	return c.sock.LocalAddr()
}

// Start launches the read loop and delivery pool for input channels. Output-only
// channels have nothing to start.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.revoked {
		return errors.Revoked("datagram", "Client.Start")
	}
	if c.started {
		return nil
	}
	c.started = true
	if !c.cfg.Mode.Input() {
		return nil
	}

	poolName := ""
	if c.registry != nil {
		poolName = "channel." + c.name
	}
	pool, err := worker.NewPool(c.cfg.DeliveryWorkers, c.cfg.DeliveryQueue, c.deliver,
		worker.WithMetricsRegistry[*tuple.Tuple](c.registry, poolName),
		worker.WithErrorHandler(func(t *tuple.Tuple, err error) {
			c.logger.Debug("Tuple delivery failed", "tuple", t.ID(), "error", err)
		}))
	if err != nil {
		return errors.WrapFatal(err, "datagram", "Client.Start", "create delivery pool")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := pool.Start(runCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "datagram", "Client.Start", "start delivery pool")
	}
	c.pool = pool
	c.cancel = cancel
	c.loopDone = make(chan struct{})

	go c.readLoop(c.loopDone)
	c.logger.Info("Channel receiving", "local", c.sock.LocalAddr(), "mode", c.cfg.Mode)
	return nil
}

func (c *Client) deliver(ctx context.Context, t *tuple.Tuple) error {
	_, err := c.pending.TupleArrived(ctx, t)
	return err
}

// readLoop polls the socket until revocation or a hard transport error.
func (c *Client) readLoop(done chan struct{}) {
	var cause error
	defer func() {
		close(done)
		if cause != nil {
			c.revoke(cause, "transport")
		}
	}()

	for {
		c.mu.Lock()
		sock, revoked := c.sock, c.revoked
		c.mu.Unlock()
		if revoked || sock == nil {
			return
		}

		data, _, err := sock.Receive(c.cfg.PollInterval)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if c.Revoked() {
				return
			}
			c.logger.Error("Channel receive failed", "error", err)
			cause = errors.Transport(err, "datagram", "Client.readLoop", "receive datagram")
			return
		}

		c.packetsReceived.Add(1)
		c.bytesReceived.Add(int64(len(data)))
		c.metrics.recordReceived(len(data))

		t, err := c.codec.Decode(data)
		if err != nil {
			c.decodeErrors.Add(1)
			c.metrics.recordDecodeError()
			c.logger.Debug("Dropping undecodable datagram", "bytes", len(data), "error", err)
			continue
		}

		if err := c.pool.Submit(t); err != nil {
			c.dropped.Add(1)
			c.metrics.recordDropped()
			c.logger.Debug("Dropping tuple", "tuple", t.ID(), "error", err)
		}
	}
}

// Send encodes t and sends it to the remote address.
func (c *Client) Send(ctx context.Context, t *tuple.Tuple) error {
	if c.remote == nil {
		return errors.Unsupportedf("datagram", "Client.Send", "channel %q is input-only", c.name)
	}
	if c.Revoked() {
		return errors.Revoked("datagram", "Client.Send")
	}

	data, err := c.codec.Encode(t)
	if err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.WrapTransient(err, "datagram", "Client.Send", "wait for send rate")
		}
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return errors.Revoked("datagram", "Client.Send")
	}

	if err := sock.Send(data, c.remote); err != nil {
		c.sendErrors.Add(1)
		c.metrics.recordSendError()
		// A send racing with revocation reports the revocation, not the closed socket.
		if c.Revoked() {
			return errors.Revoked("datagram", "Client.Send")
		}
		sendErr := errors.Transport(err, "datagram", "Client.Send", "send datagram")
		c.revoke(sendErr, "transport")
		return sendErr
	}

	c.packetsSent.Add(1)
	c.bytesSent.Add(int64(len(data)))
	c.metrics.recordSent(len(data))
	return nil
}

// Handle serves a request addressed to the channel. Outputs are sent; reads, listens
// and removes go to the pending registry. Every outcome is reported to the request's
// source.
func (c *Client) Handle(ctx context.Context, req event.Request) {
	if err := req.Validate(); err != nil {
		req.Fail(err)
		return
	}
	if c.Revoked() {
		req.Fail(errors.Revoked("datagram", "Client.Handle"))
		return
	}

	switch r := req.(type) {
	case *event.OutputRequest:
		if err := c.Send(ctx, r.Tuple); err != nil {
			r.Fail(err)
			return
		}
		r.Reply(&event.OutputResponse{})
	case *event.ReadRequest, *event.ListenRequest, *event.RemoveRequest:
		if !c.cfg.Mode.Input() {
			req.Fail(errors.Unsupportedf("datagram", "Client.Handle", "channel %q is output-only", c.name))
			return
		}
		c.pending.Handle(ctx, req)
	default:
		req.Fail(errors.Unsupportedf("datagram", "Client.Handle", "channels do not serve %s requests", req.Kind()))
	}
}

// Revoked reports whether the channel has been revoked.
func (c *Client) Revoked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revoked
}

// Revoke shuts the channel down. Only the first call does the work; concurrent calls wait
// for it. Once any call returns, no further results are delivered. A delivery handler
// that revokes its own channel waits up to StopTimeout.
func (c *Client) Revoke() error {
	c.revoke(nil, "closed")
	return nil
}

// RevokeWithCause revokes the channel on behalf of a failure outside it, such as the
// loss of the channel lease. reason labels the revocation in logs and metrics.
func (c *Client) RevokeWithCause(reason string, cause error) {
	c.revoke(cause, reason)
}

func (c *Client) revoke(cause error, reason string) {
	c.mu.Lock()
	if c.revoked {
		c.mu.Unlock()
		<-c.torndown
		return
	}
	c.revoked = true
	close(c.stop)
	loopDone, pool, cancel := c.loopDone, c.pool, c.cancel
	c.mu.Unlock()

	if loopDone != nil {
		select {
		case <-loopDone:
		case <-time.After(c.cfg.StopTimeout):
			c.logger.Warn("Read loop did not stop in time", "timeout", c.cfg.StopTimeout)
		}
	}

	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()
	if sock != nil {
		if err := sock.Close(); err != nil {
			c.logger.Debug("Socket close failed", "error", err)
		}
	}

	// Cancel first so a delivery blocked in the registry returns. Queued tuples are dropped.
	if cancel != nil {
		cancel()
	}
	if pool != nil {
		if err := pool.Stop(c.cfg.StopTimeout); err != nil {
			c.logger.Warn("Delivery pool did not stop in time", "error", err)
		}
	}
	if c.pending != nil {
		ctx, stop := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
		c.pending.Close(ctx)
		stop()
	}
	if c.registry != nil {
		c.registry.UnregisterService("channel." + c.name)
		c.registry.UnregisterService("worker_pool.channel." + c.name)
		c.registry.CoreMetrics().RecordChannelRevoked(reason)
	}
	close(c.torndown)

	if cause != nil {
		c.logger.Warn("Channel revoked", "reason", reason, "error", cause)
	} else {
		c.logger.Info("Channel revoked", "reason", reason)
	}
	if c.onRevoke != nil {
		c.onRevoke(cause)
	}
}

// Done is closed when revocation starts.
func (c *Client) Done() <-chan struct{} { return c.stop }

// Stats returns a snapshot of the channel counters.
func (c *Client) Stats() Stats {
	return Stats{
		PacketsSent:     c.packetsSent.Load(),
		BytesSent:       c.bytesSent.Load(),
		SendErrors:      c.sendErrors.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		DecodeErrors:    c.decodeErrors.Load(),
		Dropped:         c.dropped.Load(),
	}
}
