// Package natsclient manages the NATS connection behind the KV tuple store.
//
// A Client connects with retries, trips a circuit breaker after repeated connection
// failures, tracks its status in the core metrics, and hands out JetStream key-value
// buckets wrapped as KVStore.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/pkg/retry"
)

// ConnectionStatus is the state of the NATS connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client manages one NATS connection.
type Client struct {
	urls   string
	logger *slog.Logger
	core   *metric.Metrics

	status     atomic.Value // ConnectionStatus
	failures   atomic.Int32
	backoff    atomic.Int64 // time.Duration
	threshold  int32
	maxBackoff time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	connectRetry  retry.Config

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed atomic.Bool
}

// NewClient creates a client for the comma-separated server URLs. It does not connect.
func NewClient(urls string, opts ...ClientOption) (*Client, error) {
	if urls == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsclient", "NewClient", "server URL is required")
	}
	c := &Client{
		urls:          urls,
		logger:        slog.Default(),
		threshold:     5,
		maxBackoff:    time.Minute,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		connectRetry:  retry.Config{MaxAttempts: 1},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)
	c.backoff.Store(int64(time.Second))
	return c, nil
}

// URL returns the configured server URLs.
func (c *Client) URL() string { return c.urls }

// Status returns the connection status.
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

// IsHealthy reports whether the client is connected.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
	if c.core != nil {
		c.core.RecordNATSStatus(s == StatusConnected)
	}
}

// recordFailure opens the circuit once threshold consecutive failures pile up. The
// circuit closes again after the backoff, which doubles each time up to maxBackoff.
func (c *Client) recordFailure() {
	if c.failures.Add(1) < c.threshold {
		return
	}
	current := c.Status()
	if current == StatusCircuitOpen || !c.status.CompareAndSwap(current, StatusCircuitOpen) {
		return
	}
	wait := time.Duration(c.backoff.Load())
	next := wait * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(int64(next))
	c.failures.Store(0)
	c.logger.Warn("NATS circuit breaker opened", "backoff", wait)

	time.AfterFunc(wait, func() {
		c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
	})
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.backoff.Store(int64(time.Second))
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect dials the servers, retrying per the connect retry policy, and sets up
// JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(ErrNotConnected, "natsclient", "Client.Connect", "client closed")
	}
	if c.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "natsclient", "Client.Connect", "circuit check")
	}

	cfg := c.connectRetry
	cfg.Retryable = func(err error) bool { return !stderrors.Is(err, ErrCircuitOpen) }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("NATS connect failed, retrying", "attempt", attempt, "retry_in", delay, "error", err)
	}

	c.setStatus(StatusConnecting)
	err := retry.Do(ctx, cfg, func() error {
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		conn, err := nats.Connect(c.urls, c.connectionOptions()...)
		if err != nil {
			c.recordFailure()
			return err
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return err
		}
		c.mu.Lock()
		c.conn, c.js = conn, js
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(err, "natsclient", "Client.Connect", "connect to "+c.urls)
	}

	c.resetCircuit()
	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.urls)
	return nil
}

// WaitForConnection blocks until the client is connected or ctx is done.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "natsclient", "Client.WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// Close drains the connection, bounded by the drain timeout and ctx. Later calls do
// nothing.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn, c.js = nil, nil
	c.mu.Unlock()
	if conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	drainDone := make(chan error, 1)
	go func() { drainDone <- conn.Drain() }()

	var err error
	select {
	case err = <-drainDone:
		if err != nil {
			err = errors.Wrap(err, "natsclient", "Client.Close", "drain connection")
		}
	case <-time.After(c.drainTimeout):
		err = errors.WrapTransient(fmt.Errorf("drain timeout after %v", c.drainTimeout),
			"natsclient", "Client.Close", "drain connection")
	case <-ctx.Done():
		err = errors.WrapTransient(ctx.Err(), "natsclient", "Client.Close", "drain connection")
	}
	conn.Close()
	c.setStatus(StatusDisconnected)
	return err
}

// JetStream returns the JetStream context of the live connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "natsclient", "Client.JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateKeyValueBucket returns the bucket named in cfg, creating it if needed.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		return bucket, nil
	}
	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if !isAlreadyExistsError(err) {
			return nil, errors.WrapTransient(err, "natsclient", "Client.CreateKeyValueBucket", "create bucket "+cfg.Bucket)
		}
		// Lost a creation race.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			return nil, errors.WrapTransient(err, "natsclient", "Client.CreateKeyValueBucket", "open bucket "+cfg.Bucket)
		}
	}
	c.logger.Info("Using KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

// DeleteKeyValueBucket deletes a bucket.
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if err := js.DeleteKeyValue(ctx, name); err != nil {
		return errors.WrapTransient(err, "natsclient", "Client.DeleteKeyValueBucket", "delete bucket "+name)
	}
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	if c.core != nil {
		c.core.RecordNATSReconnect()
	}
	c.logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "stream name already in use")
}
