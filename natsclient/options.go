package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/tuplestreams/metric"
	"github.com/c360/tuplestreams/pkg/retry"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection status and reconnects in the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.core = registry.CoreMetrics()
		}
		return nil
	}
}

// WithMaxReconnects sets the reconnection attempts after a connection is lost. -1 is
// unlimited.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnection attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("negative reconnect wait %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithName sets the client name shown by the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithConnectRetry retries the initial connection.
func WithConnectRetry(cfg retry.Config) ClientOption {
	return func(c *Client) error {
		c.connectRetry = cfg
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many consecutive failures open the circuit.
func WithCircuitBreakerThreshold(n int32) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			n = 5
		}
		c.threshold = n
		return nil
	}
}
