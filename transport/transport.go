// Package transport moves raw datagrams. A Transport is one bound socket: it sends to an
// address and receives with a bounded wait so receive loops can poll for shutdown.
package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/c360/tuplestreams/pkg/retry"
)

// Transport is a bound datagram endpoint. Receive is not safe for concurrent use; Send
// and Close are.
type Transport interface {
	LocalAddr() net.Addr
	// Send writes one datagram to addr.
	Send(data []byte, to net.Addr) error
	// Receive waits up to timeout for one datagram. An expired wait returns an error
	// for which IsTimeout is true.
	Receive(timeout time.Duration) ([]byte, net.Addr, error)
	Close() error
}

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = net.ErrClosed

// IsTimeout reports whether err is an expired receive wait.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Binder opens a transport on a local address.
type Binder func(local string) (Transport, error)

// Bind opens a transport with retries, for ports that are briefly unavailable.
func Bind(ctx context.Context, cfg retry.Config, bind Binder, local string) (Transport, error) {
	var t Transport
	err := retry.Do(ctx, cfg, func() error {
		var err error
		t, err = bind(local)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
