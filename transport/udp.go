package transport

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// socketBufferSize is the OS read buffer requested for UDP sockets.
const socketBufferSize = 2 * 1024 * 1024

// UDP is a Transport over a UDP socket.
type UDP struct {
	conn   *net.UDPConn
	buf    []byte
	logger *slog.Logger
}

var _ Transport = (*UDP)(nil)

// ListenUDP binds a UDP socket on local ("host:port"; port 0 picks a free port).
func ListenUDP(local string, logger *slog.Logger) (*UDP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", local, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", local, err)
	}

	// Some systems cap the buffer size; run with the default then.
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		logger.Warn("Could not set UDP buffer size",
			"buffer_size", socketBufferSize,
			"local", local,
			"error", err)
	}

	return &UDP{
		conn:   conn,
		buf:    make([]byte, 65536),
		logger: logger,
	}, nil
}

// UDPBinder returns a Binder that opens UDP transports.
func UDPBinder(logger *slog.Logger) Binder {
	return func(local string) (Transport, error) {
		return ListenUDP(local, logger)
	}
}

// ResolveUDP resolves a remote "host:port".
func ResolveUDP(remote string) (net.Addr, error) {
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", remote, err)
	}
	return addr, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Send writes one datagram.
func (u *UDP) Send(data []byte, to net.Addr) error {
	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", to.String())
		if err != nil {
			return fmt.Errorf("failed to resolve UDP address %s: %w", to, err)
		}
		udpAddr = resolved
	}
	_, err := u.conn.WriteToUDP(data, udpAddr)
	return err
}

// Receive reads one datagram, waiting at most timeout. The returned slice is a copy.
func (u *UDP) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	n, from, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, n)
	copy(data, u.buf[:n])
	return data, from, nil
}

// Close closes the socket.
func (u *UDP) Close() error { return u.conn.Close() }
