package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// MemoryAddr names an endpoint on a MemoryNetwork.
type MemoryAddr string

// Network returns "memory".
func (MemoryAddr) Network() string { return "memory" }

func (a MemoryAddr) String() string { return string(a) }

// MemoryNetwork is an in-process datagram network. Endpoints are found by name and
// datagrams to unknown or full endpoints are dropped, like UDP.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*Memory
	queueSize int
}

// NewMemoryNetwork creates a network whose endpoints buffer queueSize datagrams.
func NewMemoryNetwork(queueSize int) *MemoryNetwork {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &MemoryNetwork{endpoints: make(map[string]*Memory), queueSize: queueSize}
}

// Listen creates an endpoint. Binding a name in use fails.
func (n *MemoryNetwork) Listen(name string) (*Memory, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[name]; exists {
		return nil, fmt.Errorf("memory address %s already in use", name)
	}
	m := &Memory{
		network: n,
		addr:    MemoryAddr(name),
		inbox:   make(chan datagram, n.queueSize),
		closed:  make(chan struct{}),
	}
	n.endpoints[name] = m
	return m, nil
}

// Binder returns a Binder that opens endpoints on n.
func (n *MemoryNetwork) Binder() Binder {
	return func(local string) (Transport, error) {
		return n.Listen(local)
	}
}

// Resolve returns the address of the endpoint named remote. The endpoint need not exist
// yet.
func (n *MemoryNetwork) Resolve(remote string) (net.Addr, error) {
	if remote == "" {
		return nil, fmt.Errorf("empty memory address")
	}
	return MemoryAddr(remote), nil
}

func (n *MemoryNetwork) lookup(name string) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[name]
}

func (n *MemoryNetwork) release(m *Memory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[string(m.addr)] == m {
		delete(n.endpoints, string(m.addr))
	}
}

type datagram struct {
	data []byte
	from net.Addr
}

// Memory is a Transport on a MemoryNetwork.
type Memory struct {
	network *MemoryNetwork
	addr    MemoryAddr
	inbox   chan datagram

	mu       sync.Mutex
	sendErr  error
	recvErr  error
	closed   chan struct{}
	isClosed bool
}

var _ Transport = (*Memory)(nil)

// LocalAddr returns the endpoint's address.
func (m *Memory) LocalAddr() net.Addr { return m.addr }

// FailSends makes every later Send return err. A nil err restores normal sends.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// FailReceives makes every later Receive return err. A nil err restores normal receives.
func (m *Memory) FailReceives(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvErr = err
}

// Inject queues a datagram as if it came from from.
func (m *Memory) Inject(data []byte, from net.Addr) bool {
	select {
	case m.inbox <- datagram{data: append([]byte(nil), data...), from: from}:
		return true
	default:
		return false
	}
}

// Send delivers a copy of data to the endpoint named by to.
func (m *Memory) Send(data []byte, to net.Addr) error {
	m.mu.Lock()
	closed, sendErr := m.isClosed, m.sendErr
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sendErr != nil {
		return sendErr
	}

	if dst := m.network.lookup(to.String()); dst != nil {
		dst.Inject(data, m.addr)
	}
	return nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "memory transport: receive timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Receive waits up to timeout for a datagram.
func (m *Memory) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	m.mu.Lock()
	recvErr := m.recvErr
	m.mu.Unlock()
	if recvErr != nil {
		return nil, nil, recvErr
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-m.inbox:
		return d.data, d.from, nil
	case <-m.closed:
		return nil, nil, ErrClosed
	case <-timer.C:
		return nil, nil, timeoutError{}
	}
}

// Close releases the address and wakes a blocked Receive.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed {
		return ErrClosed
	}
	m.isClosed = true
	close(m.closed)
	m.network.release(m)
	return nil
}
