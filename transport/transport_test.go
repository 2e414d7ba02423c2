package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tuplestreams/pkg/retry"
)

func TestUDP_SendReceive(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send([]byte("hello"), b.LocalAddr()))

	data, from, err := b.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, a.LocalAddr().String(), from.String())
}

func TestUDP_ReceiveTimeout(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer u.Close()

	_, _, err = u.Receive(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestUDP_ClosedIsNotTimeout(t *testing.T) {
	u, err := ListenUDP("127.0.0.1:0", nil)
	require.NoError(t, err)
	require.NoError(t, u.Close())

	_, _, err = u.Receive(10 * time.Millisecond)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, u.Send([]byte("x"), u.LocalAddr()), net.ErrClosed)
}

func TestResolveUDP(t *testing.T) {
	addr, err := ResolveUDP("127.0.0.1:9999")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", addr.String())

	_, err = ResolveUDP("not an address")
	assert.Error(t, err)
}

func TestMemory_SendReceive(t *testing.T) {
	n := NewMemoryNetwork(4)
	a, err := n.Listen("a")
	require.NoError(t, err)
	b, err := n.Listen("b")
	require.NoError(t, err)

	_, err = n.Listen("a")
	assert.Error(t, err, "address in use")

	payload := []byte("tuple")
	require.NoError(t, a.Send(payload, MemoryAddr("b")))
	payload[0] = 'X'

	data, from, err := b.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("tuple"), data, "sent data is copied")
	assert.Equal(t, MemoryAddr("a"), from)

	require.NoError(t, a.Send([]byte("lost"), MemoryAddr("nobody")), "unknown destinations drop silently")
}

func TestMemory_TimeoutAndClose(t *testing.T) {
	n := NewMemoryNetwork(0)
	m, err := n.Listen("m")
	require.NoError(t, err)

	_, _, err = m.Receive(5 * time.Millisecond)
	assert.True(t, IsTimeout(err))

	done := make(chan error, 1)
	go func() {
		_, _, err := m.Receive(time.Minute)
		done <- err
	}()
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
		assert.False(t, IsTimeout(err))
	case <-time.After(time.Second):
		t.Fatal("close did not wake receive")
	}

	assert.ErrorIs(t, m.Close(), ErrClosed)
	assert.ErrorIs(t, m.Send(nil, MemoryAddr("m")), ErrClosed)

	_, err = n.Listen("m")
	assert.NoError(t, err, "closing releases the address")
}

func TestMemory_InjectedFailures(t *testing.T) {
	n := NewMemoryNetwork(1)
	m, err := n.Listen("m")
	require.NoError(t, err)

	boom := errors.New("boom")
	m.FailSends(boom)
	assert.ErrorIs(t, m.Send([]byte("x"), MemoryAddr("m")), boom)

	m.FailReceives(boom)
	_, _, err = m.Receive(time.Millisecond)
	assert.ErrorIs(t, err, boom)

	assert.True(t, m.Inject([]byte("1"), MemoryAddr("z")))
	assert.False(t, m.Inject([]byte("2"), MemoryAddr("z")), "full queue drops")
}

func TestBind_Retries(t *testing.T) {
	n := NewMemoryNetwork(0)
	held, err := n.Listen("busy")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held.Close()
	}()

	cfg := retry.Config{MaxAttempts: 20, InitialDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond}
	tr, err := Bind(context.Background(), cfg, n.Binder(), "busy")
	require.NoError(t, err)
	assert.Equal(t, "busy", tr.LocalAddr().String())

	_, err = Bind(context.Background(), retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, n.Binder(), "busy")
	assert.Error(t, err)
}
