package pending

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/event"
	"github.com/c360/tuplestreams/lease"
	"github.com/c360/tuplestreams/metric"
	tu "github.com/c360/tuplestreams/testutil"
	"github.com/c360/tuplestreams/tuple"
)

func newTestManager(t *testing.T, coll Collection, leases lease.Acquirer) *Manager {
	t.Helper()
	m, err := NewManager(Config{}, Deps{Name: "test", Collection: coll, Leases: leases})
	require.NoError(t, err)
	return m
}

func TestManager_ReadScenario(t *testing.T) {
	leases := tu.NewManualAcquirer(true)
	m := newTestManager(t, NewRegistry(4), leases)
	rec := tu.NewRecorder()

	read := &event.ReadRequest{Header: rec.Header(), Query: tuple.Field("name", "baz"), Timeout: time.Minute}
	read.Closure = "mine"
	m.Handle(context.Background(), read)
	require.Equal(t, 1, m.Len())
	require.Equal(t, 1, leases.Live())

	tup := tuple.New("").MustSet("name", "baz")
	n, err := m.TupleArrived(context.Background(), tup)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	responses := rec.Responses()
	require.Len(t, responses, 1)
	in := responses[0].(*event.InputResponse)
	assert.Same(t, tup, in.Tuple)
	assert.Equal(t, "mine", in.Closure)

	_, ok := m.Remove(read.ID)
	assert.False(t, ok, "remove after a match finds nothing")
	assert.Equal(t, 0, leases.Live(), "the matched read released its lease")
	assert.Equal(t, 1, rec.Len(), "lease release does not produce a second response")
}

func TestManager_ReadMatchesOnlyItsTuple(t *testing.T) {
	collections := map[string]func() Collection{
		"concurrent": func() Collection { return NewRegistry(4) },
		"sync":       func() Collection { return NewSyncRegistry(time.Second) },
	}
	for name, newColl := range collections {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t, newColl(), tu.NewManualAcquirer(true))
			rec := tu.NewRecorder()

			read := &event.ReadRequest{Header: rec.Header(), Query: tuple.Field("name", "baz"), Timeout: time.Minute}
			m.Handle(context.Background(), read)
			// Keeps the sync registry from waiting once the read is gone.
			idle := tu.NewRecorder()
			m.Handle(context.Background(), &event.ListenRequest{
				Header: idle.Header(), Query: tuple.Field("name", "never"), Duration: time.Minute,
			})

			for _, name := range []string{"foo", "bar", "baz", "quux"} {
				_, err := m.TupleArrived(context.Background(), tuple.New("").MustSet("name", name))
				require.NoError(t, err)
			}

			responses := rec.Responses()
			require.Len(t, responses, 1)
			got, _ := responses[0].(*event.InputResponse).Tuple.Get("name")
			assert.Equal(t, "baz", got)

			_, ok := m.Remove(read.ID)
			assert.False(t, ok, "the read left the registry when it matched")
			assert.Equal(t, 1, idle.Len(), "only the listen acknowledgement")
		})
	}
}

func TestManager_ExpiryRacingMatchRespondsOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		leases := tu.NewManualAcquirer(true)
		m := newTestManager(t, NewRegistry(4), leases)
		rec := tu.NewRecorder()

		m.Handle(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Minute})
		l := leases.Requests()[0].Lease

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			leases.Expire(l)
		}()
		go func() {
			defer wg.Done()
			_, err := m.TupleArrived(context.Background(), tuple.New(""))
			assert.NoError(t, err)
		}()
		wg.Wait()

		require.Equal(t, 1, rec.Len(), "iteration %d", i)
		assert.IsType(t, &event.InputResponse{}, rec.Responses()[0])
		assert.Equal(t, 0, m.Len())
	}
}

func TestManager_ReadExpiresWithEmptyResult(t *testing.T) {
	leases := tu.NewManualAcquirer(true)
	m := newTestManager(t, NewRegistry(4), leases)
	rec := tu.NewRecorder()

	m.Handle(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Second})
	l := leases.Requests()[0].Lease

	require.True(t, leases.Expire(l))
	assert.False(t, leases.Expire(l))

	responses := rec.Responses()
	require.Len(t, responses, 1)
	in := responses[0].(*event.InputResponse)
	assert.Nil(t, in.Tuple, "expired read gets no result")
	assert.Equal(t, 0, m.Len())

	_, err := m.TupleArrived(context.Background(), tuple.New(""))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Len(), "an expired read receives nothing further")
}

func TestManager_ListenAcknowledgedAndExpiresSilently(t *testing.T) {
	leases := tu.NewManualAcquirer(true)
	m := newTestManager(t, NewSyncRegistry(time.Second), leases)
	rec := tu.NewRecorder()

	m.Handle(context.Background(), &event.ListenRequest{Header: rec.Header(), Query: tuple.Empty(), Duration: time.Minute})

	responses := rec.Responses()
	require.Len(t, responses, 1)
	ack := responses[0].(*event.ListenResponse)
	assert.Equal(t, time.Minute, ack.Duration)
	assert.False(t, ack.Lease.IsZero())

	_, err := m.TupleArrived(context.Background(), tuple.New(""))
	require.NoError(t, err)
	require.Equal(t, 2, rec.Len())

	require.True(t, leases.Expire(ack.Lease))
	assert.Equal(t, 2, rec.Len(), "listen expiry sends nothing")
	assert.Equal(t, 0, m.Len())
}

func TestManager_LeaseDenied(t *testing.T) {
	leases := tu.NewManualAcquirer(false)
	m := newTestManager(t, NewRegistry(4), leases)
	rec := tu.NewRecorder()

	m.Handle(context.Background(), &event.ListenRequest{Header: rec.Header(), Query: tuple.Empty(), Duration: time.Minute})
	leases.Deny(0, fmt.Errorf("%w: quota", errors.ErrLeaseDenied))

	responses := rec.Responses()
	require.Len(t, responses, 1)
	ex := responses[0].(*event.ExceptionalResponse)
	assert.ErrorIs(t, ex.Err, errors.ErrLeaseDenied)
	assert.Equal(t, 0, m.Len())
}

func TestManager_GrantAfterMatchIsReleased(t *testing.T) {
	leases := tu.NewManualAcquirer(false)
	m := newTestManager(t, NewRegistry(4), leases)
	rec := tu.NewRecorder()

	m.Handle(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Second})
	_, err := m.TupleArrived(context.Background(), tuple.New(""))
	require.NoError(t, err)

	l := leases.Grant(0)
	assert.Equal(t, []lease.Lease{l}, leases.Canceled())
	assert.Equal(t, 1, rec.Len())
}

func TestManager_RemoveRequest(t *testing.T) {
	leases := tu.NewManualAcquirer(true)
	m := newTestManager(t, NewRegistry(4), leases)
	rec := tu.NewRecorder()

	read := &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Second}
	m.Handle(context.Background(), read)

	remover := tu.NewRecorder()
	m.Handle(context.Background(), &event.RemoveRequest{Header: remover.Header(), Target: read.ID})
	m.Handle(context.Background(), &event.RemoveRequest{Header: remover.Header(), Target: read.ID})

	acks := remover.Responses()
	require.Len(t, acks, 2)
	assert.True(t, acks[0].(*event.RemoveResponse).Removed)
	assert.False(t, acks[1].(*event.RemoveResponse).Removed)
	assert.Equal(t, 0, leases.Live())
	assert.Equal(t, 0, rec.Len(), "an explicitly removed read gets no response")
}

func TestManager_UnsupportedAndInvalid(t *testing.T) {
	m := newTestManager(t, NewRegistry(4), nil)
	rec := tu.NewRecorder()

	m.Handle(context.Background(), &event.QueryRequest{Header: rec.Header(), Query: tuple.Empty()})
	m.Handle(context.Background(), &event.OutputRequest{Header: rec.Header(), Tuple: tuple.New("")})
	m.Handle(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty()})

	responses := rec.Responses()
	require.Len(t, responses, 3)
	assert.ErrorIs(t, responses[0].(*event.ExceptionalResponse).Err, errors.ErrUnsupported)
	assert.ErrorIs(t, responses[1].(*event.ExceptionalResponse).Err, errors.ErrUnsupported)
	assert.ErrorIs(t, responses[2].(*event.ExceptionalResponse).Err, errors.ErrValidation)

	err := m.AddLeased(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Second})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestManager_UnleasedAdd(t *testing.T) {
	m := newTestManager(t, NewRegistry(4), nil)
	rec := tu.NewRecorder()

	listen := &event.ListenRequest{Header: rec.Header(), Query: tuple.Empty(), Duration: time.Millisecond}
	m.Handle(context.Background(), listen)
	require.Equal(t, 1, rec.Len())
	assert.True(t, rec.Responses()[0].(*event.ListenResponse).Lease.IsZero())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, m.Len(), "unleased requests never expire")

	_, ok := m.Remove(listen.ID)
	assert.True(t, ok)
}

func TestManager_Close(t *testing.T) {
	leases := tu.NewManualAcquirer(true)
	m := newTestManager(t, NewRegistry(4), leases)
	rec := tu.NewRecorder()

	m.Handle(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Minute})
	m.Handle(context.Background(), &event.ListenRequest{Header: rec.Header(), Query: tuple.Empty(), Duration: time.Minute})
	require.Equal(t, 1, rec.Len(), "listen ack")

	m.Close(context.Background())
	m.Close(context.Background())

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, leases.Live())
	assert.Len(t, leases.Canceled(), 2)

	responses := rec.Responses()
	require.Len(t, responses, 2, "only the read is told it ended")
	assert.Nil(t, responses[1].(*event.InputResponse).Tuple)

	_, err := m.TupleArrived(context.Background(), tuple.New(""))
	assert.ErrorIs(t, err, errors.ErrRevoked)

	m.Handle(context.Background(), &event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Minute})
	last := rec.Responses()[rec.Len()-1]
	assert.ErrorIs(t, last.(*event.ExceptionalResponse).Err, errors.ErrRevoked)
}

func TestManager_WithLeaseManager(t *testing.T) {
	leases, err := lease.NewManager(lease.ManagerDeps{})
	require.NoError(t, err)
	defer leases.Close(context.Background())

	m := newTestManager(t, NewRegistry(4), leases)
	reader := tu.NewRecorder()
	listener := tu.NewRecorder()

	m.Handle(context.Background(), &event.ReadRequest{Header: reader.Header(), Query: tuple.Empty(), Timeout: 30 * time.Millisecond})
	m.Handle(context.Background(), &event.ListenRequest{Header: listener.Header(), Query: tuple.Empty(), Duration: 30 * time.Millisecond})

	got := reader.WaitFor(t, 1, 2*time.Second)
	assert.Nil(t, got[0].(*event.InputResponse).Tuple)

	listener.WaitFor(t, 1, 2*time.Second)
	assert.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, listener.Len(), "listen expiry sends nothing beyond its ack")
	assert.Equal(t, 1, reader.Len())
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, err := NewManager(Config{}, Deps{Name: "metrics", Collection: NewRegistry(2), MetricsRegistry: registry})
	require.NoError(t, err)
	rec := tu.NewRecorder()

	_, err = m.Add(&event.ReadRequest{Header: rec.Header(), Query: tuple.Empty(), Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.pending))

	_, err = m.TupleArrived(context.Background(), tuple.New(""))
	require.NoError(t, err)
	_, err = m.TupleArrived(context.Background(), tuple.New(""))
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.metrics.arrivals))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.delivered))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.unmatched))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.metrics.pending))

	_, err = NewManager(Config{}, Deps{Name: "metrics", Collection: NewRegistry(2), MetricsRegistry: registry})
	assert.Error(t, err, "duplicate registry names collide")
}
