package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SetAndWatch(t *testing.T) {
	m := NewMonitor()
	m.Set("channel/sink", Healthy("ignored", "bound"))

	var calls atomic.Int32
	m.Watch("nats", func() Status {
		calls.Add(1)
		return Degraded("", "reconnecting")
	})

	s, ok := m.Get("channel/sink")
	require.True(t, ok)
	assert.Equal(t, "channel/sink", s.Component, "name overrides the status component")

	s, ok = m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", s.Component)
	assert.True(t, s.IsDegraded())

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "channel/sink", all[0].Component)
	assert.Equal(t, "nats", all[1].Component)
	assert.Equal(t, int32(2), calls.Load(), "checks run on every read")

	assert.True(t, m.Aggregate("tuplestreams").IsDegraded())

	m.Set("nats", Healthy("", "replaced"))
	s, _ = m.Get("nats")
	assert.Equal(t, "replaced", s.Message)
	assert.Equal(t, int32(3), calls.Load(), "set replaces the check")

	m.Remove("nats")
	m.Remove("channel/sink")
	_, ok = m.Get("nats")
	assert.False(t, ok)
	assert.Empty(t, m.All())
}

func TestHandler(t *testing.T) {
	m := NewMonitor()
	m.Set("channel/sink", Healthy("", "bound"))

	get := func() (*httptest.ResponseRecorder, Status) {
		rec := httptest.NewRecorder()
		Handler(m, "tuplestreams").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var s Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
		return rec, s
	}

	rec, s := get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, s.Healthy)
	require.Len(t, s.SubStatuses, 1)

	m.Set("channel/sink", Unhealthy("", "revoked"))
	rec, s = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StateUnhealthy, s.State)
}
