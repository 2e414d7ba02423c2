package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"file path", "failed to open /etc/tuplestreams/config.yaml", "failed to open [PATH]"},
		{"NATS URL", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"HTTP URL", "fetch https://example.com/health failed", "fetch [URL] failed"},
		{"address with port", "dial udp 10.0.0.5:9000: connection refused", "dial udp [ADDR]: connection refused"},
		{"credential", "auth failed password=hunter2", "auth failed password=[REDACTED]"},
		{"plain message", "channel revoked", "channel revoked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestConstructors(t *testing.T) {
	h := Healthy("nats", "connected")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.False(t, h.Timestamp.IsZero())

	d := Degraded("nats", "reconnecting")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())

	u := Unhealthy("nats", "dial nats://10.0.0.1:4222 failed")
	assert.True(t, u.IsUnhealthy())
	assert.Equal(t, "dial [URL] failed", u.Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		subs  []Status
		state string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{Healthy("a", ""), Healthy("b", "")}, StateHealthy},
		{"one degraded", []Status{Healthy("a", ""), Degraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{Degraded("a", ""), Unhealthy("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Aggregate("system", tt.subs)
			assert.Equal(t, tt.state, s.State)
			assert.Equal(t, "system", s.Component)
			assert.Len(t, s.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{Healthy("a", "")}
	s := Aggregate("system", subs)
	subs[0].Message = "changed"
	assert.Empty(t, s.SubStatuses[0].Message)
}
