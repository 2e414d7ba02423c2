package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the process-wide metrics: channel lifecycle, request outcomes, the NATS
// connection and tuple store operations.
type Metrics struct {
	ChannelsActive     prometheus.Gauge
	ChannelRevocations *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter

	StoreOperations *prometheus.CounterVec
}

// NewMetrics creates the core metrics, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuplestreams",
			Subsystem: "channel",
			Name:      "active",
			Help:      "Number of bound, unrevoked channels",
		}),
		ChannelRevocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "channel",
			Name:      "revocations_total",
			Help:      "Total number of channel revocations, by reason",
		}, []string{"reason"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "requests",
			Name:      "handled_total",
			Help:      "Total number of requests handled, by kind and outcome",
		}, []string{"kind", "outcome"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuplestreams",
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of tuple store operations, by backend, operation and status",
		}, []string{"backend", "operation", "status"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChannelsActive,
		m.ChannelRevocations,
		m.RequestsTotal,
		m.NATSConnected,
		m.NATSReconnects,
		m.StoreOperations,
	}
}

// RecordChannelBound counts a newly bound channel.
func (m *Metrics) RecordChannelBound() {
	m.ChannelsActive.Inc()
}

// RecordChannelRevoked counts a revocation. reason is "lease", "transport" or "closed".
func (m *Metrics) RecordChannelRevoked(reason string) {
	m.ChannelsActive.Dec()
	m.ChannelRevocations.WithLabelValues(reason).Inc()
}

// RecordRequest counts a handled request. outcome is "ok" or "error".
func (m *Metrics) RecordRequest(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordNATSStatus records the NATS connection state.
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect counts a reconnection.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordStoreOperation counts a store call.
func (m *Metrics) RecordStoreOperation(backend, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperations.WithLabelValues(backend, operation, status).Inc()
}
