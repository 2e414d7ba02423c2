package lease

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/tuplestreams/metric"
)

// leaseMetrics holds Prometheus metrics for the lease manager.
type leaseMetrics struct {
	active  prometheus.Gauge
	granted prometheus.Counter
	denied  prometheus.Counter
	ended   *prometheus.CounterVec // reason: expired, canceled
}

// newLeaseMetrics registers lease metrics. A nil registry disables them.
func newLeaseMetrics(registry *metric.MetricsRegistry) (*leaseMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &leaseMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuplestreams",
			Subsystem: "lease",
			Name:      "active",
			Help:      "Number of live leases",
		}),
		granted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "lease",
			Name:      "granted_total",
			Help:      "Total number of leases granted",
		}),
		denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "lease",
			Name:      "denied_total",
			Help:      "Total number of lease requests denied",
		}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuplestreams",
			Subsystem: "lease",
			Name:      "ended_total",
			Help:      "Total number of leases ended, by reason",
		}, []string{"reason"}),
	}

	if err := registry.RegisterGauge("lease", "active", m.active); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("lease", "granted_total", m.granted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("lease", "denied_total", m.denied); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("lease", "ended_total", m.ended); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *leaseMetrics) recordGranted(active int) {
	if m == nil {
		return
	}
	m.granted.Inc()
	m.active.Set(float64(active))
}

func (m *leaseMetrics) recordDenied() {
	if m == nil {
		return
	}
	m.denied.Inc()
}

func (m *leaseMetrics) recordEnded(reason string, active int) {
	if m == nil {
		return
	}
	m.ended.WithLabelValues(reason).Inc()
	m.active.Set(float64(active))
}
