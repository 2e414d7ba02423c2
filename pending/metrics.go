package pending

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/tuplestreams/metric"
)

// pendingMetrics holds Prometheus metrics for one registry. The registry name is a
// constant label so several registries can share metric names.
type pendingMetrics struct {
	pending   prometheus.Gauge
	added     *prometheus.CounterVec // kind: read, listen
	removed   *prometheus.CounterVec // reason: removed, expired, denied, closed
	delivered prometheus.Counter
	arrivals  prometheus.Counter
	unmatched prometheus.Counter
}

func newPendingMetrics(registry *metric.MetricsRegistry, name string) (*pendingMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"registry": name}

	m := &pendingMetrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "pending",
			Name:        "requests",
			Help:        "Number of pending read and listen requests",
			ConstLabels: labels,
		}),
		added: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "pending",
			Name:        "added_total",
			Help:        "Total number of requests added, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "pending",
			Name:        "removed_total",
			Help:        "Total number of requests removed without a match, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "pending",
			Name:        "delivered_total",
			Help:        "Total number of results delivered to pending requests",
			ConstLabels: labels,
		}),
		arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "pending",
			Name:        "arrivals_total",
			Help:        "Total number of tuples matched against the registry",
			ConstLabels: labels,
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "pending",
			Name:        "unmatched_total",
			Help:        "Total number of tuples no pending request matched",
			ConstLabels: labels,
		}),
	}

	service := "pending." + name
	if err := registry.RegisterGauge(service, "requests", m.pending); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "added_total", m.added); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(service, "removed_total", m.removed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "delivered_total", m.delivered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "arrivals_total", m.arrivals); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "unmatched_total", m.unmatched); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *pendingMetrics) recordAdded(kind Kind, pending int) {
	if m == nil {
		return
	}
	m.added.WithLabelValues(kind.String()).Inc()
	m.pending.Set(float64(pending))
}

func (m *pendingMetrics) recordRemoved(reason string, pending int) {
	if m == nil {
		return
	}
	m.removed.WithLabelValues(reason).Inc()
	m.pending.Set(float64(pending))
}

func (m *pendingMetrics) recordArrival(delivered, pending int) {
	if m == nil {
		return
	}
	m.arrivals.Inc()
	m.delivered.Add(float64(delivered))
	if delivered == 0 {
		m.unmatched.Inc()
	}
	m.pending.Set(float64(pending))
}
