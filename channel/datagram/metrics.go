package datagram

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/tuplestreams/metric"
)

// clientMetrics holds Prometheus metrics for one channel, labeled by channel name.
type clientMetrics struct {
	packetsSent     prometheus.Counter
	bytesSent       prometheus.Counter
	sendErrors      prometheus.Counter
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	decodeErrors    prometheus.Counter
	dropped         prometheus.Counter
}

func newClientMetrics(registry *metric.MetricsRegistry, name string) (*clientMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"channel": name}
	counter := func(metricName, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "datagram",
			Name:        metricName,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &clientMetrics{
		packetsSent:     counter("packets_sent_total", "Total number of datagrams sent"),
		bytesSent:       counter("bytes_sent_total", "Total number of bytes sent"),
		sendErrors:      counter("send_errors_total", "Total number of failed sends"),
		packetsReceived: counter("packets_received_total", "Total number of datagrams received"),
		bytesReceived:   counter("bytes_received_total", "Total number of bytes received"),
		decodeErrors:    counter("decode_errors_total", "Total number of datagrams that failed to decode"),
		dropped:         counter("dropped_total", "Total number of decoded tuples dropped because delivery was saturated"),
	}

	service := "channel." + name
	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"packets_sent_total", m.packetsSent},
		{"bytes_sent_total", m.bytesSent},
		{"send_errors_total", m.sendErrors},
		{"packets_received_total", m.packetsReceived},
		{"bytes_received_total", m.bytesReceived},
		{"decode_errors_total", m.decodeErrors},
		{"dropped_total", m.dropped},
	}
	for i, c := range counters {
		if err := registry.RegisterCounter(service, c.name, c.c); err != nil {
			for _, done := range counters[:i] {
				registry.Unregister(service, done.name)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *clientMetrics) recordSent(n int) {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *clientMetrics) recordSendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *clientMetrics) recordReceived(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *clientMetrics) recordDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *clientMetrics) recordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
