// Package metric owns the process-wide Prometheus registry, the core metrics every
// deployment exports, and the HTTP server that exposes them.
//
// Packages register their own metrics through MetricsRegistry. Every constructor in this
// module accepts a nil registry, which disables that package's metrics.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/tuplestreams/errors"
)

// MetricsRegistrar is the registration surface of MetricsRegistry.
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(serviceName, metricName string) bool
}

// MetricsRegistry tracks collectors by "service.metric" key on top of a private
// Prometheus registry.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	core               *Metrics

	mu         sync.RWMutex
	registered map[string]prometheus.Collector
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a registry with the core metrics and the Go runtime and
// process collectors already registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		core:               NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.core.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the process-wide metrics.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

func (r *MetricsRegistry) register(method, serviceName, metricName string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := serviceName + "." + metricName
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "prometheus registration")
	}

	r.registered[key] = c
	return nil
}

// RegisterCounter registers a counter under serviceName.metricName.
func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", serviceName, metricName, counter)
}

// RegisterGauge registers a gauge under serviceName.metricName.
func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", serviceName, metricName, gauge)
}

// RegisterHistogram registers a histogram under serviceName.metricName.
func (r *MetricsRegistry) RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error {
	return r.register("RegisterHistogram", serviceName, metricName, histogram)
}

// RegisterCounterVec registers a counter vector under serviceName.metricName.
func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", serviceName, metricName, counterVec)
}

// RegisterGaugeVec registers a gauge vector under serviceName.metricName.
func (r *MetricsRegistry) RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", serviceName, metricName, gaugeVec)
}

// RegisterHistogramVec registers a histogram vector under serviceName.metricName.
func (r *MetricsRegistry) RegisterHistogramVec(serviceName, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", serviceName, metricName, histogramVec)
}

// Unregister removes serviceName.metricName. It reports false if nothing was registered
// under that key.
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := serviceName + "." + metricName
	c, exists := r.registered[key]
	if !exists {
		return false
	}
	if !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.registered, key)
	return true
}

// UnregisterService removes every metric registered under serviceName and returns how
// many were removed. Revoked channels use it so a rebind can register again.
func (r *MetricsRegistry) UnregisterService(serviceName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := serviceName + "."
	n := 0
	for key, c := range r.registered {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if r.prometheusRegistry.Unregister(c) {
			delete(r.registered, key)
			n++
		}
	}
	return n
}
