// Package worker provides a bounded worker pool for asynchronous delivery.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/tuplestreams/metric"
)

// Pool processes submitted items of type T on a fixed number of goroutines. Submit never
// blocks: when the queue is full the item is dropped and ErrQueueFull returned.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsName     string
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics labeled with name.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsName = name
	}
}

// WithErrorHandler calls fn for every item whose processing failed.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a queue of 1000.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.metricsRegistry != nil && p.metricsName != "" {
		m, err := newPoolMetrics(p.metricsRegistry, p.metricsName)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}
	return p, nil
}

// Submit queues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.metrics.recordSubmitted(len(p.workChan))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.recordDropped()
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is done or the pool is stopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop refuses new work and waits up to timeout for the workers to finish the queue.
// Cancel the Start context first to abandon queued items instead.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)

			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
				if p.onError != nil {
					p.onError(work, err)
				}
			}
			p.metrics.recordProcessed(err, time.Since(start), len(p.workChan))
		}
	}
}

// poolMetrics holds Prometheus metrics for one pool, labeled by pool name.
type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) (*poolMetrics, error) {
	labels := prometheus.Labels{"pool": name}
	opts := func(metricName, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   "tuplestreams",
			Subsystem:   "worker_pool",
			Name:        metricName,
			Help:        help,
			ConstLabels: labels,
		}
	}

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts(opts("queue_depth", "Current worker pool queue depth"))),
		submitted:  prometheus.NewCounter(prometheus.CounterOpts(opts("submitted_total", "Total work items submitted"))),
		processed:  prometheus.NewCounter(prometheus.CounterOpts(opts("processed_total", "Total work items processed"))),
		failed:     prometheus.NewCounter(prometheus.CounterOpts(opts("failed_total", "Total work items that failed processing"))),
		dropped:    prometheus.NewCounter(prometheus.CounterOpts(opts("dropped_total", "Total work items dropped due to a full queue"))),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "tuplestreams",
			Subsystem:   "worker_pool",
			Name:        "processing_duration_seconds",
			Help:        "Time spent processing work items",
			ConstLabels: labels,
			Buckets:     []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"status"}),
	}

	service := "worker_pool." + name
	if err := registry.RegisterGauge(service, "queue_depth", m.queueDepth); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "submitted_total", m.submitted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "processed_total", m.processed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "failed_total", m.failed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "dropped_total", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(service, "processing_duration_seconds", m.processingTime); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *poolMetrics) recordSubmitted(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) recordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *poolMetrics) recordProcessed(err error, d time.Duration, depth int) {
	if m == nil {
		return
	}
	m.processed.Inc()
	status := "success"
	if err != nil {
		m.failed.Inc()
		status = "error"
	}
	m.processingTime.WithLabelValues(status).Observe(d.Seconds())
	m.queueDepth.Set(float64(depth))
}
