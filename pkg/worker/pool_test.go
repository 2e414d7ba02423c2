package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360/tuplestreams/metric"
)

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, int) error { return nil }

	pool, err := NewPool(0, 0, noop)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if pool.workers != 10 || pool.queueSize != 1000 {
		t.Errorf("defaults = %d workers, %d queue; want 10, 1000", pool.workers, pool.queueSize)
	}

	if _, err := NewPool[int](1, 1, nil); !errors.Is(err, ErrNilProcessor) {
		t.Errorf("nil processor error = %v, want ErrNilProcessor", err)
	}
}

func TestPool_ProcessesAll(t *testing.T) {
	var sum atomic.Int64
	pool, err := NewPool(4, 100, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := pool.Submit(1); !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("Submit before Start = %v, want ErrPoolNotStarted", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); !errors.Is(err, ErrPoolAlreadyStarted) {
		t.Errorf("second Start = %v", err)
	}

	for i := 1; i <= 50; i++ {
		if err := pool.Submit(i); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := sum.Load(); got != 1275 {
		t.Errorf("sum = %d, want 1275 (queue drained on stop)", got)
	}
	stats := pool.Stats()
	if stats.Submitted != 50 || stats.Processed != 50 {
		t.Errorf("stats = %+v", stats)
	}
	if err := pool.Submit(1); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit after Stop = %v, want ErrPoolStopped", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestPool_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	pool, err := NewPool(1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// One item in flight, one queued, the rest dropped.
	_ = pool.Submit(1)
	time.Sleep(20 * time.Millisecond)
	_ = pool.Submit(2)
	dropped := 0
	for i := 0; i < 5; i++ {
		if err := pool.Submit(3); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	close(release)
	_ = pool.Stop(time.Second)

	if dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
	if got := pool.Stats().Dropped; got != 5 {
		t.Errorf("Stats().Dropped = %d, want 5", got)
	}
}

func TestPool_ErrorHandler(t *testing.T) {
	boom := errors.New("boom")
	var (
		mu     sync.Mutex
		failed []int
	)
	pool, err := NewPool(2, 10,
		func(_ context.Context, n int) error {
			if n%2 == 0 {
				return boom
			}
			return nil
		},
		WithErrorHandler(func(n int, err error) {
			if !errors.Is(err, boom) {
				t.Errorf("unexpected error %v", err)
			}
			mu.Lock()
			failed = append(failed, n)
			mu.Unlock()
		}))
	if err != nil {
		t.Fatal(err)
	}
	_ = pool.Start(context.Background())
	for i := 0; i < 6; i++ {
		_ = pool.Submit(i)
	}
	_ = pool.Stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 3 {
		t.Errorf("failed items = %v, want 3 of them", failed)
	}
	if got := pool.Stats().Failed; got != 3 {
		t.Errorf("Stats().Failed = %d", got)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool, _ := NewPool(1, 1, func(context.Context, int) error {
		<-block
		return nil
	})
	_ = pool.Start(context.Background())
	_ = pool.Submit(1)
	time.Sleep(10 * time.Millisecond)

	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Stop = %v, want ErrStopTimeout", err)
	}
}

func TestPool_ContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, _ := NewPool(2, 10, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_ = pool.Start(ctx)
	_ = pool.Submit(1)
	_ = pool.Submit(2)

	cancel()
	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Stop after cancel = %v", err)
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool, err := NewPool(1, 10, func(_ context.Context, n int) error {
		if n < 0 {
			return errors.New("negative")
		}
		return nil
	}, WithMetricsRegistry[int](registry, "test"))
	if err != nil {
		t.Fatal(err)
	}
	_ = pool.Start(context.Background())
	_ = pool.Submit(1)
	_ = pool.Submit(-1)
	_ = pool.Stop(time.Second)

	if got := testutil.ToFloat64(pool.metrics.submitted); got != 2 {
		t.Errorf("submitted = %v", got)
	}
	if got := testutil.ToFloat64(pool.metrics.failed); got != 1 {
		t.Errorf("failed = %v", got)
	}

	if _, err := NewPool(1, 1, func(context.Context, int) error { return nil },
		WithMetricsRegistry[int](registry, "test")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
