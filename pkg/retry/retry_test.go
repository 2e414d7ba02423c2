package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("port busy")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_GivesUp(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return errors.New("port busy")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	base := errors.New("bad address")
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(base)
	})

	assert.ErrorIs(t, err, base)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_RetryablePredicate(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts == 2 {
			return permanent
		}
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 2, attempts)
}

func TestDo_OnRetry(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error, delay time.Duration) {
		seen = append(seen, attempt)
		assert.LessOrEqual(t, delay, cfg.MaxDelay)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative initial", Config{InitialDelay: -1}},
		{"negative max", Config{MaxDelay: -1}},
		{"negative multiplier", Config{Multiplier: -1}},
		{"max below initial", Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := Do(context.Background(), tt.cfg, func() error { called = true; return nil })
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}

func TestConfig_DelayCapped(t *testing.T) {
	cfg, err := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 3}.normalize()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 30*time.Millisecond, cfg.delay(2))
	assert.Equal(t, 50*time.Millisecond, cfg.delay(3))
	assert.Equal(t, 50*time.Millisecond, cfg.delay(30))
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("x")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
