// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// NonRetryableError marks an error that ends retrying at once.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config describes a retry schedule.
type Config struct {
	MaxAttempts  int // 0 runs once
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool // up to 25% extra per delay

	// Retryable decides whether an error is worth another attempt. Nil retries every
	// error not marked NonRetryable.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig suits binding local sockets: a handful of quick attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// normalize fills zero fields with defaults and rejects impossible schedules.
func (c Config) normalize() (Config, error) {
	switch {
	case c.InitialDelay < 0:
		return c, errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return c, errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return c, errors.New("retry: Multiplier cannot be negative")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 50 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// delay returns the backoff before attempt+1, capped at MaxDelay.
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	out := time.Duration(d)
	if c.AddJitter && out >= 4 {
		out += time.Duration(rand.Int63n(int64(out / 4)))
	}
	return out
}

// Do calls fn until it succeeds, the attempts run out, the error is not retryable, or
// ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) || (cfg.Retryable != nil && !cfg.Retryable(lastErr)) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := cfg.delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, sleep)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
