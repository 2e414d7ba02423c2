package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tuplestreams/pkg/retry"
)

// KVEntry is a value with the revision it was read at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes KVStore operations.
type KVOptions struct {
	// MaxRetries bounds compare-and-swap retries after the first attempt.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Timeout bounds each operation. Zero leaves ctx alone.
	Timeout      time.Duration
	MaxValueSize int
}

// DefaultKVOptions returns the defaults for NewKVStore.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    10,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  1024 * 1024,
	}
}

// KVStore wraps a JetStream key-value bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{bucket: bucket, options: options, logger: c.logger.With("bucket", bucket.Bucket())}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

// Get reads key. A missing key returns ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key unconditionally.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, fmt.Errorf("kv put %s: value size %d exceeds maximum %d", key, len(value), kv.options.MaxValueSize)
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Delete removes key. A missing key returns ErrKVKeyNotFound.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := kv.Get(ctx, key); err != nil {
		return err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()
	if err := kv.bucket.Delete(ctx, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Take deletes key and returns the value it held. The delete only succeeds against the
// revision that was read, so a concurrent writer forces a retry and the returned value
// is exactly the one removed.
func (kv *KVStore) Take(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	var taken []byte
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
	err := retry.Do(ctx, cfg, func() error {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			return retry.NonRetryable(err)
		}
		err = kv.bucket.Delete(ctx, key, jetstream.LastRevision(entry.Revision))
		if err == nil {
			taken = entry.Value
			return nil
		}
		if IsKVConflictError(err) {
			kv.logger.Debug("KV take conflict, retrying", "key", key, "revision", entry.Revision)
			return err
		}
		return retry.NonRetryable(fmt.Errorf("kv delete %s: %w", key, err))
	})
	if err != nil {
		if IsKVConflictError(err) {
			return nil, ErrKVMaxRetriesExceeded
		}
		return nil, err
	}
	return taken, nil
}

// Keys lists the bucket's live keys.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

// IsKVNotFoundError reports whether err means the key does not exist.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError reports whether err is a failed revision check.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}

var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)
