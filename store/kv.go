package store

import (
	"context"
	"slices"

	"github.com/c360/tuplestreams/codec"
	"github.com/c360/tuplestreams/errors"
	"github.com/c360/tuplestreams/filter"
	"github.com/c360/tuplestreams/natsclient"
	"github.com/c360/tuplestreams/tuple"
)

// KVBucket is the part of natsclient.KVStore the KV backend uses.
type KVBucket interface {
	Bucket() string
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Take(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context) ([]string, error)
}

var _ KVBucket = (*natsclient.KVStore)(nil)

// KVStore keeps tuples in a JetStream key-value bucket, keyed by tuple ID and encoded
// with the channel codec. Queries scan every key.
type KVStore struct {
	bucket KVBucket
	codec  codec.Codec
}

var _ Store = (*KVStore)(nil)

// NewKVStore stores tuples in bucket. A nil codec means JSON.
func NewKVStore(bucket KVBucket, c codec.Codec) (*KVStore, error) {
	if bucket == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "store", "NewKVStore", "bucket is required")
	}
	if c == nil {
		c = codec.JSON{}
	}
	return &KVStore{bucket: bucket, codec: c}, nil
}

// Backend returns "kv".
func (s *KVStore) Backend() string { return "kv" }

// Write encodes t and puts it under its ID.
func (s *KVStore) Write(ctx context.Context, t *tuple.Tuple) error {
	if t == nil {
		return errors.Validationf("store", "KVStore.Write", "nil tuple")
	}
	data, err := s.codec.Encode(t)
	if err != nil {
		return err
	}
	if _, err := s.bucket.Put(ctx, t.ID().String(), data); err != nil {
		return errors.WrapTransient(err, "store", "KVStore.Write", "put tuple")
	}
	return nil
}

// Read reads and decodes the tuple stored under id.
func (s *KVStore) Read(ctx context.Context, id tuple.ID) (*tuple.Tuple, error) {
	entry, err := s.bucket.Get(ctx, id.String())
	if err != nil {
		return nil, s.lookupError(err, "KVStore.Read", id)
	}
	return s.codec.Decode(entry.Value)
}

// Query decodes every stored tuple and returns the matches ordered by ID. Entries that
// vanish or fail to decode during the scan are skipped.
func (s *KVStore) Query(ctx context.Context, f *filter.Filter) ([]*tuple.Tuple, error) {
	if f == nil {
		return nil, errors.Validationf("store", "KVStore.Query", "nil filter")
	}
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "store", "KVStore.Query", "list keys")
	}
	slices.Sort(keys)

	var out []*tuple.Tuple
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "store", "KVStore.Query", "get "+key)
		}
		t, err := s.codec.Decode(entry.Value)
		if err != nil {
			continue
		}
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Delete takes the tuple stored under id out of the bucket.
func (s *KVStore) Delete(ctx context.Context, id tuple.ID) (*tuple.Tuple, error) {
	data, err := s.bucket.Take(ctx, id.String())
	if err != nil {
		return nil, s.lookupError(err, "KVStore.Delete", id)
	}
	return s.codec.Decode(data)
}

// Close does nothing; the bucket belongs to the NATS client.
func (s *KVStore) Close() error { return nil }

func (s *KVStore) lookupError(err error, method string, id tuple.ID) error {
	if natsclient.IsKVNotFoundError(err) {
		return errors.WrapInvalid(errors.ErrNotFound, "store", method, "look up "+id.String())
	}
	return errors.WrapTransient(err, "store", method, "look up "+id.String())
}
