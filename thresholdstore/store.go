// Package thresholdstore persists per-state threshold sets in a NATS KV
// bucket so monitors can load their configuration from the broker
// instead of a local file. Keys are state ids, values are the JSON form
// of StateThresholds.
package thresholdstore

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/pkg/retry"
	"github.com/c360/hwstreams/threshold"
	"github.com/c360/hwstreams/types"
)

// DefaultBucket is the KV bucket name used when none is configured
const DefaultBucket = "hw_thresholds"

// ErrNotFound is returned when no thresholds exist for a state
var ErrNotFound = stderrors.New("no thresholds stored for state")

// Bucket is the KV surface the store needs. jetstream.KeyValue
// satisfies it.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// BucketCreator creates or opens KV buckets. *natsclient.Client
// satisfies it.
type BucketCreator interface {
	CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error)
}

// Store reads and writes StateThresholds in one KV bucket. Transient
// bucket failures are retried with exponential backoff; missing keys
// are not retried.
type Store struct {
	bucket   Bucket
	logger   *slog.Logger
	retryCfg retry.Config
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithRetryConfig overrides the backoff used for bucket operations
func WithRetryConfig(cfg retry.Config) StoreOption {
	return func(s *Store) { s.retryCfg = cfg }
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore wraps an existing bucket
func NewStore(bucket Bucket, opts ...StoreOption) *Store {
	s := &Store{
		bucket:   bucket,
		logger:   slog.Default().With("component", "thresholdstore"),
		retryCfg: errors.DefaultRetryConfig().ToRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates or opens the named bucket and returns a store over it.
// An empty name uses DefaultBucket. Bucket creation is retried, so a
// broker that is briefly unreachable at startup does not fail the open.
func Open(ctx context.Context, creator BucketCreator, bucketName string, opts ...StoreOption) (*Store, error) {
	if bucketName == "" {
		bucketName = DefaultBucket
	}
	s := NewStore(nil, opts...)
	bucket, err := retry.DoWithResult(ctx, s.retryCfg, func() (jetstream.KeyValue, error) {
		return creator.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      bucketName,
			Description: "Per-state telemetry thresholds",
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Open", "create bucket")
	}
	s.bucket = bucket
	return s, nil
}

// Save writes one state's thresholds, overwriting any previous entry
func (s *Store) Save(ctx context.Context, st threshold.StateThresholds) error {
	if st.StateID == "" {
		return errors.WrapInvalid(errors.ErrInvalidThreshold, "Store", "Save", "missing state id")
	}
	data, err := st.ToBytes()
	if err != nil {
		return err
	}
	err = retry.Do(ctx, s.retryCfg, func() error {
		_, err := s.bucket.Put(ctx, string(st.StateID), data)
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "Save", "put thresholds")
	}
	s.logger.Debug("saved thresholds", "state", st.StateID, "channels", len(st.Thresholds))
	return nil
}

// Load reads one state's thresholds. Returns ErrNotFound when the state
// has no stored entry; a missing key is never retried.
func (s *Store) Load(ctx context.Context, stateID types.StateID) (threshold.StateThresholds, error) {
	entry, err := retry.DoWithResult(ctx, s.retryCfg, func() (jetstream.KeyValueEntry, error) {
		entry, err := s.bucket.Get(ctx, string(stateID))
		if err != nil && stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, retry.NonRetryable(err)
		}
		return entry, err
	})
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return threshold.StateThresholds{}, errors.WrapInvalid(ErrNotFound, "Store", "Load", string(stateID))
		}
		return threshold.StateThresholds{}, errors.WrapTransient(err, "Store", "Load", "get thresholds")
	}
	return threshold.StateThresholdsFromBytes(entry.Value())
}

// LoadAll reads every stored state's thresholds
func (s *Store) LoadAll(ctx context.Context) (map[types.StateID]threshold.StateThresholds, error) {
	keys, err := retry.DoWithResult(ctx, s.retryCfg, func() ([]string, error) {
		keys, err := s.bucket.Keys(ctx)
		if err != nil && stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, retry.NonRetryable(err)
		}
		return keys, err
	})
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return map[types.StateID]threshold.StateThresholds{}, nil
		}
		return nil, errors.WrapTransient(err, "Store", "LoadAll", "list keys")
	}

	out := make(map[types.StateID]threshold.StateThresholds, len(keys))
	for _, key := range keys {
		st, err := s.Load(ctx, types.StateID(key))
		if err != nil {
			return nil, err
		}
		out[types.StateID(key)] = st
	}
	return out, nil
}

// Delete removes one state's thresholds. Deleting a missing state is
// not an error.
func (s *Store) Delete(ctx context.Context, stateID types.StateID) error {
	err := retry.Do(ctx, s.retryCfg, func() error {
		if err := s.bucket.Delete(ctx, string(stateID)); err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				return retry.NonRetryable(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil
		}
		return errors.WrapTransient(err, "Store", "Delete", "delete thresholds")
	}
	return nil
}
