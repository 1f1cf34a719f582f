package types

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Store implementations when a key is absent.
var ErrKeyNotFound = errors.New("key not found")

// Store defines the interface for sorted key-value stores. Keys compare as
// raw bytes and iteration is in ascending key order.
type Store interface {
	// Single-key operations
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Keys returns up to limit keys that start with prefix and sort strictly
	// after startAfter. A nil startAfter starts at the first key of the range.
	Keys(ctx context.Context, prefix, startAfter []byte, limit int) ([][]byte, error)

	// Health check
	HealthCheck(ctx context.Context) error

	Close() error
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordError(operation string, err error)
	SetOpenHandles(n int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordOperation(string, time.Duration, int64, bool) {}
func (NopMetrics) RecordError(string, error)                         {}
func (NopMetrics) SetOpenHandles(int)                                {}
