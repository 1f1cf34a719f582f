// Package backend wraps a types.Store with namespace-prefixed operations.
//
// Every store call runs on a bounded worker pool under a per-call deadline.
// Calls that miss the deadline fail with OPERATION_TIMEOUT (EIO) while the
// worker slot stays held until the store call actually returns. Transient
// store errors are retried inside the same deadline and a circuit breaker
// fails fast after repeated I/O failures.
package backend

import (
	"context"
	stderr "errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/levelfs/levelfs/internal/circuit"
	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/retry"
	"github.com/levelfs/levelfs/pkg/types"
)

// Config controls the adapter's resource limits.
type Config struct {
	OperationTimeout time.Duration
	MaxConcurrency   int
	ListPageSize     int
	Retry            retry.Config
	Circuit          circuit.Config

	// IsRetryable classifies raw store errors as transient.
	IsRetryable func(err error) bool
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 5 * time.Second,
		MaxConcurrency:   32,
		ListPageSize:     256,
		Retry:            retry.DefaultConfig(),
		Circuit:          circuit.DefaultConfig(),
	}
}

// Child is one immediate child found by a namespace scan.
type Child struct {
	Name        string
	IsNamespace bool
}

// Adapter provides namespace-prefixed access to a store.
type Adapter struct {
	store       types.Store
	sem         *semaphore.Weighted
	timeout     time.Duration
	pageSize    int
	retryer     *retry.Retryer
	breaker     *circuit.CircuitBreaker
	isRetryable func(error) bool
	metrics     types.MetricsCollector
	logger      *slog.Logger
}

// New creates an adapter over store.
func New(store types.Store, cfg Config, metrics types.MetricsCollector, logger *slog.Logger) *Adapter {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 32
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 256
	}
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backend")

	breakerCfg := cfg.Circuit
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("store circuit breaker changed state", "from", from, "to", to)
	}

	return &Adapter{
		store:       store,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		timeout:     cfg.OperationTimeout,
		pageSize:    cfg.ListPageSize,
		retryer:     retry.New(cfg.Retry),
		breaker:     circuit.NewCircuitBreaker("store", breakerCfg),
		isRetryable: cfg.IsRetryable,
		metrics:     metrics,
		logger:      logger,
	}
}

// Get returns the value stored for an Entry.
func (a *Adapter) Get(ctx context.Context, ref namespace.PathRef) ([]byte, error) {
	if ref.Kind() != namespace.KindEntry {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "get requires an entry").
			WithComponent("backend").WithContext("path", ref.String())
	}
	key := ref.StoredKey()
	return call(ctx, a, "get", func(ctx context.Context) ([]byte, error) {
		return a.store.Get(ctx, key)
	})
}

// Exists reports whether an Entry has a stored value.
func (a *Adapter) Exists(ctx context.Context, ref namespace.PathRef) (bool, error) {
	_, err := a.Get(ctx, ref)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put stores value for an Entry.
func (a *Adapter) Put(ctx context.Context, ref namespace.PathRef, value []byte) error {
	if ref.Kind() != namespace.KindEntry {
		return errors.NewError(errors.ErrCodeInvalidArgument, "put requires an entry").
			WithComponent("backend").WithContext("path", ref.String())
	}
	key := ref.StoredKey()
	_, err := call(ctx, a, "put", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.store.Put(ctx, key, value)
	})
	return err
}

// Delete removes the value for an Entry.
func (a *Adapter) Delete(ctx context.Context, ref namespace.PathRef) error {
	if ref.Kind() != namespace.KindEntry {
		return errors.NewError(errors.ErrCodeInvalidArgument, "delete requires an entry").
			WithComponent("backend").WithContext("path", ref.String())
	}
	key := ref.StoredKey()
	_, err := call(ctx, a, "delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.store.Delete(ctx, key)
	})
	return err
}

// HasDescendants reports whether any key is stored at or below the namespace
// ref denotes (an Entry is read as its namespace form). It reads one key.
func (a *Adapter) HasDescendants(ctx context.Context, ref namespace.PathRef) (bool, error) {
	prefix := ref.Prefix()
	keys, err := call(ctx, a, "probe", func(ctx context.Context) ([][]byte, error) {
		return a.store.Keys(ctx, prefix, nil, 1)
	})
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Children scans the namespace ref denotes and returns its immediate children
// in stored key order. Each child namespace is reported once; the scan seeks
// past its subtree instead of reading it.
func (a *Adapter) Children(ctx context.Context, ref namespace.PathRef) ([]Child, error) {
	prefix := ref.Prefix()

	var (
		children   []Child
		startAfter []byte
	)
	for {
		after := startAfter
		keys, err := call(ctx, a, "scan", func(ctx context.Context) ([][]byte, error) {
			return a.store.Keys(ctx, prefix, after, a.pageSize)
		})
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return children, nil
		}

		reseek := false
		for _, key := range keys {
			name, isNamespace, ok := namespace.SplitChild(prefix, key)
			if !ok {
				startAfter = key
				continue
			}
			children = append(children, Child{Name: name, IsNamespace: isNamespace})
			if isNamespace {
				startAfter = namespace.SkipChild(prefix, name)
				reseek = true
				break
			}
			startAfter = key
		}

		if !reseek && len(keys) < a.pageSize {
			return children, nil
		}
	}
}

// HealthCheck checks the underlying store.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.store.HealthCheck(ctx); err != nil {
		return errors.NewError(errors.ErrCodeStoreOpen, "store health check failed").
			WithComponent("backend").WithCause(err)
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (a *Adapter) BreakerState() circuit.State {
	return a.breaker.GetState()
}

// Close closes the underlying store.
func (a *Adapter) Close() error {
	return a.store.Close()
}

// call runs fn on the worker pool with the adapter's deadline, retry and
// circuit breaker policy, and classifies the outcome.
func call[T any](ctx context.Context, a *Adapter, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	var result T
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			v, err := runBounded(ctx, a, op, fn)
			if err == nil {
				result = v
			}
			return err
		})
	})

	a.metrics.RecordOperation("backend_"+op, time.Since(start), 0, err == nil || errors.IsCode(err, errors.ErrCodeNotFound))
	if err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
		a.metrics.RecordError("backend_"+op, err)
	}
	return result, err
}

type outcome[T any] struct {
	value T
	err   error
}

func runBounded[T any](ctx context.Context, a *Adapter, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return zero, a.contextError(ctx, op, "waiting for a worker")
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer a.sem.Release(1)
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return zero, a.classify(ctx, op, out.err)
		}
		return out.value, nil
	case <-ctx.Done():
		return zero, a.contextError(ctx, op, "waiting for the store")
	}
}

func (a *Adapter) classify(ctx context.Context, op string, err error) error {
	switch {
	case stderr.Is(err, types.ErrKeyNotFound):
		return errors.NotFound("key").WithComponent("backend").WithOperation(op)
	case stderr.Is(err, context.DeadlineExceeded), stderr.Is(err, context.Canceled):
		return a.contextError(ctx, op, "store call interrupted")
	case a.isRetryable != nil && a.isRetryable(err):
		return errors.NewError(errors.ErrCodeStoreBusy, "transient store error").
			WithComponent("backend").WithOperation(op).WithCause(err)
	default:
		a.logger.Warn("store operation failed", "operation", op, "error", err)
		return errors.IOError(err, "store operation failed").WithComponent("backend").WithOperation(op)
	}
}

func (a *Adapter) contextError(ctx context.Context, op, what string) error {
	if stderr.Is(ctx.Err(), context.Canceled) {
		return errors.NewError(errors.ErrCodeOperationCanceled, "canceled "+what).
			WithComponent("backend").WithOperation(op)
	}
	a.logger.Warn("store operation timed out", "operation", op, "timeout", a.timeout)
	return errors.NewError(errors.ErrCodeOperationTimeout, "timed out "+what).
		WithComponent("backend").WithOperation(op).WithRetryable(false)
}
