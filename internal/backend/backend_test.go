package backend

import (
	"context"
	stderr "errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levelfs/levelfs/internal/circuit"
	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/internal/storage/badger"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/types"
)

// faultStore wraps a store and injects latency or failures.
type faultStore struct {
	types.Store
	delay    time.Duration
	failNext atomic.Int32
	failErr  error
	calls    atomic.Int32
}

func (f *faultStore) maybeFail(ctx context.Context) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		return f.failErr
	}
	return nil
}

func (f *faultStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := f.maybeFail(ctx); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *faultStore) Put(ctx context.Context, key, value []byte) error {
	if err := f.maybeFail(ctx); err != nil {
		return err
	}
	return f.Store.Put(ctx, key, value)
}

func newBadger(t *testing.T) types.Store {
	t.Helper()
	store, err := badger.Open(context.Background(), badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OperationTimeout = time.Second
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return cfg
}

func seed(t *testing.T, a *Adapter, entries map[string]string) {
	t.Helper()
	r := namespace.NewResolver(0)
	for path, value := range entries {
		ref, err := r.Resolve(path)
		require.NoError(t, err)
		require.NoError(t, a.Put(context.Background(), ref, []byte(value)))
	}
}

func TestAdapterGetPutDelete(t *testing.T) {
	ctx := context.Background()
	a := New(newBadger(t), testConfig(), nil, nil)
	ref := namespace.Entry([]string{"foo"}, "foo1")

	_, err := a.Get(ctx, ref)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), "got %v", err)

	require.NoError(t, a.Put(ctx, ref, []byte("foobar")))
	got, err := a.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(got))

	ok, err := a.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Delete(ctx, ref))
	ok, err = a.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = a.Get(ctx, namespace.Namespace("foo"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestAdapterHasDescendants(t *testing.T) {
	ctx := context.Background()
	a := New(newBadger(t), testConfig(), nil, nil)

	ok, err := a.HasDescendants(ctx, namespace.Root())
	require.NoError(t, err)
	assert.False(t, ok, "empty store has no descendants")

	seed(t, a, map[string]string{"/a/b/c": "x"})

	for _, ref := range []namespace.PathRef{
		namespace.Root(),
		namespace.Namespace("a"),
		namespace.Entry(nil, "a"),
		namespace.Namespace("a", "b"),
	} {
		ok, err := a.HasDescendants(ctx, ref)
		require.NoError(t, err)
		assert.True(t, ok, "%s should have descendants", ref)
	}

	ok, err = a.HasDescendants(ctx, namespace.Namespace("a", "b", "c"))
	require.NoError(t, err)
	assert.False(t, ok, "a key is not a namespace")

	ok, err = a.HasDescendants(ctx, namespace.Namespace("ab"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapterChildren(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ListPageSize = 2
	a := New(newBadger(t), cfg, nil, nil)

	seed(t, a, map[string]string{
		"/top":        "1",
		"/foo/foo1":   "foobar",
		"/foo/foo2":   "x",
		"/foo/sub/s1": "x",
		"/foo/sub/s2": "x",
		"/foo/sub/s3": "x",
		"/foo/z":      "x",
		"/bar/bar1":   "barfoo",
		"/ba":         "x",
	})

	children, err := a.Children(ctx, namespace.Root())
	require.NoError(t, err)
	assert.ElementsMatch(t, []Child{
		{Name: "top"},
		{Name: "ba"},
		{Name: "foo", IsNamespace: true},
		{Name: "bar", IsNamespace: true},
	}, children)

	children, err = a.Children(ctx, namespace.Entry(nil, "foo"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Child{
		{Name: "foo1"},
		{Name: "foo2"},
		{Name: "sub", IsNamespace: true},
		{Name: "z"},
	}, children)

	children, err = a.Children(ctx, namespace.Namespace("missing"))
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestAdapterTimeout(t *testing.T) {
	store := &faultStore{Store: newBadger(t), delay: 200 * time.Millisecond}
	cfg := testConfig()
	cfg.OperationTimeout = 20 * time.Millisecond
	a := New(store, cfg, nil, nil)

	start := time.Now()
	_, err := a.Get(context.Background(), namespace.Entry(nil, "k"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "timeout should not wait for the store")
	assert.Equal(t, syscall.EIO, errors.ToErrno(err))
}

func TestAdapterCanceled(t *testing.T) {
	store := &faultStore{Store: newBadger(t), delay: 100 * time.Millisecond}
	a := New(store, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := a.Get(ctx, namespace.Entry(nil, "k"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationCanceled), "got %v", err)
}

func TestAdapterRetriesTransientErrors(t *testing.T) {
	transient := stderr.New("transaction conflict")
	store := &faultStore{Store: newBadger(t), failErr: transient}
	store.failNext.Store(2)

	cfg := testConfig()
	cfg.IsRetryable = func(err error) bool { return stderr.Is(err, transient) }
	a := New(store, cfg, nil, nil)

	require.NoError(t, a.Put(context.Background(), namespace.Entry(nil, "k"), []byte("v")))
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestAdapterIOErrorAndCircuit(t *testing.T) {
	store := &faultStore{Store: newBadger(t), failErr: stderr.New("disk failure")}
	store.failNext.Store(100)

	cfg := testConfig()
	cfg.Circuit = circuit.Config{Enabled: true, ConsecutiveFailures: 2, Timeout: time.Hour}
	a := New(store, cfg, nil, nil)
	ref := namespace.Entry(nil, "k")

	for i := 0; i < 2; i++ {
		err := a.Put(context.Background(), ref, []byte("v"))
		assert.True(t, errors.IsCode(err, errors.ErrCodeIOError), "got %v", err)
	}
	assert.Equal(t, circuit.StateOpen, a.BreakerState())

	calls := store.calls.Load()
	err := a.Put(context.Background(), ref, []byte("v"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeCircuitOpen), "got %v", err)
	assert.Equal(t, calls, store.calls.Load(), "open breaker must not reach the store")
}

func TestAdapterBoundedConcurrency(t *testing.T) {
	store := &faultStore{Store: newBadger(t), delay: 50 * time.Millisecond}
	cfg := testConfig()
	cfg.MaxConcurrency = 1
	cfg.OperationTimeout = 30 * time.Millisecond
	a := New(store, cfg, nil, nil)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := a.Get(context.Background(), namespace.Entry(nil, "k"))
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		err := <-errs
		assert.True(t, errors.IsCode(err, errors.ErrCodeOperationTimeout), "got %v", err)
	}
	// One call waited for the only worker and never reached the store.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestAdapterHealthCheck(t *testing.T) {
	a := New(newBadger(t), testConfig(), nil, nil)
	assert.NoError(t, a.HealthCheck(context.Background()))
}
