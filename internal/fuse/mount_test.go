package fuse

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levelfs/levelfs/internal/backend"
	"github.com/levelfs/levelfs/internal/driver"
	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/internal/storage/badger"
)

type mounted struct {
	dir     string
	manager *MountManager
	backend *backend.Adapter
}

// mountStore mounts an in-memory store, skipping the test where FUSE is
// unavailable.
func mountStore(t *testing.T, seed map[string]string) *mounted {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("FUSE is not available: /dev/fuse missing")
	}

	ctx := context.Background()
	store, err := badger.Open(ctx, badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	b := backend.New(store, backend.DefaultConfig(), nil, nil)
	resolver := namespace.NewResolver(0)
	for path, value := range seed {
		ref, err := resolver.Resolve(path)
		require.NoError(t, err)
		require.NoError(t, b.Put(ctx, ref, []byte(value)))
	}

	dispatcher := driver.NewDispatcher(driver.New(b, driver.DefaultConfig(), nil, nil))
	dir := t.TempDir()
	m := NewMountManager(NewFileSystem(dispatcher, nil), DefaultMountConfig(dir), nil)
	if err := m.Mount(ctx); err != nil {
		t.Skipf("FUSE mount not permitted here: %v", err)
	}
	t.Cleanup(func() {
		if m.IsMounted() {
			_ = m.Unmount()
			m.Wait()
		}
	})
	return &mounted{dir: dir, manager: m, backend: b}
}

func (m *mounted) unmount(t *testing.T) {
	t.Helper()
	require.NoError(t, m.manager.Unmount())
	select {
	case <-m.manager.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop after unmount")
	}
	assert.False(t, m.manager.IsMounted())
}

func TestMountFooBarScenario(t *testing.T) {
	m := mountStore(t, map[string]string{
		"foo/foo1": "foobar",
		"bar/bar1": "barfoo",
	})

	data, err := os.ReadFile(filepath.Join(m.dir, "foo", "foo1"))
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(data))

	data, err = os.ReadFile(filepath.Join(m.dir, "bar", "bar1"))
	require.NoError(t, err)
	assert.Equal(t, "barfoo", string(data))

	entries, err := os.ReadDir(m.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		assert.True(t, e.IsDir(), e.Name())
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"bar", "foo"}, names)

	m.unmount(t)

	// The store is unchanged and still readable after unmount.
	ref, err := namespace.NewResolver(0).Resolve("foo/foo1")
	require.NoError(t, err)
	value, err := m.backend.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(value))
}

func TestMountWriteAndDelete(t *testing.T) {
	m := mountStore(t, nil)

	dir := filepath.Join(m.dir, "ns")
	require.NoError(t, os.Mkdir(dir, 0o755))

	file := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(file, []byte("hello world"), 0o644))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size())
	assert.True(t, info.Mode().IsRegular())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	err = os.Remove(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ENOTEMPTY)

	require.NoError(t, os.Rename(file, filepath.Join(dir, "moved")))
	_, err = os.Stat(file)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.Remove(filepath.Join(dir, "moved")))
	_, err = os.Stat(filepath.Join(dir, "moved"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	m.unmount(t)
}
