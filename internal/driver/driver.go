// Package driver translates filesystem requests into key-value operations.
//
// It owns attribute synthesis, directory listing, the open file table and the
// per-mount registry of empty directories. The kernel bridge in internal/fuse
// talks to it only through the Dispatcher.
package driver

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/levelfs/levelfs/internal/backend"
	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/types"
)

// Config holds the attribute defaults and limits applied by the driver.
type Config struct {
	Uid      uint32
	Gid      uint32
	FileMode os.FileMode
	DirMode  os.FileMode
	ReadOnly bool
	MaxDepth int

	// FlushParallelism bounds concurrent commits during CloseAll.
	FlushParallelism int

	// MaxValueSize caps the size a write or truncate may grow a value to.
	MaxValueSize int64
}

// DefaultMaxValueSize is the value size limit when none is configured.
const DefaultMaxValueSize int64 = 64 << 20

// DefaultConfig returns defaults owned by the current process.
func DefaultConfig() Config {
	return Config{
		Uid:              uint32(os.Getuid()),
		Gid:              uint32(os.Getgid()),
		FileMode:         0o644,
		DirMode:          0o755,
		MaxDepth:         namespace.DefaultMaxDepth,
		FlushParallelism: 8,
		MaxValueSize:     DefaultMaxValueSize,
	}
}

// Backend is the subset of the backend adapter the driver needs.
type Backend interface {
	Get(ctx context.Context, ref namespace.PathRef) ([]byte, error)
	Exists(ctx context.Context, ref namespace.PathRef) (bool, error)
	Put(ctx context.Context, ref namespace.PathRef, value []byte) error
	Delete(ctx context.Context, ref namespace.PathRef) error
	HasDescendants(ctx context.Context, ref namespace.PathRef) (bool, error)
	Children(ctx context.Context, ref namespace.PathRef) ([]backend.Child, error)
}

var _ Backend = (*backend.Adapter)(nil)

// Driver implements the filesystem semantics over a Backend.
type Driver struct {
	backend   Backend
	cfg       Config
	mountTime time.Time

	dirs    *dirRegistry
	locks   *keyLocks
	handles *handleTable

	mtimeMu sync.RWMutex
	mtimes  map[string]time.Time

	metrics types.MetricsCollector
	logger  *slog.Logger
}

// New creates a driver. The mount time stamps every directory.
func New(b Backend, cfg Config, metrics types.MetricsCollector, logger *slog.Logger) *Driver {
	def := DefaultConfig()
	if cfg.FileMode == 0 {
		cfg.FileMode = def.FileMode
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = def.DirMode
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.FlushParallelism <= 0 {
		cfg.FlushParallelism = def.FlushParallelism
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		backend:   b,
		cfg:       cfg,
		mountTime: time.Now(),
		dirs:      newDirRegistry(),
		locks:     newKeyLocks(),
		handles:   newHandleTable(),
		mtimes:    make(map[string]time.Time),
		metrics:   metrics,
		logger:    logger.With("component", "driver"),
	}
}

// MountTime is the time the driver was created.
func (d *Driver) MountTime() time.Time {
	return d.mountTime
}

func (d *Driver) recordCommit(key []byte, at time.Time) {
	d.mtimeMu.Lock()
	d.mtimes[string(key)] = at
	d.mtimeMu.Unlock()
}

func (d *Driver) forgetCommit(key []byte) {
	d.mtimeMu.Lock()
	delete(d.mtimes, string(key))
	d.mtimeMu.Unlock()
}

func (d *Driver) moveCommit(from, to []byte) {
	d.mtimeMu.Lock()
	defer d.mtimeMu.Unlock()
	if at, ok := d.mtimes[string(from)]; ok {
		d.mtimes[string(to)] = at
		delete(d.mtimes, string(from))
		return
	}
	d.mtimes[string(to)] = time.Now()
}

func (d *Driver) commitTime(key []byte) time.Time {
	d.mtimeMu.RLock()
	defer d.mtimeMu.RUnlock()
	if at, ok := d.mtimes[string(key)]; ok {
		return at
	}
	return d.mountTime
}
