package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/levelfs/levelfs/internal/backend"
	"github.com/levelfs/levelfs/internal/config"
	"github.com/levelfs/levelfs/internal/driver"
	"github.com/levelfs/levelfs/internal/fuse"
	"github.com/levelfs/levelfs/internal/metrics"
	badgerstore "github.com/levelfs/levelfs/internal/storage/badger"
	s3store "github.com/levelfs/levelfs/internal/storage/s3"
	"github.com/levelfs/levelfs/pkg/health"
	"github.com/levelfs/levelfs/pkg/types"
)

// storeComponent names the store in health reports.
const storeComponent = "store"

// gcDiscardRatio is the fraction of a value log file that must be stale
// before badger rewrites it.
const gcDiscardRatio = 0.5

// Adapter owns the store, the filesystem stack above it and the mount.
type Adapter struct {
	storePath  string
	mountPoint string
	config     *config.Configuration
	logger     *slog.Logger

	mu         sync.Mutex
	started    bool
	store      types.Store
	backend    *backend.Adapter
	dispatcher *driver.Dispatcher
	metrics    *metrics.Collector
	health     *health.Tracker
	mount      *fuse.MountManager

	// background cancels the GC and health check loops.
	background context.CancelFunc
	bgDone     sync.WaitGroup
}

// New validates the configuration and store path. Nothing is opened until
// Start.
func New(ctx context.Context, storePath, mountPoint string, cfg *config.Configuration, logger *slog.Logger) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := cfg.ValidateStorePath(storePath); err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if mountPoint == "" {
		return nil, fmt.Errorf("mount point is required")
	}

	return &Adapter{
		storePath:  storePath,
		mountPoint: mountPoint,
		config:     cfg,
		logger:     logger.With("component", "adapter"),
	}, nil
}

// Start opens the store, builds the filesystem and mounts it. On failure
// everything opened so far is closed again.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}

	a.logger.Info("starting levelfs",
		"store", a.storePath,
		"mount_point", a.mountPoint,
		"read_only", a.config.Mount.ReadOnly,
		"max_concurrency", a.config.Performance.MaxConcurrency)

	if err := a.open(ctx); err != nil {
		return err
	}

	mountCfg := fuse.MountConfig{
		MountPoint:      a.mountPoint,
		FSName:          a.config.Mount.FSName,
		AllowOther:      a.config.Mount.AllowOther,
		ReadOnly:        a.config.Mount.ReadOnly,
		Debug:           a.config.Mount.Debug,
		AttrTimeout:     a.config.Mount.AttrTimeout,
		EntryTimeout:    a.config.Mount.EntryTimeout,
		NegativeTimeout: a.config.Mount.NegativeTimeout,
		Options:         a.config.Mount.Options,
	}
	a.mount = fuse.NewMountManager(fuse.NewFileSystem(a.dispatcher, a.logger), mountCfg, a.logger)
	if err := a.mount.Mount(ctx); err != nil {
		a.mount = nil
		if closeErr := a.shutdown(ctx); closeErr != nil {
			a.logger.Warn("cleanup after failed mount", "error", closeErr)
		}
		return err
	}

	a.started = true
	return nil
}

// open builds everything below the kernel bridge.
func (a *Adapter) open(ctx context.Context) error {
	collector, err := metrics.NewCollector(a.config.MetricsConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.metrics = collector

	store, isRetryable, err := a.openStore(ctx)
	if err != nil {
		_ = collector.Stop(ctx)
		a.metrics = nil
		return err
	}
	a.store = store

	adapterCfg := a.config.AdapterConfig()
	adapterCfg.IsRetryable = isRetryable
	a.backend = backend.New(store, adapterCfg, collector, a.logger)

	drv := driver.New(a.backend, a.config.DriverConfig(), collector, a.logger)
	a.dispatcher = driver.NewDispatcher(drv)

	a.health = health.NewTracker(a.config.Backend.Health, a.logger)
	a.health.Register(storeComponent)
	a.health.Check(ctx, storeComponent, a.backend.HealthCheck)
	collector.SetHealthTracker(a.health)
	collector.SetOpenFiles(drv.OpenFiles)
	b := a.backend
	collector.SetStatus("circuit_breaker", func() map[string]string {
		return map[string]string{"state": b.BreakerState().String()}
	})
	if s3, ok := store.(*s3store.Store); ok {
		collector.SetStatus("s3", s3.Status)
	}

	a.startBackground(store)
	return nil
}

// openStore opens the store named by the store path: s3://bucket[/prefix]
// for S3, anything else is a badger directory created if missing.
func (a *Adapter) openStore(ctx context.Context) (types.Store, func(error) bool, error) {
	if strings.HasPrefix(a.storePath, "s3://") {
		cfg := a.config.Storage.S3
		if err := cfg.ParseURI(a.storePath); err != nil {
			return nil, nil, err
		}
		store, err := s3store.Open(ctx, &cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store %s: %w", a.storePath, err)
		}
		return store, s3store.IsRetryable, nil
	}

	cfg := a.config.Storage.Badger
	cfg.Path = a.storePath
	store, err := badgerstore.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store %s: %w", a.storePath, err)
	}
	return store, badgerstore.IsRetryable, nil
}

// startBackground runs the periodic store health check and, for badger, value
// log garbage collection.
func (a *Adapter) startBackground(store types.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	a.background = cancel

	tracker, check := a.health, a.backend.HealthCheck
	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		tracker.StartChecks(ctx, storeComponent, check)
	}()

	bs, ok := store.(*badgerstore.Store)
	if !ok || a.config.Performance.GCInterval <= 0 {
		return
	}
	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		bs.RunGCLoop(ctx, a.config.Performance.GCInterval, gcDiscardRatio)
	}()
}

// Done is closed when the filesystem is unmounted, including by an external
// umount.
func (a *Adapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mount == nil {
		return nil
	}
	return a.mount.Done()
}

// Unmount detaches the filesystem. Stop must still be called afterwards.
func (a *Adapter) Unmount() error {
	a.mu.Lock()
	mount := a.mount
	a.mu.Unlock()
	if mount == nil {
		return fmt.Errorf("adapter not started")
	}
	return mount.Unmount()
}

// Stop unmounts if still mounted, waits for the server to finish, commits
// every open handle and closes the store.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return fmt.Errorf("adapter not started")
	}
	a.logger.Info("stopping levelfs")

	var errs []error
	if a.mount.IsMounted() {
		if err := a.mount.Unmount(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		a.mount.Wait()
	}

	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.started = false

	if err := stderrors.Join(errs...); err != nil {
		return err
	}
	a.logger.Info("levelfs stopped")
	return nil
}

// shutdown releases everything open built. It is safe on a partially
// opened adapter.
func (a *Adapter) shutdown(ctx context.Context) error {
	var errs []error

	if a.dispatcher != nil {
		if err := a.dispatcher.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush open files: %w", err))
		}
		a.dispatcher = nil
	}

	if a.background != nil {
		a.background()
		a.bgDone.Wait()
		a.background = nil
	}

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
		a.backend = nil
		a.store = nil
		a.health = nil
	} else if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
		a.store = nil
	}

	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		a.metrics = nil
	}

	return stderrors.Join(errs...)
}

// Dispatcher returns the request dispatcher, or nil before Start.
func (a *Adapter) Dispatcher() *driver.Dispatcher {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dispatcher
}

// Health returns the store health tracker, or nil before Start.
func (a *Adapter) Health() *health.Tracker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// MetricsAddr returns the address the metrics server listens on, or "" when
// metrics are disabled.
func (a *Adapter) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}
