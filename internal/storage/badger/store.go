// Package badger implements types.Store on top of BadgerDB.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/levelfs/levelfs/pkg/types"
)

// Config contains the options for opening a BadgerDB store.
type Config struct {
	Path             string `yaml:"path"`
	InMemory         bool   `yaml:"in_memory"`
	SyncWrites       bool   `yaml:"sync_writes"`
	ReadOnly         bool   `yaml:"read_only"`
	BlockCacheSizeMB int64  `yaml:"block_cache_size_mb"`
	IndexCacheSizeMB int64  `yaml:"index_cache_size_mb"`
}

// NewDefaultConfig returns the default configuration for the store at path.
func NewDefaultConfig(path string) Config {
	return Config{
		Path:             path,
		SyncWrites:       true,
		BlockCacheSizeMB: 64,
		IndexCacheSizeMB: 32,
	}
}

// Store is a types.Store backed by a BadgerDB database.
type Store struct {
	db     *badgerdb.DB
	path   string
	logger *slog.Logger
}

var _ types.Store = (*Store)(nil)

// Open opens (creating if missing) the BadgerDB database described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger store path cannot be empty")
	}

	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithReadOnly(cfg.ReadOnly)

	if cfg.BlockCacheSizeMB > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSizeMB << 20)
	}
	if cfg.IndexCacheSizeMB > 0 {
		opts = opts.WithIndexCacheSize(cfg.IndexCacheSizeMB << 20)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	return &Store{
		db:     db,
		path:   cfg.Path,
		logger: slog.Default().With("component", "badger-store", "path", cfg.Path),
	}, nil
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, types.ErrKeyNotFound
	}
	if err != nil {
		return nil, s.translateError(err, "Get", key)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put stores value under key.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return s.translateError(err, "Put", key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return s.translateError(err, "Delete", key)
	}
	return nil
}

// Keys returns up to limit keys under prefix sorting after startAfter.
func (s *Store) Keys(ctx context.Context, prefix, startAfter []byte, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	var keys [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if startAfter != nil && bytes.Compare(startAfter, prefix) >= 0 {
			seek = startAfter
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			if startAfter != nil && bytes.Compare(key, startAfter) <= 0 {
				continue
			}
			keys = append(keys, it.Item().KeyCopy(nil))
			if len(keys) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, s.translateError(err, "Keys", prefix)
	}
	return keys, nil
}

// HealthCheck verifies the database is open and readable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("badger store %s is closed", s.path)
	}
	_, err := s.Keys(ctx, nil, nil, 1)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs one value log garbage collection pass. It returns nil when there
// was nothing to collect.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badgerdb.ErrNoRewrite) || errors.Is(err, badgerdb.ErrRejected) ||
		errors.Is(err, badgerdb.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// RunGCLoop runs value log GC every interval until ctx is done.
func (s *Store) RunGCLoop(ctx context.Context, interval time.Duration, discardRatio float64) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunGC(discardRatio); err != nil {
				s.logger.Warn("value log GC failed", "error", err)
			}
		}
	}
}

// IsRetryable reports whether err is a transient BadgerDB condition.
func IsRetryable(err error) bool {
	return errors.Is(err, badgerdb.ErrConflict) || errors.Is(err, badgerdb.ErrBlockedWrites)
}

func (s *Store) translateError(err error, operation string, key []byte) error {
	if errors.Is(err, badgerdb.ErrDBClosed) {
		return fmt.Errorf("%s failed for %q: store closed: %w", operation, key, err)
	}
	s.logger.Warn("store operation failed", "operation", operation, "key", string(key), "error", err)
	return fmt.Errorf("%s failed for %q: %w", operation, key, err)
}
