/*
Package adapter wires the levelfs components together and owns their
lifecycle.

	┌─────────────────────────────────────────────┐
	│            Kernel VFS / FUSE                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   internal/fuse   node tree, MountManager   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   internal/driver  Dispatcher, handles,     │
	│                    attributes, listings     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   internal/backend  deadlines, retry,       │
	│                     circuit breaker         │
	└─────────────────────────────────────────────┘
	        │                           │
	┌───────┴────────┐         ┌────────┴───────┐
	│ storage/badger │         │   storage/s3   │
	└────────────────┘         └────────────────┘

The store path selects the store: "s3://bucket/prefix" opens an S3 bucket,
anything else is a badger directory created on first use.

# Lifecycle

	a, err := adapter.New(ctx, storePath, mountPoint, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	select {
	case <-a.Done():
	case <-signals:
		_ = a.Unmount()
		<-a.Done()
	}
	return a.Stop(ctx)

Stop commits every handle that is still open before the store is closed, so
data written by a process killed mid-write is not lost at unmount.
*/
package adapter
