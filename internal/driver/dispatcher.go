package driver

import (
	"context"
	"strings"
	"time"

	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/types"
)

// Dispatcher routes path-based filesystem requests to the driver. Every
// method is safe for concurrent use.
type Dispatcher struct {
	drv      *Driver
	resolver *namespace.Resolver
}

// NewDispatcher creates a dispatcher over drv.
func NewDispatcher(drv *Driver) *Dispatcher {
	return &Dispatcher{
		drv:      drv,
		resolver: namespace.NewResolver(drv.cfg.MaxDepth),
	}
}

// Driver returns the underlying driver.
func (d *Dispatcher) Driver() *Driver {
	return d.drv
}

// Lookup resolves name inside the directory at parent. It differs from
// Getattr only in how the path is given and in the metric it records.
func (d *Dispatcher) Lookup(ctx context.Context, parent, name string) (attr *types.Attr, err error) {
	defer d.observe("lookup", time.Now(), 0, &err)
	ref, err := d.resolveChild(parent, name)
	if err != nil {
		return nil, err
	}
	return d.drv.Stat(ctx, ref)
}

func (d *Dispatcher) Getattr(ctx context.Context, path string) (attr *types.Attr, err error) {
	defer d.observe("getattr", time.Now(), 0, &err)
	ref, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	return d.drv.Stat(ctx, ref)
}

func (d *Dispatcher) Readdir(ctx context.Context, path string) (entries []types.DirEntry, err error) {
	defer d.observe("readdir", time.Now(), 0, &err)
	ref, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	return d.drv.List(ctx, ref)
}

func (d *Dispatcher) Open(ctx context.Context, path string, flags int) (fh uint64, err error) {
	defer d.observe("open", time.Now(), 0, &err)
	ref, err := d.resolve(path)
	if err != nil {
		return 0, err
	}
	return d.drv.Open(ctx, ref, flags)
}

func (d *Dispatcher) Read(ctx context.Context, fh uint64, off int64, size int) (data []byte, err error) {
	start := time.Now()
	defer func() { d.observe("read", start, int64(len(data)), &err) }()
	return d.drv.Read(ctx, fh, off, size)
}

func (d *Dispatcher) Write(ctx context.Context, fh uint64, off int64, data []byte) (n int, err error) {
	defer d.observe("write", time.Now(), int64(len(data)), &err)
	return d.drv.Write(ctx, fh, off, data)
}

// Create makes the key name inside the directory at parent and returns an
// open handle with its attributes.
func (d *Dispatcher) Create(ctx context.Context, parent, name string, flags int) (fh uint64, attr *types.Attr, err error) {
	defer d.observe("create", time.Now(), 0, &err)
	ref, err := d.resolveChild(parent, name)
	if err != nil {
		return 0, nil, err
	}
	if err := d.requireParentDir(ctx, ref, "create"); err != nil {
		return 0, nil, err
	}
	fh, err = d.drv.Create(ctx, ref, flags)
	if err != nil {
		return 0, nil, err
	}
	attr, err = d.drv.Stat(ctx, ref)
	if err != nil {
		_ = d.drv.Release(ctx, fh)
		return 0, nil, err
	}
	return fh, attr, nil
}

func (d *Dispatcher) Mkdir(ctx context.Context, parent, name string) (attr *types.Attr, err error) {
	defer d.observe("mkdir", time.Now(), 0, &err)
	ref, err := d.resolveChild(parent, name)
	if err != nil {
		return nil, err
	}
	if err := d.requireParentDir(ctx, ref, "mkdir"); err != nil {
		return nil, err
	}
	if err := d.drv.Mkdir(ctx, ref); err != nil {
		return nil, err
	}
	return d.drv.dirAttr(ref), nil
}

func (d *Dispatcher) Rmdir(ctx context.Context, path string) (err error) {
	defer d.observe("rmdir", time.Now(), 0, &err)
	ref, err := d.resolve(path)
	if err != nil {
		return err
	}
	return d.drv.RemoveNamespace(ctx, ref)
}

func (d *Dispatcher) Unlink(ctx context.Context, path string) (err error) {
	defer d.observe("unlink", time.Now(), 0, &err)
	ref, err := d.resolve(path)
	if err != nil {
		return err
	}
	return d.drv.Remove(ctx, ref)
}

func (d *Dispatcher) Flush(ctx context.Context, fh uint64) (err error) {
	defer d.observe("flush", time.Now(), 0, &err)
	return d.drv.Flush(ctx, fh)
}

// Fsync commits like Flush; the store decides durability.
func (d *Dispatcher) Fsync(ctx context.Context, fh uint64) (err error) {
	defer d.observe("fsync", time.Now(), 0, &err)
	return d.drv.Flush(ctx, fh)
}

func (d *Dispatcher) Release(ctx context.Context, fh uint64) (err error) {
	defer d.observe("release", time.Now(), 0, &err)
	return d.drv.Release(ctx, fh)
}

// Setattr applies a size change, through fh when it is an open handle (0
// means none), and returns the resulting attributes.
func (d *Dispatcher) Setattr(ctx context.Context, path string, fh uint64, size int64) (attr *types.Attr, err error) {
	defer d.observe("setattr", time.Now(), 0, &err)
	ref, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := d.drv.Truncate(ctx, ref, fh, size); err != nil {
		return nil, err
	}
	return d.drv.Stat(ctx, ref)
}

func (d *Dispatcher) Rename(ctx context.Context, from, to string) (err error) {
	defer d.observe("rename", time.Now(), 0, &err)
	src, err := d.resolve(from)
	if err != nil {
		return err
	}
	dst, err := d.resolve(to)
	if err != nil {
		return err
	}
	if err := d.requireParentDir(ctx, dst, "rename"); err != nil {
		return err
	}
	return d.drv.Rename(ctx, src, dst)
}

// CloseAll flushes and releases every open handle.
func (d *Dispatcher) CloseAll(ctx context.Context) error {
	return d.drv.CloseAll(ctx)
}

func (d *Dispatcher) resolve(path string) (namespace.PathRef, error) {
	return d.resolver.Resolve(path)
}

// resolveChild resolves parent as a directory and name inside it.
func (d *Dispatcher) resolveChild(parent, name string) (namespace.PathRef, error) {
	if !strings.HasSuffix(parent, "/") {
		parent += "/"
	}
	dir, err := d.resolver.Resolve(parent)
	if err != nil {
		return namespace.PathRef{}, err
	}
	return d.resolver.ResolveChild(dir, name)
}

func (d *Dispatcher) requireParentDir(ctx context.Context, ref namespace.PathRef, op string) error {
	parent := ref.Parent()
	if parent.IsRoot() {
		return nil
	}
	isDir, err := d.drv.isDir(ctx, parent)
	if err != nil {
		return err
	}
	if isDir {
		return nil
	}
	return d.drv.missingDir(ctx, parent, op)
}

// observe records one request. Expected per-request outcomes such as a
// missing name are logged at debug level only.
func (d *Dispatcher) observe(op string, start time.Time, size int64, errp *error) {
	err := *errp
	d.drv.metrics.RecordOperation(op, time.Since(start), size, err == nil)
	if err == nil {
		return
	}
	d.drv.metrics.RecordError(op, err)
	switch errors.GetCategory(errors.CodeOf(err)) {
	case errors.CategoryFilesystem:
		d.drv.logger.Debug("request failed", "operation", op, "error", err)
	default:
		d.drv.logger.Warn("request failed", "operation", op, "error", err)
	}
}
