package driver

import (
	"context"
	stderr "errors"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/types"
)

// handle is one open session on a key. Writes go to buf; the backend sees
// them only when the handle is flushed.
type handle struct {
	id       uint64
	flags    int
	writable bool
	openedAt time.Time

	mu           sync.Mutex
	ref          namespace.PathRef
	key          []byte
	buf          []byte
	dirty        bool
	stale        bool
	materialized bool
	orphaned     bool
}

func (h *handle) currentKey() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key
}

// handleTable indexes open handles by id and by stored key.
type handleTable struct {
	mu    sync.RWMutex
	next  uint64
	byID  map[uint64]*handle
	byKey map[string]map[uint64]*handle
}

func newHandleTable() *handleTable {
	return &handleTable{
		byID:  make(map[uint64]*handle),
		byKey: make(map[string]map[uint64]*handle),
	}
}

func (t *handleTable) add(h *handle) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h.id = t.next
	t.byID[h.id] = h
	k := string(h.key)
	if t.byKey[k] == nil {
		t.byKey[k] = make(map[uint64]*handle)
	}
	t.byKey[k][h.id] = h
	return h.id
}

func (t *handleTable) get(id uint64) (*handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byID[id]
	return h, ok
}

func (t *handleTable) remove(h *handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, h.id)
	k := string(h.currentKey())
	if set := t.byKey[k]; set != nil {
		delete(set, h.id)
		if len(set) == 0 {
			delete(t.byKey, k)
		}
	}
}

func (t *handleTable) forKey(key []byte) []*handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byKey[string(key)]
	out := make([]*handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

func (t *handleTable) all() []*handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*handle, 0, len(t.byID))
	for _, h := range t.byID {
		out = append(out, h)
	}
	return out
}

func (t *handleTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// orphan detaches every handle on key. Their later reads and writes fail
// with NotFound.
func (t *handleTable) orphan(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range t.byKey[string(key)] {
		h.mu.Lock()
		h.orphaned = true
		h.dirty = false
		h.mu.Unlock()
	}
}

// rekey moves the handles on from so they follow to.
func (t *handleTable) rekey(from, to []byte, toRef namespace.PathRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.byKey[string(from)]
	if len(set) == 0 {
		return
	}
	delete(t.byKey, string(from))
	dst := t.byKey[string(to)]
	if dst == nil {
		dst = make(map[uint64]*handle)
		t.byKey[string(to)] = dst
	}
	for id, h := range set {
		h.mu.Lock()
		h.ref = toRef
		h.key = to
		h.mu.Unlock()
		dst[id] = h
	}
}

// pendingSize reports the buffer length of a dirty handle on key, if any.
func (t *handleTable) pendingSize(key []byte) (int64, bool) {
	for _, h := range t.forKey(key) {
		h.mu.Lock()
		dirty, size := h.dirty && !h.orphaned, int64(len(h.buf))
		h.mu.Unlock()
		if dirty {
			return size, true
		}
	}
	return 0, false
}

// Open starts a session on an Entry. Read-only opens require the key to
// exist; write opens of a missing key create it on the first flush.
func (d *Driver) Open(ctx context.Context, ref namespace.PathRef, flags int) (uint64, error) {
	if ref.Kind() != namespace.KindEntry {
		return 0, errors.IsADirectory(ref.String()).WithComponent("driver").WithOperation("open")
	}
	isDir, err := d.isDir(ctx, ref)
	if err != nil {
		return 0, err
	}
	if isDir {
		return 0, errors.IsADirectory(ref.String()).WithComponent("driver").WithOperation("open")
	}

	value, err := d.backend.Get(ctx, ref)
	switch {
	case err == nil:
		return d.openHandle(ref, flags, value, true)
	case errors.IsCode(err, errors.ErrCodeNotFound):
		if !isWriteMode(flags) {
			return 0, errors.NotFound(ref.String()).WithComponent("driver").WithOperation("open")
		}
		return d.openHandle(ref, flags, nil, false)
	default:
		return 0, err
	}
}

func isWriteMode(flags int) bool {
	return flags&syscall.O_ACCMODE != syscall.O_RDONLY
}

func (d *Driver) openHandle(ref namespace.PathRef, flags int, value []byte, exists bool) (uint64, error) {
	writable := isWriteMode(flags)
	if d.cfg.ReadOnly && (writable || flags&syscall.O_TRUNC != 0) {
		return 0, errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("open").WithContext("path", ref.String())
	}

	h := &handle{
		flags:        flags,
		writable:     writable,
		openedAt:     time.Now(),
		ref:          ref,
		key:          ref.StoredKey(),
		buf:          value,
		materialized: exists,
	}
	if writable && flags&syscall.O_TRUNC != 0 {
		h.buf = nil
		h.dirty = exists && len(value) > 0
	}

	id := d.handles.add(h)
	d.metrics.SetOpenHandles(d.handles.len())
	d.logger.Debug("opened handle", "handle", id, "path", ref.String(), "flags", flags)
	return id, nil
}

// Read returns up to size bytes at off from the handle's view of the value.
func (d *Driver) Read(ctx context.Context, id uint64, off int64, size int) ([]byte, error) {
	h, err := d.lookupHandle(id, "read")
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.orphaned {
		return nil, errors.NotFound(h.ref.String()).WithComponent("driver").WithOperation("read")
	}
	if h.stale && !h.dirty {
		value, err := d.backend.Get(ctx, h.ref)
		if err != nil {
			return nil, err
		}
		h.buf = value
		h.stale = false
	}

	if off < 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "negative offset").
			WithComponent("driver").WithOperation("read")
	}
	if off >= int64(len(h.buf)) {
		return []byte{}, nil
	}
	end := off + int64(size)
	if end > int64(len(h.buf)) {
		end = int64(len(h.buf))
	}
	out := make([]byte, end-off)
	copy(out, h.buf[off:end])
	return out, nil
}

// Write stores data at off in the handle's buffer, zero-filling any gap.
// It never touches the backend.
func (d *Driver) Write(ctx context.Context, id uint64, off int64, data []byte) (int, error) {
	h, err := d.lookupHandle(id, "write")
	if err != nil {
		return 0, err
	}
	if !h.writable {
		return 0, errors.NewError(errors.ErrCodeBadHandle, "handle is not open for writing").
			WithComponent("driver").WithOperation("write")
	}
	if off < 0 {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "negative offset").
			WithComponent("driver").WithOperation("write")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.orphaned {
		return 0, errors.NotFound(h.ref.String()).WithComponent("driver").WithOperation("write")
	}
	if h.flags&syscall.O_APPEND != 0 {
		off = int64(len(h.buf))
	}
	if err := d.checkValueSize(off, len(data), h.ref, "write"); err != nil {
		return 0, err
	}

	end := off + int64(len(data))
	if end > int64(len(h.buf)) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[off:end], data)
	h.dirty = true
	h.stale = false
	return len(data), nil
}

// Flush commits the buffer with a single put when it holds unsaved changes.
// A failed commit leaves the handle dirty.
func (d *Driver) Flush(ctx context.Context, id uint64) error {
	h, err := d.lookupHandle(id, "flush")
	if err != nil {
		return err
	}
	return d.commit(ctx, h)
}

func (d *Driver) commit(ctx context.Context, h *handle) error {
	for {
		key := h.currentKey()
		unlock := d.locks.Lock(key)

		h.mu.Lock()
		if string(h.key) != string(key) {
			// Renamed while waiting for the lock.
			h.mu.Unlock()
			unlock()
			continue
		}
		err := d.commitLocked(ctx, h)
		h.mu.Unlock()
		unlock()
		return err
	}
}

// commitLocked requires the key lock and h.mu.
func (d *Driver) commitLocked(ctx context.Context, h *handle) error {
	if h.orphaned {
		return errors.NotFound(h.ref.String()).WithComponent("driver").WithOperation("flush")
	}
	if !h.writable || (!h.dirty && h.materialized) {
		return nil
	}

	value := h.buf
	if value == nil {
		value = []byte{}
	}
	if err := d.backend.Put(ctx, h.ref, value); err != nil {
		d.logger.Error("commit failed", "path", h.ref.String(), "size", len(value), "error", err)
		return asIOError(err, "commit failed", h.ref)
	}

	h.dirty = false
	h.materialized = true
	h.stale = true
	d.recordCommit(h.key, time.Now())
	return nil
}

// Release flushes and discards a handle. Releasing an unknown handle is a
// no-op. When the final flush fails the handle stays open.
func (d *Driver) Release(ctx context.Context, id uint64) error {
	h, ok := d.handles.get(id)
	if !ok {
		return nil
	}

	err := d.commit(ctx, h)
	if err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
		return err
	}

	d.handles.remove(h)
	d.metrics.SetOpenHandles(d.handles.len())
	d.logger.Debug("released handle", "handle", id)
	return nil
}

// Truncate resizes the value of ref. With an open writable handle only its
// buffer changes; otherwise the stored value is rewritten.
func (d *Driver) Truncate(ctx context.Context, ref namespace.PathRef, id uint64, size int64) error {
	if size < 0 {
		return errors.NewError(errors.ErrCodeInvalidArgument, "negative size").
			WithComponent("driver").WithOperation("truncate")
	}
	if d.cfg.ReadOnly {
		return errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("truncate")
	}
	if err := d.checkValueSize(size, 0, ref, "truncate"); err != nil {
		return err
	}

	if h, ok := d.handles.get(id); ok && h.writable {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.orphaned {
			return errors.NotFound(h.ref.String()).WithComponent("driver").WithOperation("truncate")
		}
		h.buf = resize(h.buf, size)
		h.dirty = true
		h.stale = false
		return nil
	}

	if ref.Kind() != namespace.KindEntry {
		return errors.IsADirectory(ref.String()).WithComponent("driver").WithOperation("truncate")
	}
	isDir, err := d.isDir(ctx, ref)
	if err != nil {
		return err
	}
	if isDir {
		return errors.IsADirectory(ref.String()).WithComponent("driver").WithOperation("truncate")
	}

	key := ref.StoredKey()
	unlock := d.locks.Lock(key)
	defer unlock()

	value, err := d.backend.Get(ctx, ref)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return errors.NotFound(ref.String()).WithComponent("driver").WithOperation("truncate")
		}
		return err
	}
	if int64(len(value)) == size {
		return nil
	}
	if err := d.backend.Put(ctx, ref, resize(value, size)); err != nil {
		return asIOError(err, "truncate failed", ref)
	}
	d.recordCommit(key, time.Now())
	return nil
}

// checkValueSize rejects a value that would end past MaxValueSize once n
// bytes are placed at off.
func (d *Driver) checkValueSize(off int64, n int, ref namespace.PathRef, op string) error {
	limit := d.cfg.MaxValueSize
	if int64(n) <= limit && off <= limit-int64(n) {
		return nil
	}
	return errors.NewError(errors.ErrCodeFileTooLarge, "value exceeds the size limit").
		WithComponent("driver").WithOperation(op).
		WithContext("path", ref.String()).WithDetail("max_value_size", limit)
}

func resize(buf []byte, size int64) []byte {
	if int64(len(buf)) >= size {
		return buf[:size:size]
	}
	grown := make([]byte, size)
	copy(grown, buf)
	return grown
}

// Create stores an empty value for a missing key and opens it for writing.
func (d *Driver) Create(ctx context.Context, ref namespace.PathRef, flags int) (uint64, error) {
	if ref.Kind() != namespace.KindEntry {
		return 0, errors.AlreadyExists(ref.String()).WithComponent("driver").WithOperation("create")
	}
	if d.cfg.ReadOnly {
		return 0, errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("create")
	}
	isDir, err := d.isDir(ctx, ref)
	if err != nil {
		return 0, err
	}
	if isDir {
		return 0, errors.AlreadyExists(ref.String()).WithComponent("driver").WithOperation("create")
	}

	if !isWriteMode(flags) {
		flags |= syscall.O_RDWR
	}

	key := ref.StoredKey()
	unlock := d.locks.Lock(key)
	defer unlock()

	value, err := d.backend.Get(ctx, ref)
	switch {
	case err == nil:
		if flags&syscall.O_EXCL != 0 {
			return 0, errors.AlreadyExists(ref.String()).WithComponent("driver").WithOperation("create")
		}
		return d.openHandle(ref, flags, value, true)
	case errors.IsCode(err, errors.ErrCodeNotFound):
		if err := d.backend.Put(ctx, ref, []byte{}); err != nil {
			return 0, asIOError(err, "create failed", ref)
		}
		d.recordCommit(key, time.Now())
		return d.openHandle(ref, flags, []byte{}, true)
	default:
		return 0, err
	}
}

// Remove deletes the key ref names and orphans its open handles.
func (d *Driver) Remove(ctx context.Context, ref namespace.PathRef) error {
	if ref.Kind() != namespace.KindEntry {
		return errors.IsADirectory(ref.String()).WithComponent("driver").WithOperation("remove")
	}
	if d.cfg.ReadOnly {
		return errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("remove")
	}
	isDir, err := d.isDir(ctx, ref)
	if err != nil {
		return err
	}
	if isDir {
		return errors.IsADirectory(ref.String()).WithComponent("driver").WithOperation("remove")
	}

	key := ref.StoredKey()
	unlock := d.locks.Lock(key)
	defer unlock()

	exists, err := d.backend.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NotFound(ref.String()).WithComponent("driver").WithOperation("remove")
	}
	if err := d.backend.Delete(ctx, ref); err != nil {
		return asIOError(err, "delete failed", ref)
	}
	d.handles.orphan(key)
	d.forgetCommit(key)
	return nil
}

// RemoveNamespace removes an empty directory.
func (d *Driver) RemoveNamespace(ctx context.Context, ref namespace.PathRef) error {
	ns := ref.AsNamespace()
	if ns.IsRoot() {
		return errors.NewError(errors.ErrCodeInvalidArgument, "cannot remove the mount root").
			WithComponent("driver").WithOperation("rmdir")
	}
	if d.cfg.ReadOnly {
		return errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("rmdir")
	}

	chain := ns.Chain()
	hasKeys, err := d.backend.HasDescendants(ctx, ns)
	if err != nil {
		return err
	}
	if hasKeys || len(d.dirs.Children(chain)) > 0 {
		return errors.NotEmpty(ns.String()).WithComponent("driver").WithOperation("rmdir")
	}
	if d.dirs.Registered(chain) {
		d.dirs.Remove(chain)
		return nil
	}
	return d.missingDir(ctx, ns, "rmdir")
}

// Mkdir registers an empty namespace for the rest of the mount session.
func (d *Driver) Mkdir(ctx context.Context, ref namespace.PathRef) error {
	ns := ref.AsNamespace()
	if ns.IsRoot() {
		return errors.AlreadyExists("/").WithComponent("driver").WithOperation("mkdir")
	}
	if d.cfg.ReadOnly {
		return errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("mkdir")
	}

	isDir, err := d.isDir(ctx, ns)
	if err != nil {
		return err
	}
	if isDir {
		return errors.AlreadyExists(ns.String()).WithComponent("driver").WithOperation("mkdir")
	}
	exists, err := d.backend.Exists(ctx, ns.AsEntry())
	if err != nil {
		return err
	}
	if exists {
		return errors.AlreadyExists(ns.String()).WithComponent("driver").WithOperation("mkdir")
	}

	d.dirs.Add(ns.Chain())
	return nil
}

// Rename moves a key. Open handles on the source follow it and handles on a
// replaced destination are orphaned. Namespaces cannot be renamed.
func (d *Driver) Rename(ctx context.Context, from, to namespace.PathRef) error {
	if from.Kind() != namespace.KindEntry || to.Kind() != namespace.KindEntry {
		return errors.NewError(errors.ErrCodeInvalidArgument, "rename requires two names").
			WithComponent("driver").WithOperation("rename")
	}
	if d.cfg.ReadOnly {
		return errors.NewError(errors.ErrCodeReadOnly, "filesystem is mounted read-only").
			WithComponent("driver").WithOperation("rename")
	}

	srcDir, err := d.isDir(ctx, from)
	if err != nil {
		return err
	}
	if srcDir {
		return errors.NewError(errors.ErrCodeCrossDevice, "directories cannot be renamed").
			WithComponent("driver").WithOperation("rename").WithContext("path", from.String())
	}
	dstDir, err := d.isDir(ctx, to)
	if err != nil {
		return err
	}
	if dstDir {
		return errors.IsADirectory(to.String()).WithComponent("driver").WithOperation("rename")
	}

	// Unsaved writes on the source move with it.
	for _, h := range d.handles.forKey(from.StoredKey()) {
		if err := d.commit(ctx, h); err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
			return err
		}
	}

	fromKey, toKey := from.StoredKey(), to.StoredKey()
	unlock := d.locks.LockAll(fromKey, toKey)
	defer unlock()

	value, err := d.backend.Get(ctx, from)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return errors.NotFound(from.String()).WithComponent("driver").WithOperation("rename")
		}
		return err
	}
	if from.Equal(to) {
		return nil
	}

	if err := d.backend.Put(ctx, to, value); err != nil {
		return asIOError(err, "rename failed", to)
	}
	if err := d.backend.Delete(ctx, from); err != nil {
		return asIOError(err, "rename failed", from)
	}

	d.handles.orphan(toKey)
	d.handles.rekey(fromKey, toKey, to)
	d.moveCommit(fromKey, toKey)
	return nil
}

// CloseAll flushes and releases every open handle in parallel. Handles whose
// flush fails stay open and their errors are joined.
func (d *Driver) CloseAll(ctx context.Context) error {
	open := d.handles.all()
	if len(open) == 0 {
		return nil
	}
	d.logger.Info("closing open handles", "count", len(open))

	p := pool.New().WithMaxGoroutines(d.cfg.FlushParallelism).WithErrors()
	for _, h := range open {
		p.Go(func() error {
			return d.Release(ctx, h.id)
		})
	}
	return p.Wait()
}

// OpenFiles describes every open handle.
func (d *Driver) OpenFiles() []types.OpenFile {
	open := d.handles.all()
	out := make([]types.OpenFile, 0, len(open))
	for _, h := range open {
		h.mu.Lock()
		out = append(out, types.OpenFile{
			Handle:   h.id,
			Path:     h.ref.String(),
			Flags:    h.flags,
			Dirty:    h.dirty,
			Size:     int64(len(h.buf)),
			OpenedAt: h.openedAt,
		})
		h.mu.Unlock()
	}
	return out
}

func (d *Driver) lookupHandle(id uint64, op string) (*handle, error) {
	h, ok := d.handles.get(id)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeBadHandle, "unknown file handle").
			WithComponent("driver").WithOperation(op).WithDetail("handle", id)
	}
	return h, nil
}

// asIOError keeps classified backend errors and wraps anything else as
// IO_ERROR.
func asIOError(err error, msg string, ref namespace.PathRef) error {
	var lerr *errors.LevelFSError
	if stderr.As(err, &lerr) {
		return err
	}
	return errors.IOError(err, msg).WithComponent("driver").WithContext("path", ref.String())
}
