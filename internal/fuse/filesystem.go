package fuse

import (
	"context"
	"log/slog"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/levelfs/levelfs/internal/driver"
	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/types"
)

const blockSize = 4096

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// FileSystem bridges kernel requests to a driver.Dispatcher. Nodes carry no
// state of their own: every request is resolved from the node's path.
type FileSystem struct {
	dispatcher *driver.Dispatcher
	logger     *slog.Logger
}

// NewFileSystem creates a FUSE filesystem over dispatcher.
func NewFileSystem(dispatcher *driver.Dispatcher, logger *slog.Logger) *FileSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSystem{
		dispatcher: dispatcher,
		logger:     logger.With("component", "fuse"),
	}
}

// Root returns the root inode
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &node{fsys: fsys}
}

// node is a file or directory. Which one is fixed by the StableAttr it was
// created with.
type node struct {
	fs.Inode
	fsys *FileSystem
}

var (
	_ fs.InodeEmbedder = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
	_ fs.NodeStatfser  = (*node)(nil)
)

// Lookup looks up a child node by name
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := n.fsys.dispatcher.Lookup(ctx, n.dirPath(), name)
	if err != nil {
		return nil, errors.ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return n.newChild(ctx, attr), 0
}

func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.fsys.dispatcher.Getattr(ctx, n.path())
	if err != nil {
		return errors.ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

// Setattr applies size changes. Mode, ownership and time changes are accepted
// and ignored; those attributes are synthesized.
func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	var (
		attr *types.Attr
		err  error
	)
	if size, ok := in.GetSize(); ok {
		var id uint64
		if h, ok := fh.(*fileHandle); ok {
			id = h.id
		}
		attr, err = n.fsys.dispatcher.Setattr(ctx, n.path(), id, int64(size))
	} else {
		attr, err = n.fsys.dispatcher.Getattr(ctx, n.path())
	}
	if err != nil {
		return errors.ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

// Readdir reads directory contents
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	list, err := n.fsys.dispatcher.Readdir(ctx, n.dirPath())
	if err != nil {
		return nil, errors.ToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(list))
	for _, e := range list {
		mode := uint32(syscall.S_IFREG)
		if e.Kind == types.KindDirectory {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: mode, Ino: e.Ino})
	}
	return fs.NewListDirStream(entries), 0
}

// Open opens a file. Reads bypass the page cache so that a size cached by the
// kernel never hides bytes written through another handle.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	id, err := n.fsys.dispatcher.Open(ctx, n.path(), int(flags))
	if err != nil {
		return nil, 0, errors.ToErrno(err)
	}
	return &fileHandle{fsys: n.fsys, id: id}, fuse.FOPEN_DIRECT_IO, 0
}

// Create creates a new key and opens it
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	id, attr, err := n.fsys.dispatcher.Create(ctx, n.dirPath(), name, int(flags))
	if err != nil {
		return nil, nil, 0, errors.ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return n.newChild(ctx, attr), &fileHandle{fsys: n.fsys, id: id}, fuse.FOPEN_DIRECT_IO, 0
}

// Mkdir creates a new, initially empty, namespace
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	attr, err := n.fsys.dispatcher.Mkdir(ctx, n.dirPath(), name)
	if err != nil {
		return nil, errors.ToErrno(err)
	}
	fillAttr(attr, &out.Attr)
	return n.newChild(ctx, attr), 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errors.ToErrno(n.fsys.dispatcher.Rmdir(ctx, n.childPath(name)))
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errors.ToErrno(n.fsys.dispatcher.Unlink(ctx, n.childPath(name)))
}

// Rename moves a key. renameat2 flags are not supported.
func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	target := newParent.EmbeddedInode().Path(nil)
	return errors.ToErrno(n.fsys.dispatcher.Rename(ctx, n.childPath(name), joinPath(target, newName)))
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.NameLen = namespace.MaxNameLength
	return 0
}

func (n *node) newChild(ctx context.Context, attr *types.Attr) *fs.Inode {
	mode := uint32(syscall.S_IFREG)
	if attr.IsDir() {
		mode = syscall.S_IFDIR
	}
	return n.NewInode(ctx, &node{fsys: n.fsys}, fs.StableAttr{Mode: mode, Ino: attr.Ino})
}

func (n *node) path() string {
	return "/" + n.Path(nil)
}

// dirPath returns the path with a trailing slash, which resolves to a
// namespace even for the root.
func (n *node) dirPath() string {
	p := n.Path(nil)
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}

func (n *node) childPath(name string) string {
	return joinPath(n.Path(nil), name)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return "/" + name
	}
	return "/" + parent + "/" + name
}

// fillAttr converts synthesized attributes to their kernel form.
func fillAttr(a *types.Attr, out *fuse.Attr) {
	out.Ino = a.Ino
	out.Size = safeInt64ToUint64(a.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = blockSize
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.Uid, Gid: a.Gid}

	mode := uint32(a.Mode.Perm())
	if a.IsDir() {
		mode |= syscall.S_IFDIR
	} else {
		mode |= syscall.S_IFREG
	}
	out.Mode = mode

	mtime := a.Mtime
	out.SetTimes(&mtime, &mtime, &mtime)
}

// fileHandle is an open handle in the driver's handle table.
type fileHandle struct {
	fsys *FileSystem
	id   uint64
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileFlusher  = (*fileHandle)(nil)
	_ fs.FileFsyncer  = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := fh.fsys.dispatcher.Read(ctx, fh.id, off, len(dest))
	if err != nil {
		return nil, errors.ToErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.fsys.dispatcher.Write(ctx, fh.id, off, data)
	if err != nil {
		return 0, errors.ToErrno(err)
	}
	return safeIntToUint32(n), 0
}

// Flush runs on every close of a descriptor and commits pending writes.
func (fh *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return errors.ToErrno(fh.fsys.dispatcher.Flush(ctx, fh.id))
}

func (fh *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return errors.ToErrno(fh.fsys.dispatcher.Fsync(ctx, fh.id))
}

// Release drops the handle. The kernel ignores its result, so failures are
// only logged by the dispatcher.
func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	return errors.ToErrno(fh.fsys.dispatcher.Release(ctx, fh.id))
}
