package driver

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/zeebo/blake3"

	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/types"
)

// RootIno is the inode number of the mount root.
const RootIno uint64 = 1

// Stat synthesizes attributes for ref. A namespace shadows a key of the same
// name. Stat never writes to the backend.
func (d *Driver) Stat(ctx context.Context, ref namespace.PathRef) (*types.Attr, error) {
	if ref.IsRoot() {
		return d.dirAttr(ref), nil
	}

	isDir, err := d.isDir(ctx, ref)
	if err != nil {
		return nil, err
	}
	if isDir {
		return d.dirAttr(ref), nil
	}
	if ref.Kind() != namespace.KindEntry {
		return nil, errors.NotFound(ref.String()).WithComponent("driver").WithOperation("stat")
	}

	value, err := d.backend.Get(ctx, ref)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.NotFound(ref.String()).WithComponent("driver").WithOperation("stat")
		}
		return nil, err
	}

	size := int64(len(value))
	if pending, ok := d.handles.pendingSize(ref.StoredKey()); ok {
		size = pending
	}
	return d.fileAttr(ref, size), nil
}

// isDir reports whether the namespace form of ref exists, either in the
// mkdir registry or as a prefix of at least one stored key.
func (d *Driver) isDir(ctx context.Context, ref namespace.PathRef) (bool, error) {
	ns := ref.AsNamespace()
	if ns.IsRoot() || d.dirs.Exists(ns.Chain()) {
		return true, nil
	}
	return d.backend.HasDescendants(ctx, ns)
}

func (d *Driver) dirAttr(ref namespace.PathRef) *types.Attr {
	ns := ref.AsNamespace()
	ino := RootIno
	if !ns.IsRoot() {
		ino = inodeFor(types.KindDirectory, ns.Prefix())
	}
	return &types.Attr{
		Kind:  types.KindDirectory,
		Ino:   ino,
		Mode:  os.ModeDir | d.cfg.DirMode.Perm(),
		Nlink: 2,
		Uid:   d.cfg.Uid,
		Gid:   d.cfg.Gid,
		Mtime: d.mountTime,
	}
}

func (d *Driver) fileAttr(ref namespace.PathRef, size int64) *types.Attr {
	key := ref.StoredKey()
	return &types.Attr{
		Kind:  types.KindFile,
		Ino:   inodeFor(types.KindFile, key),
		Size:  size,
		Mode:  d.cfg.FileMode.Perm(),
		Nlink: 1,
		Uid:   d.cfg.Uid,
		Gid:   d.cfg.Gid,
		Mtime: d.commitTime(key),
	}
}

// inodeFor derives a stable inode number from the kind and encoded name.
// Numbers at or below RootIno are shifted out of the way.
func inodeFor(kind types.EntryKind, encoded []byte) uint64 {
	buf := make([]byte, 0, len(encoded)+1)
	buf = append(buf, byte(kind))
	buf = append(buf, encoded...)
	sum := blake3.Sum256(buf)
	ino := binary.LittleEndian.Uint64(sum[:8])
	if ino <= RootIno {
		ino += RootIno + 1
	}
	return ino
}
