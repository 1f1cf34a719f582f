/*
Package fuse exposes the levelfs driver to the kernel through go-fuse.

The package is a thin bridge: every node operation converts its inode into a
mount-relative path, hands the request to the driver Dispatcher and maps the
result back into kernel structures. It keeps no state about the store itself.

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│          (ls, cat, cp, shell tools)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Kernel VFS / FUSE              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   node, fileHandle        ← This Package    │
	│   MountManager                              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        internal/driver Dispatcher           │
	└─────────────────────────────────────────────┘

# Nodes

A single node type serves both directories and files; the kind comes from
the attributes the driver synthesizes. Inode numbers are the driver's, so a
path keeps its number across lookups and remounts.

Supported operations:
  - Lookup, Getattr, Setattr (size only), Statfs
  - Readdir, Mkdir, Rmdir
  - Create, Open, Read, Write, Flush, Fsync, Release
  - Unlink, Rename

Links, extended attributes and ownership changes are not supported.
Files are opened with direct I/O so a file's size always comes from the
store rather than the kernel page cache.

# Mounting

	mgr := fuse.NewMountManager(fuse.NewFileSystem(dispatcher, logger),
		fuse.MountConfig{
			MountPoint: "/mnt/db",
			FSName:     "levelfs",
			ReadOnly:   true,
		}, logger)
	if err := mgr.Mount(ctx); err != nil {
		return err
	}
	<-mgr.Done()

Unmount falls back to a lazy detach when the regular unmount fails, for
example because a process still holds a file open. An unprivileged process
cannot detach the mount itself, so the detach then goes through fusermount
or fusermount3.

# Errors

Driver errors carry a code from pkg/errors. errors.ToErrno picks the errno
returned to the kernel, and anything unclassified becomes EIO.
*/
package fuse
