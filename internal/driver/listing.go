package driver

import (
	"context"
	"sort"

	"github.com/levelfs/levelfs/internal/namespace"
	"github.com/levelfs/levelfs/pkg/errors"
	"github.com/levelfs/levelfs/pkg/types"
)

// List returns the immediate children of the namespace ref denotes, sorted
// by name. A name that is both a key and a namespace is listed once, as a
// directory. Every call rescans the backend.
func (d *Driver) List(ctx context.Context, ref namespace.PathRef) ([]types.DirEntry, error) {
	ns := ref.AsNamespace()

	children, err := d.backend.Children(ctx, ns)
	if err != nil {
		return nil, err
	}
	registered := d.dirs.Children(ns.Chain())

	if len(children) == 0 && len(registered) == 0 && !ns.IsRoot() && !d.dirs.Registered(ns.Chain()) {
		return nil, d.missingDir(ctx, ns, "list")
	}

	kinds := make(map[string]types.EntryKind, len(children)+len(registered))
	for _, c := range children {
		if c.IsNamespace {
			kinds[c.Name] = types.KindDirectory
		} else if _, ok := kinds[c.Name]; !ok {
			kinds[c.Name] = types.KindFile
		}
	}
	for _, name := range registered {
		kinds[name] = types.KindDirectory
	}

	entries := make([]types.DirEntry, 0, len(kinds))
	for name, kind := range kinds {
		child := ns.Child(name)
		var ino uint64
		if kind == types.KindDirectory {
			ino = inodeFor(kind, child.Prefix())
		} else {
			ino = inodeFor(kind, child.StoredKey())
		}
		entries = append(entries, types.DirEntry{Name: name, Kind: kind, Ino: ino})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// missingDir explains why the namespace ns does not exist: its name is a key
// (NotADirectory) or nothing at all (NotFound).
func (d *Driver) missingDir(ctx context.Context, ns namespace.PathRef, op string) error {
	exists, err := d.backend.Exists(ctx, ns.AsEntry())
	if err != nil {
		return err
	}
	if exists {
		return errors.NotADirectory(ns.String()).WithComponent("driver").WithOperation(op)
	}
	return errors.NotFound(ns.String()).WithComponent("driver").WithOperation(op)
}
