// Package namespace maps mount-relative paths onto the namespaced keyspace.
//
// A path is resolved once per request into a PathRef, which is one of Root,
// Namespace(chain) or Entry(chain, key). Resolution is purely syntactic: it
// does not consult the store, so an Entry may later turn out to be a
// directory (a child namespace) or nothing at all.
package namespace

import (
	"strings"
)

// Kind identifies the shape of a PathRef.
type Kind int

const (
	KindRoot Kind = iota
	KindNamespace
	KindEntry
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindNamespace:
		return "namespace"
	case KindEntry:
		return "entry"
	default:
		return "unknown"
	}
}

// PathRef is a resolved path. The zero value is Root.
type PathRef struct {
	kind  Kind
	chain []string
	key   string
}

// Root returns the reference for the mount root.
func Root() PathRef {
	return PathRef{kind: KindRoot}
}

// Namespace returns a namespace reference. An empty chain is Root.
func Namespace(chain ...string) PathRef {
	if len(chain) == 0 {
		return Root()
	}
	return PathRef{kind: KindNamespace, chain: cloneChain(chain)}
}

// Entry returns a reference to key inside the namespace chain.
func Entry(chain []string, key string) PathRef {
	return PathRef{kind: KindEntry, chain: cloneChain(chain), key: key}
}

func (r PathRef) Kind() Kind { return r.kind }

// Chain returns the namespace chain. For an Entry this excludes the key.
func (r PathRef) Chain() []string { return cloneChain(r.chain) }

// Key returns the terminal key of an Entry, or "" otherwise.
func (r PathRef) Key() string { return r.key }

func (r PathRef) IsRoot() bool { return r.kind == KindRoot }

// Name returns the last path segment, or "" for Root.
func (r PathRef) Name() string {
	switch r.kind {
	case KindEntry:
		return r.key
	case KindNamespace:
		return r.chain[len(r.chain)-1]
	default:
		return ""
	}
}

// Depth is the number of path segments.
func (r PathRef) Depth() int {
	if r.kind == KindEntry {
		return len(r.chain) + 1
	}
	return len(r.chain)
}

// AsNamespace reinterprets an Entry as the child namespace of the same name.
// Root and Namespace references are returned unchanged.
func (r PathRef) AsNamespace() PathRef {
	if r.kind != KindEntry {
		return r
	}
	chain := make([]string, 0, len(r.chain)+1)
	chain = append(chain, r.chain...)
	return PathRef{kind: KindNamespace, chain: append(chain, r.key)}
}

// AsEntry reinterprets a Namespace as a key in its parent. Root has no entry
// form and is returned unchanged.
func (r PathRef) AsEntry() PathRef {
	if r.kind != KindNamespace {
		return r
	}
	n := len(r.chain)
	return Entry(r.chain[:n-1], r.chain[n-1])
}

// Parent returns the namespace containing r. The parent of Root is Root.
func (r PathRef) Parent() PathRef {
	switch r.kind {
	case KindEntry:
		return Namespace(r.chain...)
	case KindNamespace:
		return Namespace(r.chain[:len(r.chain)-1]...)
	default:
		return Root()
	}
}

// Child returns the Entry for name inside the namespace denoted by r.
func (r PathRef) Child(name string) PathRef {
	ns := r.AsNamespace()
	return Entry(ns.chain, name)
}

// Segments returns every path segment in order.
func (r PathRef) Segments() []string {
	segs := cloneChain(r.chain)
	if r.kind == KindEntry {
		segs = append(segs, r.key)
	}
	return segs
}

// String renders the mount-relative path with a leading slash.
func (r PathRef) String() string {
	return "/" + strings.Join(r.Segments(), "/")
}

// Equal reports whether two references denote the same path and shape.
func (r PathRef) Equal(o PathRef) bool {
	if r.kind != o.kind || r.key != o.key || len(r.chain) != len(o.chain) {
		return false
	}
	for i := range r.chain {
		if r.chain[i] != o.chain[i] {
			return false
		}
	}
	return true
}

func cloneChain(chain []string) []string {
	if len(chain) == 0 {
		return nil
	}
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}
