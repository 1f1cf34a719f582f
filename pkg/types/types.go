package types

import (
	"os"
	"time"
)

// EntryKind classifies a resolved path.
type EntryKind int

const (
	KindNone EntryKind = iota
	KindDirectory
	KindFile
)

func (k EntryKind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "none"
	}
}

// Attr is the synthesized stat information for an entry.
type Attr struct {
	Kind  EntryKind   `json:"kind"`
	Ino   uint64      `json:"ino"`
	Size  int64       `json:"size"`
	Mode  os.FileMode `json:"mode"`
	Nlink uint32      `json:"nlink"`
	Uid   uint32      `json:"uid"`
	Gid   uint32      `json:"gid"`
	Mtime time.Time   `json:"mtime"`
}

// IsDir reports whether the attributes describe a directory.
func (a *Attr) IsDir() bool {
	return a != nil && a.Kind == KindDirectory
}

// DirEntry is a single name produced by a directory listing.
type DirEntry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
	Ino  uint64    `json:"ino"`
}

// OpenFile describes an open handle for status reporting.
type OpenFile struct {
	Handle   uint64    `json:"handle"`
	Path     string    `json:"path"`
	Flags    int       `json:"flags"`
	Dirty    bool      `json:"dirty"`
	Size     int64     `json:"size"`
	OpenedAt time.Time `json:"opened_at"`
}
