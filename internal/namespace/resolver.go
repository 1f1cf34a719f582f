package namespace

import (
	"fmt"
	"strings"

	"github.com/levelfs/levelfs/pkg/errors"
)

const (
	// DefaultMaxDepth bounds the number of segments in a path.
	DefaultMaxDepth = 64

	// MaxNameLength matches the usual NAME_MAX.
	MaxNameLength = 255
)

// Resolver parses mount-relative paths into PathRefs.
type Resolver struct {
	MaxDepth int
}

// NewResolver creates a resolver. A non-positive maxDepth selects DefaultMaxDepth.
func NewResolver(maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{MaxDepth: maxDepth}
}

// Resolve classifies path. "/" and "" are Root, a trailing slash forces a
// Namespace, anything else is an Entry whose last segment is the key.
// Repeated slashes and "." segments are ignored.
func (r *Resolver) Resolve(path string) (PathRef, error) {
	trailing := strings.HasSuffix(path, "/")

	var segs []string
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return PathRef{}, errors.InvalidPath(path, "parent references are not allowed").
				WithComponent("resolver")
		}
		if err := ValidateName(seg); err != nil {
			return PathRef{}, errors.InvalidPath(path, err.Error()).WithComponent("resolver")
		}
		segs = append(segs, seg)
	}

	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if len(segs) > maxDepth {
		return PathRef{}, errors.InvalidPath(path, fmt.Sprintf("path depth %d exceeds maximum %d", len(segs), maxDepth)).
			WithComponent("resolver")
	}

	switch {
	case len(segs) == 0:
		return Root(), nil
	case trailing:
		return Namespace(segs...), nil
	default:
		return Entry(segs[:len(segs)-1], segs[len(segs)-1]), nil
	}
}

// ResolveChild resolves name inside parent, applying the same name and depth
// rules as Resolve.
func (r *Resolver) ResolveChild(parent PathRef, name string) (PathRef, error) {
	if name == "" || name == "." || name == ".." {
		return PathRef{}, errors.InvalidPath(name, "invalid name").WithComponent("resolver")
	}
	if err := ValidateName(name); err != nil {
		return PathRef{}, errors.InvalidPath(name, err.Error()).WithComponent("resolver")
	}
	child := parent.Child(name)
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if child.Depth() > maxDepth {
		return PathRef{}, errors.InvalidPath(child.String(), fmt.Sprintf("path depth %d exceeds maximum %d", child.Depth(), maxDepth)).
			WithComponent("resolver")
	}
	return child, nil
}

// ValidateName rejects names that cannot be encoded as a single key segment.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d bytes", MaxNameLength)
	}
	if strings.IndexByte(name, Separator) >= 0 {
		return fmt.Errorf("name contains reserved separator byte 0x%X", Separator)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("name contains NUL byte")
	}
	if strings.IndexByte(name, '/') >= 0 {
		return fmt.Errorf("name contains path separator")
	}
	return nil
}
