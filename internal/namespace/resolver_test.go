package namespace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levelfs/levelfs/pkg/errors"
)

func TestResolve(t *testing.T) {
	r := NewResolver(0)

	tests := []struct {
		name  string
		path  string
		kind  Kind
		chain []string
		key   string
	}{
		{"empty is root", "", KindRoot, nil, ""},
		{"slash is root", "/", KindRoot, nil, ""},
		{"double slash is root", "//", KindRoot, nil, ""},
		{"top level entry", "/foo", KindEntry, nil, "foo"},
		{"nested entry", "/foo/foo1", KindEntry, []string{"foo"}, "foo1"},
		{"deep entry", "/a/b/c/d", KindEntry, []string{"a", "b", "c"}, "d"},
		{"trailing slash is namespace", "/foo/", KindNamespace, []string{"foo"}, ""},
		{"collapsed slashes", "//foo///bar", KindEntry, []string{"foo"}, "bar"},
		{"dot segments dropped", "/foo/./bar", KindEntry, []string{"foo"}, "bar"},
		{"relative path", "foo/bar", KindEntry, []string{"foo"}, "bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := r.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ref.Kind())
			assert.Equal(t, tt.chain, ref.Chain())
			assert.Equal(t, tt.key, ref.Key())
		})
	}
}

func TestResolveInvalid(t *testing.T) {
	r := NewResolver(3)

	tests := []struct {
		name string
		path string
	}{
		{"separator byte", "/foo/ba\xffr"},
		{"nul byte", "/foo/ba\x00r"},
		{"parent reference", "/foo/../bar"},
		{"too deep", "/a/b/c/d"},
		{"name too long", "/" + strings.Repeat("x", MaxNameLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.path)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPath), "got %v", err)
		})
	}

	_, err := r.Resolve("/a/b/c")
	assert.NoError(t, err, "depth equal to the maximum is allowed")
}

func TestResolveChild(t *testing.T) {
	r := NewResolver(2)

	child, err := r.ResolveChild(Root(), "foo")
	require.NoError(t, err)
	assert.True(t, child.Equal(Entry(nil, "foo")))

	grandchild, err := r.ResolveChild(child, "bar")
	require.NoError(t, err)
	assert.True(t, grandchild.Equal(Entry([]string{"foo"}, "bar")))

	_, err = r.ResolveChild(grandchild, "baz")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPath))

	_, err = r.ResolveChild(Root(), "..")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPath))

	_, err = r.ResolveChild(Root(), "a/b")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPath))
}

func TestPathRefNavigation(t *testing.T) {
	e := Entry([]string{"a", "b"}, "c")

	assert.Equal(t, "/a/b/c", e.String())
	assert.Equal(t, 3, e.Depth())
	assert.Equal(t, "c", e.Name())
	assert.True(t, e.Parent().Equal(Namespace("a", "b")))
	assert.True(t, e.AsNamespace().Equal(Namespace("a", "b", "c")))
	assert.True(t, e.AsNamespace().AsEntry().Equal(e))
	assert.True(t, Namespace("a").Parent().IsRoot())
	assert.True(t, Root().Parent().IsRoot())
	assert.True(t, Namespace().IsRoot())
	assert.Equal(t, "/", Root().String())
	assert.True(t, e.Child("d").Equal(Entry([]string{"a", "b", "c"}, "d")))
	assert.True(t, Root().Child("x").Equal(Entry(nil, "x")))
}

func TestPathRefChainIsCopied(t *testing.T) {
	chain := []string{"a", "b"}
	ref := Namespace(chain...)
	chain[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, ref.Chain())

	got := ref.Chain()
	got[1] = "mutated"
	assert.Equal(t, []string{"a", "b"}, ref.Chain())
}
