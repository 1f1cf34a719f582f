package driver

import (
	"bytes"
	"sync"

	"github.com/levelfs/levelfs/internal/namespace"
)

// dirRegistry remembers namespaces created by mkdir that may hold no keys.
// It lives for one mount session.
type dirRegistry struct {
	mu   sync.RWMutex
	dirs map[string]struct{} // keyed by namespace prefix
}

func newDirRegistry() *dirRegistry {
	return &dirRegistry{dirs: make(map[string]struct{})}
}

func (r *dirRegistry) Add(chain []string) {
	r.mu.Lock()
	r.dirs[string(namespace.NamespacePrefix(chain))] = struct{}{}
	r.mu.Unlock()
}

func (r *dirRegistry) Remove(chain []string) {
	r.mu.Lock()
	delete(r.dirs, string(namespace.NamespacePrefix(chain)))
	r.mu.Unlock()
}

// Exists reports whether chain was registered or has a registered descendant.
func (r *dirRegistry) Exists(chain []string) bool {
	prefix := namespace.NamespacePrefix(chain)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for dir := range r.dirs {
		if bytes.HasPrefix([]byte(dir), prefix) {
			return true
		}
	}
	return false
}

// Registered reports whether chain itself was registered.
func (r *dirRegistry) Registered(chain []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dirs[string(namespace.NamespacePrefix(chain))]
	return ok
}

// Children returns the names of registered namespaces directly below chain,
// including intermediate names of deeper registrations.
func (r *dirRegistry) Children(chain []string) []string {
	prefix := namespace.NamespacePrefix(chain)
	seen := make(map[string]struct{})

	r.mu.RLock()
	for dir := range r.dirs {
		name, _, ok := namespace.SplitChild(prefix, []byte(dir))
		if ok && name != "" {
			seen[name] = struct{}{}
		}
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}
