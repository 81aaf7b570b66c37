package heap

import (
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/i5heu/geostore/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

type namespace struct {
	mu        sync.RWMutex
	conflicts map[string]storage.Conflict
}

// Conflicts keeps one conflict map per namespace.
type Conflicts struct {
	storage.NopResource
	namespaces *xsync.MapOf[string, *namespace]
}

func NewConflicts() *Conflicts {
	return &Conflicts{namespaces: xsync.NewMapOf[string, *namespace]()}
}

func (c *Conflicts) ns(name string) *namespace {
	n, _ := c.namespaces.LoadOrCompute(name, func() *namespace {
		return &namespace{conflicts: map[string]storage.Conflict{}}
	})
	return n
}

func (c *Conflicts) Add(ns string, conflicts []storage.Conflict) error {
	n := c.ns(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cf := range conflicts {
		n.conflicts[cf.Path] = cf
	}
	return nil
}

func (c *Conflicts) Get(ns, path string) (storage.Conflict, bool, error) {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return storage.Conflict{}, false, nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	cf, ok := n.conflicts[path]
	return cf, ok, nil
}

func (c *Conflicts) Remove(ns string, paths []string) error {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range paths {
		delete(n.conflicts, p)
	}
	return nil
}

func (c *Conflicts) RemoveByPrefix(ns, prefix string) error {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for p := range n.conflicts {
		if storage.MatchesPrefix(p, prefix) {
			delete(n.conflicts, p)
		}
	}
	return nil
}

func (c *Conflicts) Find(ns string, paths []string) ([]string, error) {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return nil, nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	var found []string
	for _, p := range paths {
		if _, ok := n.conflicts[p]; ok {
			found = append(found, p)
		}
	}
	return found, nil
}

func (c *Conflicts) matching(ns, prefix string) []storage.Conflict {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return nil
	}
	n.mu.RLock()
	var out []storage.Conflict
	for p, cf := range n.conflicts {
		if storage.MatchesPrefix(p, prefix) {
			out = append(out, cf)
		}
	}
	n.mu.RUnlock()
	slices.SortFunc(out, func(a, b storage.Conflict) int { return strings.Compare(a.Path, b.Path) })
	return out
}

func (c *Conflicts) Count(ns, prefix string) (int, error) {
	return len(c.matching(ns, prefix)), nil
}

func (c *Conflicts) List(ns, prefix string) iter.Seq2[storage.Conflict, error] {
	return func(yield func(storage.Conflict, error) bool) {
		for _, cf := range c.matching(ns, prefix) {
			if !yield(cf, nil) {
				return
			}
		}
	}
}

func (c *Conflicts) Has(ns string) (bool, error) {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return false, nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conflicts) > 0, nil
}

func (c *Conflicts) Clear(ns string) error {
	n, ok := c.namespaces.Load(ns)
	if !ok {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.conflicts)
	return nil
}
