package registry

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/internal/heap"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// Memory resolves memory://<context>/<path>#<name> locations to in-process
// repositories. Contexts are created on first reference and live until
// RemoveContext or Reset; repositories until Delete.
type Memory struct{}

var _ Resolver = Memory{}

type memoryContext struct {
	repos *xsync.MapOf[string, storage.Backends]
}

var contexts = xsync.NewMapOf[string, *memoryContext]()

func getContext(name string) *memoryContext {
	c, _ := contexts.LoadOrCompute(name, func() *memoryContext {
		return &memoryContext{repos: xsync.NewMapOf[string, storage.Backends]()}
	})
	return c
}

// RemoveContext drops a context with all its repositories.
func RemoveContext(name string) bool {
	_, ok := contexts.LoadAndDelete(encodeName(name))
	return ok
}

// Reset drops every memory repository of the process.
func Reset() {
	contexts.Clear()
}

func encodeName(name string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(name)), "+", "")
}

// RootURI is the base location of a context.
func RootURI(contextName string) *url.URL {
	return &url.URL{Scheme: "memory", Host: encodeName(contextName), Path: "/"}
}

// RepoURI is the location of the repository name under root.
func RepoURI(root *url.URL, name string) *url.URL {
	p := root.Path
	if p == "" {
		p = "/"
	} else if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return &url.URL{Scheme: root.Scheme, Host: root.Host, Path: p, Fragment: name}
}

// repoKey is the normalized path and name of a repository in its context.
func repoKey(u *url.URL) string {
	p := path.Clean("/" + u.Path)
	if p != "/" {
		p += "/"
	}
	return p + "#" + u.Fragment
}

func (Memory) CanHandle(u *url.URL) bool {
	return u.Scheme == "memory" && u.Host != ""
}

func (m Memory) Init(u *url.URL, _ config.StorageConfig) error {
	if !m.CanHandle(u) {
		return fmt.Errorf("%w: %s", ErrUnsupportedLocation, u)
	}
	_, loaded := getContext(u.Host).repos.LoadOrCompute(repoKey(u), heap.NewBackends)
	if loaded {
		return fmt.Errorf("%w: %s", ErrRepositoryExists, u)
	}
	return nil
}

func (Memory) Exists(u *url.URL) (bool, error) {
	c, ok := contexts.Load(u.Host)
	if !ok {
		return false, nil
	}
	_, ok = c.repos.Load(repoKey(u))
	return ok, nil
}

func (Memory) Backends(u *url.URL) (storage.Backends, config.StorageConfig, error) {
	c, ok := contexts.Load(u.Host)
	if ok {
		if b, ok := c.repos.Load(repoKey(u)); ok {
			return b, MemoryStorage(), nil
		}
	}
	return storage.Backends{}, config.StorageConfig{}, fmt.Errorf("%w: %s", ErrRepositoryNotFound, u)
}

func (Memory) Delete(u *url.URL) (bool, error) {
	c, ok := contexts.Load(u.Host)
	if !ok {
		return false, nil
	}
	_, ok = c.repos.LoadAndDelete(repoKey(u))
	return ok, nil
}

// ListRepoNames lists the repositories directly under root.
func (Memory) ListRepoNames(root *url.URL) []string {
	c, ok := contexts.Load(root.Host)
	if !ok {
		return nil
	}
	base := strings.TrimSuffix(repoKey(&url.URL{Path: root.Path}), "#")
	var out []string
	c.repos.Range(func(k string, _ storage.Backends) bool {
		if name, ok := strings.CutPrefix(k, base+"#"); ok {
			out = append(out, name)
		}
		return true
	})
	slices.Sort(out)
	return out
}

// MemoryStorage is the storage configuration reported for memory
// repositories.
func MemoryStorage() config.StorageConfig {
	heapFormat := config.Format{Name: "heap", Version: "1"}
	c := config.Default()
	c.Objects, c.Graph, c.Index, c.Conflicts, c.Refs, c.Config = heapFormat, heapFormat, heapFormat, heapFormat, heapFormat, heapFormat
	c.Compression = "none"
	c.CacheSize = 0
	return c
}
