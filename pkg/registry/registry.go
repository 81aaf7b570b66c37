// Package registry maps storage formats to backend implementations and
// repository locations to their shared stores.
package registry

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Kind is one of the stores of a repository.
type Kind string

const (
	KindObjects   Kind = "objects"
	KindGraph     Kind = "graph"
	KindIndex     Kind = "index"
	KindConflicts Kind = "conflicts"
	KindRefs      Kind = "refs"
	KindConfig    Kind = "config"
)

var Kinds = []Kind{KindObjects, KindGraph, KindIndex, KindConflicts, KindRefs, KindConfig}

// Format names one implementation of one store kind.
type Format struct {
	Kind    Kind
	Name    string
	Version string
}

func (f Format) String() string {
	return fmt.Sprintf("%s %s/%s", f.Kind, f.Name, f.Version)
}

// Env is what a constructor gets to build the backends of one repository.
type Env struct {
	Dir     string
	Storage config.StorageConfig
	Logger  *logrus.Logger
}

// Constructor builds a backend family. Only the field of the requested kind
// is used; the same constructor may serve several kinds.
type Constructor func(env Env) (storage.Backends, error)

type Registry struct {
	mu    sync.RWMutex
	ctors map[Format]Constructor
}

func New() *Registry {
	return &Registry{ctors: map[Format]Constructor{}}
}

func (r *Registry) Register(f Format, c Constructor) error {
	if f.Name == "" || f.Version == "" || !slices.Contains(Kinds, f.Kind) {
		return fmt.Errorf("%w: format %q", storage.ErrInvalidArgument, f)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[f]; ok {
		return fmt.Errorf("%w: format %s already registered", storage.ErrInvalidArgument, f)
	}
	r.ctors[f] = c
	return nil
}

// RegisterAll registers c for every given kind.
func (r *Registry) RegisterAll(name, version string, c Constructor, kinds ...Kind) error {
	for _, k := range kinds {
		if err := r.Register(Format{Kind: k, Name: name, Version: version}, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Lookup(f Format) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ctors[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownFormat, f)
	}
	return c, nil
}

// Formats lists the registered formats by kind, name and version.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	out := make([]Format, 0, len(r.ctors))
	for f := range r.ctors {
		out = append(out, f)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Format) int {
		return cmp.Or(
			cmp.Compare(slices.Index(Kinds, a.Kind), slices.Index(Kinds, b.Kind)),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.Version, b.Version),
		)
	})
	return out
}

func formatOf(c config.StorageConfig, k Kind) config.Format {
	switch k {
	case KindObjects:
		return c.Objects
	case KindGraph:
		return c.Graph
	case KindIndex:
		return c.Index
	case KindConflicts:
		return c.Conflicts
	case KindRefs:
		return c.Refs
	default:
		return c.Config
	}
}

// assign copies the backend of kind k from family into out and reports
// whether family has one.
func assign(out *storage.Backends, family storage.Backends, k Kind) bool {
	switch k {
	case KindObjects:
		out.Blobs = family.Blobs
		return family.Blobs != nil
	case KindGraph:
		out.Graph = family.Graph
		return family.Graph != nil
	case KindIndex:
		out.Index = family.Index
		return family.Index != nil
	case KindConflicts:
		out.Conflicts = family.Conflicts
		return family.Conflicts != nil
	case KindRefs:
		out.Refs = family.Refs
		return family.Refs != nil
	default:
		out.Config = family.Config
		return family.Config != nil
	}
}

// Backends assembles the backends env.Storage selects. Kinds selecting the
// same format name and version share one constructor call and its state.
func (r *Registry) Backends(env Env) (storage.Backends, error) {
	built := map[config.Format]storage.Backends{}
	var out storage.Backends
	for _, k := range Kinds {
		cf := formatOf(env.Storage, k)
		f := Format{Kind: k, Name: cf.Name, Version: cf.Version}
		ctor, err := r.Lookup(f)
		if err != nil {
			return storage.Backends{}, err
		}
		family, ok := built[cf]
		if !ok {
			if family, err = ctor(env); err != nil {
				return storage.Backends{}, fmt.Errorf("building %s: %w", f, err)
			}
			built[cf] = family
		}
		if !assign(&out, family, k) {
			return storage.Backends{}, fmt.Errorf("%w: %s provides no %s store", storage.ErrUnknownFormat, cf, k)
		}
	}
	return out, nil
}
