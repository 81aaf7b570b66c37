// Package geostore opens versioned geospatial repositories: a content
// addressed object store, the revision graph, indexes, conflicts, refs and
// config, each backed by the storage format the repository selects.
package geostore

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/cache"
	"github.com/i5heu/geostore/pkg/encoding"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/monitor"
	"github.com/i5heu/geostore/pkg/registry"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options configures a Geostore. Zero fields take defaults.
type Options struct {
	// Registry maps formats to backends; DefaultFormats when nil.
	Registry *registry.Registry
	// Resolvers find repositories by location; memory:// and file:// when nil.
	Resolvers registry.Resolvers
	// Logger overrides the logger built from each repository's log level.
	Logger *logrus.Logger
	// Registerer receives the repository metrics. Metrics are not exported
	// when nil.
	Registerer prometheus.Registerer
}

// Geostore opens repositories through one format registry and one set of
// resolvers.
type Geostore struct {
	registry   *registry.Registry
	resolvers  registry.Resolvers
	log        *logrus.Logger
	registerer prometheus.Registerer
}

func New(opts Options) (*Geostore, error) {
	if opts.Registry == nil {
		opts.Registry = registry.New()
		if err := DefaultFormats(opts.Registry); err != nil {
			return nil, err
		}
	}
	if opts.Resolvers == nil {
		opts.Resolvers = registry.Resolvers{
			registry.Memory{},
			registry.NewFile(opts.Registry, opts.Logger),
		}
	}
	if opts.Registerer != nil {
		if err := monitor.Register(opts.Registerer); err != nil && !isAlreadyRegistered(err) {
			return nil, err
		}
	}
	return &Geostore{
		registry:   opts.Registry,
		resolvers:  opts.Resolvers,
		log:        opts.Logger,
		registerer: opts.Registerer,
	}, nil
}

func isAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}

var defaultGeostore = sync.OnceValues(func() (*Geostore, error) {
	return New(Options{})
})

// Default is the process wide Geostore with the default formats and
// resolvers.
func Default() (*Geostore, error) {
	return defaultGeostore()
}

func (g *Geostore) Registry() *registry.Registry { return g.registry }

func (g *Geostore) resolve(location string) (*url.URL, registry.Resolver, error) {
	u, err := registry.Parse(location)
	if err != nil {
		return nil, nil, err
	}
	r, err := g.resolvers.Find(u)
	if err != nil {
		return nil, nil, err
	}
	return u, r, nil
}

// Init creates a repository at location with the given storage settings.
func (g *Geostore) Init(location string, sc config.StorageConfig) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidArgument, err)
	}
	u, r, err := g.resolve(location)
	if err != nil {
		return err
	}
	return r.Init(u, sc)
}

func (g *Geostore) Exists(location string) (bool, error) {
	u, r, err := g.resolve(location)
	if err != nil {
		return false, err
	}
	return r.Exists(u)
}

// Delete removes the repository at location. Repositories opened on it must
// be closed first.
func (g *Geostore) Delete(location string) (bool, error) {
	u, r, err := g.resolve(location)
	if err != nil {
		return false, err
	}
	deleted, err := r.Delete(u)
	if err != nil {
		return deleted, err
	}
	cache.Drop(cacheKey(u))
	return deleted, nil
}

// cacheKey names the object cache shared by every repository opened on u.
// File locations are keyed by absolute path like the on-disk handles.
func cacheKey(u *url.URL) string {
	if u.Scheme != "file" {
		return u.String()
	}
	path, err := filepath.Abs(u.Path)
	if err != nil {
		return u.String()
	}
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// Open opens the stores of the repository at location. Every call returns
// independent views over shared state: closing one Repository leaves the
// others open, and writes through one are visible to all.
func (g *Geostore) Open(location string, hints storage.Hints) (*Repository, error) {
	u, r, err := g.resolve(location)
	if err != nil {
		return nil, err
	}
	backends, sc, err := r.Backends(u)
	if err != nil {
		return nil, err
	}
	compression, err := encoding.ParseCompression(sc.Compression)
	if err != nil {
		return nil, err
	}
	log := g.log
	if log == nil {
		log = logging.New(sc.LogLevel)
	}

	stores := backends.Views(hints, storage.ObjectsConfig{
		Codec:  encoding.Codec{Compression: compression},
		Logger: log,
	})
	repo := &Repository{
		Stores:   stores,
		location: u,
		storage:  sc,
		log:      log,
		listener: monitor.NewListener(u.String()),
	}
	if sc.CacheSize > 0 {
		c, err := cache.Shared(cacheKey(u), stores.Objects.ObjectStore, sc.CacheSize)
		if err != nil {
			return nil, err
		}
		stores.Objects = storage.NewObjectDatabase(c, stores.Graph)
		repo.cache = c
	}

	if err := stores.Open(); err != nil {
		if cerr := stores.Close(); cerr != nil {
			log.WithError(cerr).Error("closing partially opened repository")
		}
		repo.releaseCache()
		return nil, err
	}
	if g.registerer != nil {
		collector := monitor.NewStoresCollector(u.String(), stores)
		if err := g.registerer.Register(collector); err != nil {
			if !isAlreadyRegistered(err) {
				_ = stores.Close()
				repo.releaseCache()
				return nil, err
			}
		} else {
			repo.collector = collector
			repo.registerer = g.registerer
		}
	}
	log.WithFields(logrus.Fields{
		"location":    u.String(),
		"objects":     sc.Objects.String(),
		"compression": compression.String(),
		"readOnly":    hints.ObjectsReadOnly,
	}).Info("repository opened")
	return repo, nil
}

// Init creates a repository through the default Geostore.
func Init(location string, sc config.StorageConfig) error {
	g, err := Default()
	if err != nil {
		return err
	}
	return g.Init(location, sc)
}

// Open opens a repository through the default Geostore.
func Open(location string, hints storage.Hints) (*Repository, error) {
	g, err := Default()
	if err != nil {
		return nil, err
	}
	return g.Open(location, hints)
}
