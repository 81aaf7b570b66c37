package geostore

import (
	"net/url"
	"sync"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/cache"
	"github.com/i5heu/geostore/pkg/monitor"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Repository is an open set of store views over one repository.
type Repository struct {
	*storage.Stores

	location *url.URL
	storage  config.StorageConfig
	log      *logrus.Logger
	cache    *cache.Objects
	listener *monitor.Listener

	collector  prometheus.Collector
	registerer prometheus.Registerer

	closeOnce sync.Once
	closeErr  error
}

func (r *Repository) Location() *url.URL { return r.location }

// StorageConfig is the storage.yaml content the repository was opened with.
func (r *Repository) StorageConfig() config.StorageConfig { return r.storage }

// Cache returns the object cache, nil when caching is disabled.
func (r *Repository) Cache() *cache.Objects { return r.cache }

func (r *Repository) Logger() *logrus.Logger { return r.log }

// Listener returns a BulkListener that exports events as metrics and
// forwards them to extra.
func (r *Repository) Listener(extra ...storage.BulkListener) storage.BulkListener {
	if len(extra) == 0 {
		return r.listener
	}
	return append(storage.MultiListener{r.listener}, extra...)
}

func (r *Repository) releaseCache() {
	if r.cache != nil {
		r.cache.Release()
	}
}

// Close closes every view of this Repository. Other repositories opened on
// the same location stay open.
func (r *Repository) Close() error {
	r.closeOnce.Do(func() {
		if r.collector != nil {
			r.registerer.Unregister(r.collector)
		}
		r.closeErr = r.Stores.Close()
		r.releaseCache()
		if r.closeErr != nil {
			r.log.WithError(r.closeErr).WithField("location", r.location.String()).Error("closing repository")
			return
		}
		r.log.WithField("location", r.location.String()).Debug("repository closed")
	})
	return r.closeErr
}
