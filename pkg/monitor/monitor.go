// Package monitor exports repository activity as prometheus metrics.
package monitor

import (
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
)

var ObjectEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "geostore",
	Subsystem: "objects",
	Name:      "events_total",
	Help:      "Bulk object operations by outcome",
}, []string{"store", "event"})

var ObjectBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "geostore",
	Subsystem: "objects",
	Name:      "inserted_bytes_total",
	Help:      "Encoded size of inserted objects",
}, []string{"store"})

var CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "geostore",
	Subsystem: "cache",
	Name:      "requests_total",
	Help:      "Object cache lookups by result",
}, []string{"cache", "result"})

// Register adds the package collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ObjectEvents, ObjectBytes, CacheRequests} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Listener counts bulk operation events for the named store.
type Listener struct {
	inserted prometheus.Counter
	found    prometheus.Counter
	notFound prometheus.Counter
	deleted  prometheus.Counter
	bytes    prometheus.Counter
}

var _ storage.BulkListener = (*Listener)(nil)

func NewListener(store string) *Listener {
	return &Listener{
		inserted: ObjectEvents.WithLabelValues(store, "inserted"),
		found:    ObjectEvents.WithLabelValues(store, "found"),
		notFound: ObjectEvents.WithLabelValues(store, "not_found"),
		deleted:  ObjectEvents.WithLabelValues(store, "deleted"),
		bytes:    ObjectBytes.WithLabelValues(store),
	}
}

func (l *Listener) Inserted(_ model.ObjectID, size int) {
	l.inserted.Inc()
	l.bytes.Add(float64(size))
}

func (l *Listener) Found(model.ObjectID, int) { l.found.Inc() }
func (l *Listener) NotFound(model.ObjectID)   { l.notFound.Inc() }
func (l *Listener) Deleted(model.ObjectID)    { l.deleted.Inc() }

// StoresCollector reports the size of an open repository on every scrape.
type StoresCollector struct {
	stores *storage.Stores

	graphNodes *prometheus.Desc
	conflicts  *prometheus.Desc
	open       *prometheus.Desc
}

func NewStoresCollector(repo string, stores *storage.Stores) *StoresCollector {
	labels := prometheus.Labels{"repo": repo}
	return &StoresCollector{
		stores: stores,
		graphNodes: prometheus.NewDesc(
			"geostore_graph_nodes",
			"Number of nodes in the revision graph",
			nil, labels,
		),
		conflicts: prometheus.NewDesc(
			"geostore_conflicts",
			"Number of conflicts recorded in the default namespace",
			nil, labels,
		),
		open: prometheus.NewDesc(
			"geostore_open",
			"Whether the repository stores are open",
			nil, labels,
		),
	}
}

func (c *StoresCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.graphNodes
	ch <- c.conflicts
	ch <- c.open
}

func (c *StoresCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.stores.IsOpen() {
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, 1)
	if n, err := c.stores.Graph.Size(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.graphNodes, prometheus.GaugeValue, float64(n))
	}
	if n, err := c.stores.Conflicts.CountByPrefix(storage.DefaultNamespace, ""); err == nil {
		ch <- prometheus.MustNewConstMetric(c.conflicts, prometheus.GaugeValue, float64(n))
	}
}
