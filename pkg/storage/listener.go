package storage

import (
	"sync/atomic"

	"github.com/i5heu/geostore/pkg/model"
)

// BulkListener receives one callback per id processed by a bulk operation.
// Callbacks of one call are never concurrent, but a listener shared between
// calls must be safe for concurrent use.
type BulkListener interface {
	Inserted(id model.ObjectID, storageSize int)
	Found(id model.ObjectID, storageSize int)
	NotFound(id model.ObjectID)
	Deleted(id model.ObjectID)
}

type noopListener struct{}

func (noopListener) Inserted(model.ObjectID, int) {}
func (noopListener) Found(model.ObjectID, int)    {}
func (noopListener) NotFound(model.ObjectID)      {}
func (noopListener) Deleted(model.ObjectID)       {}

// NoopListener ignores every callback.
var NoopListener BulkListener = noopListener{}

func listenerOrNoop(l BulkListener) BulkListener {
	if l == nil {
		return NoopListener
	}
	return l
}

// CountingListener counts callbacks; safe for concurrent use.
type CountingListener struct {
	inserted atomic.Int64
	found    atomic.Int64
	notFound atomic.Int64
	deleted  atomic.Int64
}

func (c *CountingListener) Inserted(model.ObjectID, int) { c.inserted.Add(1) }
func (c *CountingListener) Found(model.ObjectID, int)    { c.found.Add(1) }
func (c *CountingListener) NotFound(model.ObjectID)      { c.notFound.Add(1) }
func (c *CountingListener) Deleted(model.ObjectID)       { c.deleted.Add(1) }

func (c *CountingListener) InsertedCount() int64 { return c.inserted.Load() }
func (c *CountingListener) FoundCount() int64    { return c.found.Load() }
func (c *CountingListener) NotFoundCount() int64 { return c.notFound.Load() }
func (c *CountingListener) DeletedCount() int64  { return c.deleted.Load() }

// MultiListener forwards every callback to all listeners in order.
type MultiListener []BulkListener

func (m MultiListener) Inserted(id model.ObjectID, size int) {
	for _, l := range m {
		l.Inserted(id, size)
	}
}

func (m MultiListener) Found(id model.ObjectID, size int) {
	for _, l := range m {
		l.Found(id, size)
	}
}

func (m MultiListener) NotFound(id model.ObjectID) {
	for _, l := range m {
		l.NotFound(id)
	}
}

func (m MultiListener) Deleted(id model.ObjectID) {
	for _, l := range m {
		l.Deleted(id)
	}
}
