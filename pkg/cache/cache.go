// Package cache keeps recently read objects in memory in front of an
// ObjectStore.
package cache

import (
	"fmt"
	"iter"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/monitor"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultSize = 10000

// Objects is an ObjectStore that serves repeated reads from an LRU. Objects
// are immutable, so only deletes invalidate entries.
type Objects struct {
	storage.ObjectStore
	lru     *lru.Cache[model.ObjectID, model.RevObject]
	hit     prometheus.Counter
	miss    prometheus.Counter
	release func()
}

var _ storage.ObjectStore = (*Objects)(nil)

// New returns a cache private to store.
func New(name string, store storage.ObjectStore, size int) (*Objects, error) {
	c, err := newLRU(size)
	if err != nil {
		return nil, err
	}
	return wrap(name, store, c, func() {}), nil
}

func newLRU(size int) (*lru.Cache[model.ObjectID, model.RevObject], error) {
	if size <= 0 {
		size = DefaultSize
	}
	return lru.New[model.ObjectID, model.RevObject](size)
}

func wrap(name string, store storage.ObjectStore, c *lru.Cache[model.ObjectID, model.RevObject], release func()) *Objects {
	return &Objects{
		ObjectStore: store,
		lru:         c,
		hit:         monitor.CacheRequests.WithLabelValues(name, "hit"),
		miss:        monitor.CacheRequests.WithLabelValues(name, "miss"),
		release:     sync.OnceFunc(release),
	}
}

type sharedLRU struct {
	lru  *lru.Cache[model.ObjectID, model.RevObject]
	refs int
}

var shared = struct {
	sync.Mutex
	m map[string]*sharedLRU
}{m: map[string]*sharedLRU{}}

// Shared returns a cache over store that shares its entries with every other
// cache opened under key, so a delete through one is seen by all. The first
// caller picks the size. Each Shared cache must be released.
func Shared(key string, store storage.ObjectStore, size int) (*Objects, error) {
	shared.Lock()
	defer shared.Unlock()
	e, ok := shared.m[key]
	if !ok {
		c, err := newLRU(size)
		if err != nil {
			return nil, err
		}
		e = &sharedLRU{lru: c}
		shared.m[key] = e
	}
	e.refs++
	return wrap(key, store, e.lru, func() {
		shared.Lock()
		defer shared.Unlock()
		e.refs--
		if e.refs == 0 && shared.m[key] == e {
			delete(shared.m, key)
		}
	}), nil
}

// Drop empties the cache shared under key. Caches still holding it see the
// purge; later Shared calls start from an empty LRU.
func Drop(key string) {
	shared.Lock()
	defer shared.Unlock()
	if e, ok := shared.m[key]; ok {
		e.lru.Purge()
		delete(shared.m, key)
	}
}

// Release gives up this cache's hold on a shared LRU. It is a no-op for
// private caches and on repeated calls.
func (c *Objects) Release() { c.release() }

func (c *Objects) lookup(id model.ObjectID) (model.RevObject, bool) {
	o, ok := c.lru.Get(id)
	if ok {
		c.hit.Inc()
	} else {
		c.miss.Inc()
	}
	return o, ok
}

func (c *Objects) checkOpen() error {
	if !c.IsOpen() {
		return fmt.Errorf("object cache: %w", storage.ErrNotOpen)
	}
	return nil
}

func (c *Objects) Exists(id model.ObjectID) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	if c.lru.Contains(id) {
		return true, nil
	}
	return c.ObjectStore.Exists(id)
}

func (c *Objects) Get(id model.ObjectID) (model.RevObject, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if o, ok := c.lookup(id); ok {
		return o, nil
	}
	o, err := c.ObjectStore.Get(id)
	if err != nil {
		return nil, err
	}
	c.lru.Add(id, o)
	return o, nil
}

func (c *Objects) GetIfPresent(id model.ObjectID) (model.RevObject, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	if o, ok := c.lookup(id); ok {
		return o, true, nil
	}
	o, ok, err := c.ObjectStore.GetIfPresent(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	c.lru.Add(id, o)
	return o, true, nil
}

func (c *Objects) GetAll(ids []model.ObjectID, listener storage.BulkListener) ([]model.RevObject, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out, err := c.ObjectStore.GetAll(ids, listener)
	if err != nil {
		return nil, err
	}
	for _, o := range out {
		c.lru.Add(o.ID(), o)
	}
	return out, nil
}

func (c *Objects) Put(o model.RevObject) (bool, error) {
	inserted, err := c.ObjectStore.Put(o)
	if err == nil {
		c.lru.Add(o.ID(), o)
	}
	return inserted, err
}

// Delete evicts id on both sides of the backend delete so a read racing
// through another view cannot leave it cached.
func (c *Objects) Delete(id model.ObjectID) (bool, error) {
	c.lru.Remove(id)
	deleted, err := c.ObjectStore.Delete(id)
	c.lru.Remove(id)
	return deleted, err
}

func (c *Objects) DeleteAll(ids iter.Seq[model.ObjectID], listener storage.BulkListener) error {
	var seen []model.ObjectID
	err := c.ObjectStore.DeleteAll(func(yield func(model.ObjectID) bool) {
		for id := range ids {
			c.lru.Remove(id)
			seen = append(seen, id)
			if !yield(id) {
				return
			}
		}
	}, listener)
	for _, id := range seen {
		c.lru.Remove(id)
	}
	return err
}

// Purge drops every cached object.
func (c *Objects) Purge() { c.lru.Purge() }

func (c *Objects) Len() int { return c.lru.Len() }
