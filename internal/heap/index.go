package heap

import (
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

type treeIndexes struct {
	mu    sync.RWMutex
	infos map[string]storage.IndexInfo
}

// Index keeps the index registry: the index list of each tree and the tree
// mappings of each index.
type Index struct {
	storage.NopResource
	trees    *xsync.MapOf[string, *treeIndexes]
	mappings *xsync.MapOf[model.ObjectID, *xsync.MapOf[model.ObjectID, model.ObjectID]]
}

func NewIndex() *Index {
	return &Index{
		trees:    xsync.NewMapOf[string, *treeIndexes](),
		mappings: xsync.NewMapOf[model.ObjectID, *xsync.MapOf[model.ObjectID, model.ObjectID]](),
	}
}

func (x *Index) tree(name string) *treeIndexes {
	t, _ := x.trees.LoadOrCompute(name, func() *treeIndexes {
		return &treeIndexes{infos: map[string]storage.IndexInfo{}}
	})
	return t
}

func (x *Index) PutIndex(info storage.IndexInfo) error {
	t := x.tree(info.TreeName)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.infos[info.AttributeName] = storage.NewIndexInfo(info.TreeName, info.AttributeName, info.Strategy, info.Metadata)
	return nil
}

func (x *Index) Index(treeName, attributeName string) (storage.IndexInfo, bool, error) {
	t, ok := x.trees.Load(treeName)
	if !ok {
		return storage.IndexInfo{}, false, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.infos[attributeName]
	return info, ok, nil
}

func (x *Index) Indexes(treeName string) ([]storage.IndexInfo, error) {
	var out []storage.IndexInfo
	x.trees.Range(func(name string, t *treeIndexes) bool {
		if treeName != "" && name != treeName {
			return true
		}
		t.mu.RLock()
		out = append(out, slices.Collect(maps.Values(t.infos))...)
		t.mu.RUnlock()
		return true
	})
	slices.SortFunc(out, func(a, b storage.IndexInfo) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, nil
}

func (x *Index) DropIndex(info storage.IndexInfo) (bool, error) {
	t, ok := x.trees.Load(info.TreeName)
	if !ok {
		return false, nil
	}
	t.mu.Lock()
	_, existed := t.infos[info.AttributeName]
	delete(t.infos, info.AttributeName)
	t.mu.Unlock()

	x.mappings.Delete(info.ID())
	return existed, nil
}

func (x *Index) ClearMappings(info storage.IndexInfo) error {
	x.mappings.Delete(info.ID())
	return nil
}

func (x *Index) AddMapping(info storage.IndexInfo, original, indexed model.ObjectID) error {
	m, _ := x.mappings.LoadOrCompute(info.ID(), func() *xsync.MapOf[model.ObjectID, model.ObjectID] {
		return xsync.NewMapOf[model.ObjectID, model.ObjectID]()
	})
	m.Store(original, indexed)
	return nil
}

func (x *Index) ResolveMapping(info storage.IndexInfo, original model.ObjectID) (model.ObjectID, bool, error) {
	m, ok := x.mappings.Load(info.ID())
	if !ok {
		return model.NullID, false, nil
	}
	indexed, ok := m.Load(original)
	return indexed, ok, nil
}

func (x *Index) Mappings(info storage.IndexInfo) iter.Seq2[storage.IndexTreeMapping, error] {
	return func(yield func(storage.IndexTreeMapping, error) bool) {
		m, ok := x.mappings.Load(info.ID())
		if !ok {
			return
		}
		m.Range(func(original, indexed model.ObjectID) bool {
			return yield(storage.IndexTreeMapping{Original: original, Indexed: indexed}, nil)
		})
	}
}
