package testutil

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/i5heu/geostore/pkg/encoding"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewBackends creates an empty repository state for one test.
type NewBackends func(t *testing.T) storage.Backends

// OpenStores opens a fresh set of views and closes it when the test ends.
func OpenStores(t *testing.T, b storage.Backends, hints storage.Hints) *storage.Stores {
	t.Helper()
	s := b.Views(hints, storage.ObjectsConfig{Codec: encoding.DefaultCodec})
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Features returns n distinct feature objects.
func Features(n int) []model.RevObject {
	out := make([]model.RevObject, n)
	for i := range out {
		out[i] = model.NewFeature([]model.Value{model.IntValue(int64(i)), model.StringValue(fmt.Sprintf("f-%d", i))})
	}
	return out
}

// ID hashes a string; handy for graph and index tests that need no objects.
func ID(s string) model.ObjectID {
	return model.Hash([]byte(s))
}

// RunBackendSuite runs the shared behavior tests for every store kind.
func RunBackendSuite(t *testing.T, newBackends NewBackends) {
	t.Run("Objects", func(t *testing.T) { RunObjectStoreSuite(t, newBackends) })
	t.Run("Graph", func(t *testing.T) { RunGraphSuite(t, newBackends) })
	t.Run("Index", func(t *testing.T) { RunIndexSuite(t, newBackends) })
	t.Run("Conflicts", func(t *testing.T) { RunConflictsSuite(t, newBackends) })
	t.Run("Refs", func(t *testing.T) { RunRefsSuite(t, newBackends) })
	t.Run("Config", func(t *testing.T) { RunConfigSuite(t, newBackends) })
}

func RunObjectStoreSuite(t *testing.T, newBackends NewBackends) {
	t.Run("PutGet", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		f := Features(1)[0]

		ok, err := s.Objects.Exists(f.ID())
		require.NoError(t, err)
		assert.False(t, ok)

		inserted, err := s.Objects.Put(f)
		require.NoError(t, err)
		assert.True(t, inserted)
		inserted, err = s.Objects.Put(f)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := s.Objects.Get(f.ID())
		require.NoError(t, err)
		assert.Equal(t, f, got)
		ok, err = s.Objects.Exists(f.ID())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		missing := ID("missing")

		_, err := s.Objects.Get(missing)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		_, ok, err := s.Objects.GetIfPresent(missing)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TypedGet", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		f := Features(1)[0]
		_, err := s.Objects.Put(f)
		require.NoError(t, err)

		_, err = storage.GetCommit(s.Objects, f.ID())
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)
		feature, err := storage.GetFeature(s.Objects, f.ID())
		require.NoError(t, err)
		assert.Equal(t, f.ID(), feature.ID())
	})

	t.Run("BulkListener", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		objs := Features(50)
		_, err := s.Objects.Put(objs[0])
		require.NoError(t, err)

		var l storage.CountingListener
		require.NoError(t, s.Objects.PutAll(slices.Values(objs), &l))
		assert.EqualValues(t, 49, l.InsertedCount())
		assert.EqualValues(t, 1, l.FoundCount())

		ids := []model.ObjectID{objs[1].ID(), ID("nope"), objs[2].ID()}
		var gl storage.CountingListener
		got, err := s.Objects.GetAll(ids, &gl)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.EqualValues(t, 2, gl.FoundCount())
		assert.EqualValues(t, 1, gl.NotFoundCount())

		var dl storage.CountingListener
		require.NoError(t, s.Objects.DeleteAll(slices.Values(ids), &dl))
		assert.EqualValues(t, 2, dl.DeletedCount())
		assert.EqualValues(t, 1, dl.NotFoundCount())

		deleted, err := s.Objects.Delete(objs[1].ID())
		require.NoError(t, err)
		assert.False(t, deleted)
		deleted, err = s.Objects.Delete(objs[3].ID())
		require.NoError(t, err)
		assert.True(t, deleted)
	})

	t.Run("ConcurrentPutStoresOnce", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		f := Features(1)[0]

		const writers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Objects.Put(f)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())
	})

	t.Run("ConcurrentBulkPutCountsOnce", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		objs := Features(1000)

		listeners := []*storage.CountingListener{{}, {}}
		var wg sync.WaitGroup
		for _, l := range listeners {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Objects.PutAll(slices.Values(objs), l))
			}()
		}
		wg.Wait()

		inserted := listeners[0].InsertedCount() + listeners[1].InsertedCount()
		found := listeners[0].FoundCount() + listeners[1].FoundCount()
		assert.EqualValues(t, 1000, inserted)
		assert.EqualValues(t, 1000, found)

		var gl storage.CountingListener
		ids := make([]model.ObjectID, len(objs))
		for i, o := range objs {
			ids[i] = o.ID()
		}
		_, err := s.Objects.GetAll(ids, &gl)
		require.NoError(t, err)
		assert.EqualValues(t, 1000, gl.FoundCount())
	})

	t.Run("LookUp", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		objs := Features(20)
		require.NoError(t, s.Objects.PutAll(slices.Values(objs), nil))

		target := objs[7].ID()
		for _, n := range []int{8, 9, 12, model.NumChars} {
			ids, err := s.Objects.LookUp(target.String()[:n])
			require.NoError(t, err)
			assert.Contains(t, ids, target, "prefix of %d chars", n)
			for _, id := range ids {
				assert.True(t, id.HasPrefix(target.String()[:n]))
			}
		}

		_, err := s.Objects.LookUp(target.String()[:7])
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)
		_, err = s.Objects.LookUp("zzzzzzzzzz")
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)
	})

	t.Run("SharedStateAcrossViews", func(t *testing.T) {
		b := newBackends(t)
		a := OpenStores(t, b, storage.Hints{})
		other := OpenStores(t, b, storage.Hints{ObjectsReadOnly: true})
		f := Features(1)[0]

		_, err := a.Objects.Put(f)
		require.NoError(t, err)
		ok, err := other.Objects.Exists(f.ID())
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = other.Objects.Put(Features(2)[1])
		assert.ErrorIs(t, err, storage.ErrReadOnly)
		assert.True(t, other.Objects.IsReadOnly())
		assert.False(t, a.Objects.IsReadOnly())

		require.NoError(t, other.Objects.Close())
		assert.False(t, other.Objects.IsOpen())
		assert.True(t, a.Objects.IsOpen())
		_, err = other.Objects.Exists(f.ID())
		assert.ErrorIs(t, err, storage.ErrNotOpen)
		ok, err = a.Objects.Exists(f.ID())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CommitPutUpdatesGraph", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		root := model.NewCommit(model.CommitParams{Tree: model.EmptyTree.ID(), Message: "root"})
		_, err := s.Objects.Put(root)
		require.NoError(t, err)

		ok, err := s.Graph.Exists(root.ID())
		require.NoError(t, err)
		assert.True(t, ok)
		depth, err := s.Graph.GetDepth(root.ID())
		require.NoError(t, err)
		assert.Equal(t, 0, depth)

		child := model.NewCommit(model.CommitParams{Tree: ID("t1"), Parents: []model.ObjectID{root.ID()}, Message: "second"})
		require.NoError(t, s.Objects.PutAll(slices.Values([]model.RevObject{child}), nil))
		depth, err = s.Graph.GetDepth(child.ID())
		require.NoError(t, err)
		assert.Equal(t, 1, depth)
		parents, err := s.Graph.GetParents(child.ID())
		require.NoError(t, err)
		assert.Equal(t, []model.ObjectID{root.ID()}, parents)
	})
}

func RunGraphSuite(t *testing.T, newBackends NewBackends) {
	t.Run("Idempotence", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		root, c1 := ID("root"), ID("c1")

		ok, err := g.Put(root, nil)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = g.Put(root, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = g.Put(c1, []model.ObjectID{root})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = g.Put(c1, []model.ObjectID{root})
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = g.Put(c1, []model.ObjectID{ID("other")})
		assert.ErrorIs(t, err, storage.ErrParentsChanged)
		_, err = g.Put(root, []model.ObjectID{c1})
		assert.ErrorIs(t, err, storage.ErrParentsChanged)
		_, err = g.Put(c1, nil)
		assert.ErrorIs(t, err, storage.ErrParentsChanged)
	})

	t.Run("LazyParentNodes", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{})
		p, c := ID("parent"), ID("child")

		_, err := g.Graph.Put(c, []model.ObjectID{p})
		require.NoError(t, err)
		ok, err := g.Graph.Exists(p)
		require.NoError(t, err)
		assert.True(t, ok)

		node, err := g.Graph.GetNode(p)
		require.NoError(t, err)
		assert.False(t, node.IsAttached())
		assert.Equal(t, []model.ObjectID{c}, node.Children)

		// attaching the lazily created node later is allowed
		ok, err = g.Graph.Put(p, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("EdgesAreInverse", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		root, c1, c2 := ID("root"), ID("c1"), ID("c2")
		mustPut(t, g, root)
		mustPut(t, g, c1, root)
		mustPut(t, g, c2, c1, root)

		parents, err := g.GetParents(c2)
		require.NoError(t, err)
		assert.Equal(t, []model.ObjectID{c1, root}, parents)

		for _, n := range []model.ObjectID{root, c1, c2} {
			parents, err := g.GetParents(n)
			require.NoError(t, err)
			for _, p := range parents {
				children, err := g.GetChildren(p)
				require.NoError(t, err)
				assert.Contains(t, children, n)
			}
			children, err := g.GetChildren(n)
			require.NoError(t, err)
			for _, c := range children {
				parents, err := g.GetParents(c)
				require.NoError(t, err)
				assert.Contains(t, parents, n)
			}
		}
		children, err := g.GetChildren(root)
		require.NoError(t, err)
		assert.ElementsMatch(t, []model.ObjectID{c1, c2}, children)

		_, err = g.GetParents(ID("unknown"))
		assert.ErrorIs(t, err, storage.ErrGraphNodeNotFound)
		_, err = g.GetChildren(ID("unknown"))
		assert.ErrorIs(t, err, storage.ErrGraphNodeNotFound)
	})

	t.Run("Depth", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		c := func(i int) model.ObjectID { return ID(fmt.Sprintf("commit%d", i)) }
		root := ID("root commit")

		mustPut(t, g, root)
		mustPut(t, g, c(1), root)
		mustPut(t, g, c(2), c(1))
		mustPut(t, g, c(3), c(2))
		mustPut(t, g, c(4), c(3))
		mustPut(t, g, c(5), c(3))
		mustPut(t, g, c(6), c(5), c(4))
		mustPut(t, g, c(7), root)
		mustPut(t, g, c(8), c(2))
		mustPut(t, g, c(9), c(7), c(8))
		mustPut(t, g, c(10))
		mustPut(t, g, c(11), c(10))

		for id, want := range map[model.ObjectID]int{root: 0, c(9): 2, c(8): 3, c(6): 5, c(4): 4, c(11): 1} {
			depth, err := g.GetDepth(id)
			require.NoError(t, err)
			assert.Equal(t, want, depth, id.String())
		}

		_, err := g.GetDepth(ID("unknown"))
		assert.ErrorIs(t, err, storage.ErrGraphNodeNotFound)
	})

	t.Run("LinearChainDepth", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		prev := ID("chain-0")
		mustPut(t, g, prev)
		for i := 1; i <= 30; i++ {
			id := ID(fmt.Sprintf("chain-%d", i))
			mustPut(t, g, id, prev)
			prev = id
		}
		depth, err := g.GetDepth(prev)
		require.NoError(t, err)
		assert.Equal(t, 30, depth)
	})

	t.Run("PropertiesAndMappings", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		root := ID("root")
		mustPut(t, g, root)

		require.NoError(t, g.SetProperty(root, storage.SparseFlag, "true"))
		node, err := g.GetNode(root)
		require.NoError(t, err)
		assert.True(t, node.IsSparse())
		assert.True(t, node.Root)
		v, ok, err := g.GetProperty(root, storage.SparseFlag)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "true", v)

		err = g.SetProperty(ID("unknown"), "k", "v")
		assert.ErrorIs(t, err, storage.ErrGraphNodeNotFound)

		mapped, err := g.GetMapping(root)
		require.NoError(t, err)
		assert.True(t, mapped.IsNull())
		require.NoError(t, g.Map(ID("squashed"), root))
		mapped, err = g.GetMapping(ID("squashed"))
		require.NoError(t, err)
		assert.Equal(t, root, mapped)
	})

	t.Run("Truncate", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		root, c1 := ID("root"), ID("c1")
		mustPut(t, g, root)
		mustPut(t, g, c1, root)
		require.NoError(t, g.Map(ID("m"), root))

		size, err := g.Size()
		require.NoError(t, err)
		assert.Equal(t, 2, size)

		require.NoError(t, g.Truncate())
		for _, id := range []model.ObjectID{root, c1} {
			ok, err := g.Exists(id)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		mapped, err := g.GetMapping(ID("m"))
		require.NoError(t, err)
		assert.True(t, mapped.IsNull())
	})

	t.Run("ConcurrentAttach", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{}).Graph
		root, c1 := ID("root"), ID("c1")
		mustPut(t, g, root)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := g.Put(c1, []model.ObjectID{root})
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())
		children, err := g.GetChildren(root)
		require.NoError(t, err)
		assert.Equal(t, []model.ObjectID{c1}, children)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		g := OpenStores(t, newBackends(t), storage.Hints{ObjectsReadOnly: true}).Graph
		_, err := g.Put(ID("x"), nil)
		assert.ErrorIs(t, err, storage.ErrReadOnly)
		assert.ErrorIs(t, g.Truncate(), storage.ErrReadOnly)
	})
}

func mustPut(t *testing.T, g *storage.GraphDatabase, id model.ObjectID, parents ...model.ObjectID) {
	t.Helper()
	_, err := g.Put(id, parents)
	require.NoError(t, err)
}

func RunIndexSuite(t *testing.T, newBackends NewBackends) {
	t.Run("Lifecycle", func(t *testing.T) {
		idx := OpenStores(t, newBackends(t), storage.Hints{}).Index
		md := map[string]any{storage.MetadataAttributes: []string{"name"}}

		info, err := idx.CreateIndex("roads", "geom", storage.StrategyQuadtree, md)
		require.NoError(t, err)
		assert.Equal(t, "roads.geom", info.Key())
		_, err = idx.CreateIndex("roads", "geom", storage.StrategyQuadtree, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)

		_, err = idx.CreateIndex("roads", "geom2", storage.StrategyQuadtree, nil)
		require.NoError(t, err)
		_, err = idx.CreateIndex("rivers", "geom", storage.StrategyQuadtree, nil)
		require.NoError(t, err)

		got, ok, err := idx.GetIndex("roads", "geom")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, info.ID(), got.ID())
		assert.Equal(t, []string{"name"}, got.Attributes())

		roads, err := idx.ListIndexes("roads")
		require.NoError(t, err)
		assert.Len(t, roads, 2)
		all, err := idx.ListAllIndexes()
		require.NoError(t, err)
		assert.Len(t, all, 3)

		bounds := model.NewEnvelope(-180, -90, 180, 90)
		updated, err := idx.UpdateIndex("roads", "geom", storage.StrategyQuadtree, info.WithMaxBounds(bounds).Metadata)
		require.NoError(t, err)
		assert.Equal(t, info.ID(), updated.ID())
		got, _, err = idx.GetIndex("roads", "geom")
		require.NoError(t, err)
		b, ok := got.MaxBounds()
		require.True(t, ok)
		assert.Equal(t, bounds, b)
		roads, err = idx.ListIndexes("roads")
		require.NoError(t, err)
		assert.Len(t, roads, 2)

		dropped, err := idx.DropIndex(info)
		require.NoError(t, err)
		assert.True(t, dropped)
		_, ok, err = idx.GetIndex("roads", "geom")
		require.NoError(t, err)
		assert.False(t, ok)
		dropped, err = idx.DropIndex(info)
		require.NoError(t, err)
		assert.False(t, dropped)
	})

	t.Run("Mappings", func(t *testing.T) {
		idx := OpenStores(t, newBackends(t), storage.Hints{}).Index
		info, err := idx.CreateIndex("roads", "geom", storage.StrategyQuadtree, nil)
		require.NoError(t, err)

		want := map[model.ObjectID]model.ObjectID{}
		for i := 0; i < 10; i++ {
			orig, indexed := ID(fmt.Sprintf("tree-%d", i)), ID(fmt.Sprintf("indexed-%d", i))
			require.NoError(t, idx.AddMapping(info, orig, indexed))
			want[orig] = indexed
		}

		got, ok, err := idx.ResolveMapping(info, ID("tree-3"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ID("indexed-3"), got)
		_, ok, err = idx.ResolveMapping(info, ID("tree-x"))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Equal(t, want, collectMappings(t, idx, info))

		require.NoError(t, idx.ClearIndex(info))
		assert.Empty(t, collectMappings(t, idx, info))
		_, ok, err = idx.GetIndex("roads", "geom")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, idx.AddMapping(info, ID("a"), ID("b")))
		_, err = idx.DropIndex(info)
		require.NoError(t, err)
		assert.Empty(t, collectMappings(t, idx, info))
	})

	t.Run("MappingsNeedAnIndex", func(t *testing.T) {
		idx := OpenStores(t, newBackends(t), storage.Hints{}).Index
		never := storage.NewIndexInfo("rivers", "geom", storage.StrategyQuadtree, nil)
		err := idx.AddMapping(never, ID("a"), ID("b"))
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)

		info, err := idx.CreateIndex("roads", "geom", storage.StrategyQuadtree, nil)
		require.NoError(t, err)
		_, err = idx.DropIndex(info)
		require.NoError(t, err)
		err = idx.AddMapping(info, ID("a"), ID("b"))
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)

		info, err = idx.CreateIndex("roads", "geom", storage.StrategyQuadtree, nil)
		require.NoError(t, err)
		assert.Empty(t, collectMappings(t, idx, info))
		_, ok, err := idx.ResolveMapping(info, ID("a"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("StoresIndexTrees", func(t *testing.T) {
		s := OpenStores(t, newBackends(t), storage.Hints{})
		tree := model.NewLeafTree(0, 0, nil)
		_, err := s.Index.Put(tree)
		require.NoError(t, err)
		ok, err := s.Index.Exists(tree.ID())
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func collectMappings(t *testing.T, idx *storage.IndexDatabase, info storage.IndexInfo) map[model.ObjectID]model.ObjectID {
	t.Helper()
	out := map[model.ObjectID]model.ObjectID{}
	for m, err := range idx.ListMappings(info) {
		require.NoError(t, err)
		out[m.Original] = m.Indexed
	}
	return out
}

func RunConflictsSuite(t *testing.T, newBackends NewBackends) {
	conflict := func(path string) storage.Conflict {
		return storage.Conflict{Path: path, Ancestor: ID(path + "a"), Ours: ID(path + "o"), Theirs: ID(path + "t")}
	}

	t.Run("PrefixExactness", func(t *testing.T) {
		c := OpenStores(t, newBackends(t), storage.Hints{}).Conflicts
		require.NoError(t, c.AddConflicts("", []storage.Conflict{conflict("a"), conflict("a/b"), conflict("ab")}))

		n, err := c.CountByPrefix("", "a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var paths []string
		for cf, err := range c.ListByPrefix("", "a") {
			require.NoError(t, err)
			paths = append(paths, cf.Path)
		}
		assert.ElementsMatch(t, []string{"a", "a/b"}, paths)

		n, err = c.CountByPrefix("", "")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		require.NoError(t, c.RemoveByPrefix("", "a"))
		n, err = c.CountByPrefix("", "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, ok, err := c.GetConflict("", "ab")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Namespaces", func(t *testing.T) {
		c := OpenStores(t, newBackends(t), storage.Hints{}).Conflicts
		require.NoError(t, c.AddConflict("tx1", conflict("roads/1")))
		require.NoError(t, c.AddConflict("", conflict("roads/2")))

		has, err := c.HasConflicts("tx1")
		require.NoError(t, err)
		assert.True(t, has)
		_, ok, err := c.GetConflict("tx1", "roads/2")
		require.NoError(t, err)
		assert.False(t, ok)

		got, ok, err := c.GetConflict("tx1", "roads/1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, conflict("roads/1"), got)

		require.NoError(t, c.Clear("tx1"))
		has, err = c.HasConflicts("tx1")
		require.NoError(t, err)
		assert.False(t, has)
		has, err = c.HasConflicts("")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("AddRemoveFind", func(t *testing.T) {
		c := OpenStores(t, newBackends(t), storage.Hints{}).Conflicts
		require.NoError(t, c.AddConflicts("ns", []storage.Conflict{conflict("x/1"), conflict("x/2"), conflict("y")}))

		replaced := conflict("y")
		replaced.Ours = ID("new ours")
		require.NoError(t, c.AddConflict("ns", replaced))
		got, _, err := c.GetConflict("ns", "y")
		require.NoError(t, err)
		assert.Equal(t, replaced, got)

		found, err := c.FindConflicts("ns", []string{"x/1", "x/3", "y"})
		require.NoError(t, err)
		assert.Equal(t, map[string]struct{}{"x/1": {}, "y": {}}, found)

		require.NoError(t, c.RemoveConflicts("ns", []string{"x/1", "y"}))
		require.NoError(t, c.RemoveConflict("ns", "missing"))
		n, err := c.CountByPrefix("ns", "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.ErrorIs(t, c.AddConflict("ns", conflict("")), storage.ErrInvalidArgument)
	})

	t.Run("ReadOnlyStaging", func(t *testing.T) {
		c := OpenStores(t, newBackends(t), storage.Hints{StagingReadOnly: true}).Conflicts
		assert.ErrorIs(t, c.AddConflict("", conflict("a")), storage.ErrReadOnly)
		assert.ErrorIs(t, c.Clear(""), storage.ErrReadOnly)
		_, err := c.CountByPrefix("", "")
		assert.NoError(t, err)
	})
}

func RunRefsSuite(t *testing.T, newBackends NewBackends) {
	head := ID("head").String()

	t.Run("DirectAndSymbolic", func(t *testing.T) {
		r := OpenStores(t, newBackends(t), storage.Hints{}).Refs
		require.NoError(t, r.PutRef("refs/heads/master", head))
		require.NoError(t, r.PutSymRef(storage.Head, "refs/heads/master"))

		v, err := r.GetRef("refs/heads/master")
		require.NoError(t, err)
		assert.Equal(t, head, v)
		target, err := r.GetSymRef(storage.Head)
		require.NoError(t, err)
		assert.Equal(t, "refs/heads/master", target)

		_, err = r.GetRef(storage.Head)
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)
		_, err = r.GetSymRef("refs/heads/master")
		assert.ErrorIs(t, err, storage.ErrInvalidArgument)
		_, err = r.GetRef("refs/heads/nope")
		assert.ErrorIs(t, err, storage.ErrRefNotFound)
		assert.ErrorIs(t, r.PutRef("refs/heads/bad", "not-an-id"), storage.ErrInvalidArgument)
		assert.ErrorIs(t, r.PutRef("", head), storage.ErrInvalidArgument)
	})

	t.Run("Prefixes", func(t *testing.T) {
		r := OpenStores(t, newBackends(t), storage.Hints{}).Refs
		for _, name := range []string{"refs/heads/a", "refs/heads/b", "refs/tags/v1"} {
			require.NoError(t, r.PutRef(name, head))
		}
		heads, err := r.GetAll(storage.HeadsPrefix)
		require.NoError(t, err)
		assert.Len(t, heads, 2)

		removed, err := r.RemoveAll(storage.HeadsPrefix)
		require.NoError(t, err)
		assert.Len(t, removed, 2)
		all, err := r.GetAll("")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"refs/tags/v1": head}, all)

		ok, err := r.Remove("refs/tags/v1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.Remove("refs/tags/v1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TransactionOverlay", func(t *testing.T) {
		r := OpenStores(t, newBackends(t), storage.Hints{}).Refs
		other := ID("other").String()
		require.NoError(t, r.PutRef("refs/heads/master", head))
		require.NoError(t, r.PutRef("refs/heads/old", head))
		require.NoError(t, r.PutSymRef(storage.Head, "refs/heads/master"))

		tx := storage.NewTransactionRefs(r, "tx-1")
		require.NoError(t, tx.Create())

		target, err := tx.GetSymRef(storage.Head)
		require.NoError(t, err)
		assert.Equal(t, "refs/heads/master", target)

		require.NoError(t, tx.PutRef("refs/heads/master", other))
		require.NoError(t, tx.PutRef("refs/heads/new", other))
		_, err = tx.Remove("refs/heads/old")
		require.NoError(t, err)

		// base is untouched until the changes are applied
		v, err := r.GetRef("refs/heads/master")
		require.NoError(t, err)
		assert.Equal(t, head, v)

		updates, removed, err := tx.ChangedRefs()
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"refs/heads/master": other, "refs/heads/new": other}, updates)
		assert.Equal(t, []string{"refs/heads/old"}, removed)

		require.NoError(t, tx.Apply())
		require.NoError(t, tx.Close())

		v, err = r.GetRef("refs/heads/master")
		require.NoError(t, err)
		assert.Equal(t, other, v)
		_, err = r.GetRef("refs/heads/old")
		assert.ErrorIs(t, err, storage.ErrRefNotFound)
		leftovers, err := r.GetAll(storage.TransactionNamespace("tx-1"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})
}

func RunConfigSuite(t *testing.T, newBackends NewBackends) {
	t.Run("Sections", func(t *testing.T) {
		c := OpenStores(t, newBackends(t), storage.Hints{}).Config
		require.NoError(t, c.Put("user.name", "someone"))
		require.NoError(t, c.Put("user.email", "someone@example.com"))
		require.NoError(t, c.Put("remote.origin.url", "memory://peer/repo"))
		require.NoError(t, c.Put("remote.upstream.url", "file:///tmp/up"))

		v, ok, err := c.Get("user.name")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "someone", v)

		section, err := c.GetSection("user")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"name": "someone", "email": "someone@example.com"}, section)

		subs, err := c.ListSubsections("remote")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"origin", "upstream"}, subs)

		require.NoError(t, c.RemoveSection("remote"))
		all, err := c.GetAll()
		require.NoError(t, err)
		assert.Len(t, all, 2)

		assert.ErrorIs(t, c.RemoveSection("remote"), storage.ErrMissingSection)
		require.NoError(t, c.Remove("user.name"))
		_, ok, err = c.Get("user.name")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InvalidKeys", func(t *testing.T) {
		c := OpenStores(t, newBackends(t), storage.Hints{}).Config
		for _, key := range []string{"nodot", ".key", "section.", "a..b", "has space.key"} {
			err := c.Put(key, "v")
			assert.True(t, errors.Is(err, storage.ErrInvalidSectionOrKey), key)
		}
	})
}
