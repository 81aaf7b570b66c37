package tree_test

import (
	"fmt"
	"testing"

	"github.com/i5heu/geostore/internal/heap"
	"github.com/i5heu/geostore/internal/testutil"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/i5heu/geostore/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newStore(t *testing.T) storage.ObjectStore {
	return testutil.OpenStores(t, heap.NewBackends(), storage.Hints{}).Objects
}

func feature(i int) model.Node {
	name := fmt.Sprintf("feature.%d", i)
	return model.FeatureNode(name, testutil.ID(name), model.NullID, model.NewEnvelope(float64(i), float64(i), float64(i+1), float64(i+1)))
}

func build(t *testing.T, store storage.ObjectStore, base *model.Tree, nodes ...model.Node) *model.Tree {
	t.Helper()
	b := tree.NewBuilder(store, base)
	for _, n := range nodes {
		require.NoError(t, b.Put(n))
	}
	out, err := b.Build()
	require.NoError(t, err)
	return out
}

func features(from, to int) []model.Node {
	var out []model.Node
	for i := from; i < to; i++ {
		out = append(out, feature(i))
	}
	return out
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	got := build(t, store, nil)
	assert.Equal(t, model.EmptyTree.ID(), got.ID())
	assert.True(t, got.IsEmpty())
}

func TestBuildLeaf(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	got := build(t, store, nil, features(0, 10)...)
	assert.False(t, got.IsBucketed())
	assert.Equal(t, uint64(10), got.Size())
	assert.Len(t, got.Nodes(), 10)

	stored, err := storage.GetTree(store, got.ID())
	require.NoError(t, err)
	assert.Equal(t, got.ID(), stored.ID())
}

func TestBuildIsOrderIndependent(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(rt, "n")
		nodes := features(0, n)
		perm := rapid.Permutation(nodes).Draw(rt, "perm")

		b1 := tree.NewBuilder(newStoreRapid(rt), nil)
		b2 := tree.NewBuilder(newStoreRapid(rt), nil)
		for i := range nodes {
			_ = b1.Put(nodes[i])
			_ = b2.Put(perm[i])
		}
		t1, err := b1.Build()
		if err != nil {
			rt.Fatal(err)
		}
		t2, err := b2.Build()
		if err != nil {
			rt.Fatal(err)
		}
		if t1.ID() != t2.ID() {
			rt.Fatalf("ids differ: %s vs %s", t1.ID(), t2.ID())
		}
	})
}

func newStoreRapid(rt *rapid.T) storage.ObjectStore {
	s := heap.NewBackends().Views(storage.Hints{}, storage.ObjectsConfig{})
	if err := s.Open(); err != nil {
		rt.Fatal(err)
	}
	return s.Objects
}

func TestBuildSplitsIntoBuckets(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	limit := model.NormalizedSizeLimit(0)
	got := build(t, store, nil, features(0, limit+100)...)

	require.True(t, got.IsBucketed())
	assert.Equal(t, uint64(limit+100), got.Size())
	assert.LessOrEqual(t, len(got.Buckets()), model.MaxBucketsForLevel(0))

	for _, want := range features(0, limit+100) {
		n, ok, err := tree.Find(store, got, want.Name())
		require.NoError(t, err)
		require.True(t, ok, want.Name())
		assert.Equal(t, want.ObjectID(), n.ObjectID())
	}
	_, ok, err := tree.Find(store, got, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := tree.Snapshot(store, got)
	require.NoError(t, err)
	assert.Len(t, all, limit+100)
}

func TestBuildCollapsesBackToLeaf(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	limit := model.NormalizedSizeLimit(0)
	big := build(t, store, nil, features(0, limit+1)...)
	require.True(t, big.IsBucketed())

	b := tree.NewBuilder(store, big)
	b.Remove(feature(limit).Name())
	small, err := b.Build()
	require.NoError(t, err)

	assert.False(t, small.IsBucketed())
	direct := build(t, newStore(t), nil, features(0, limit)...)
	assert.Equal(t, direct.ID(), small.ID())
}

func TestBuildIsHistoryIndependent(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	// grow past the split point, then shrink again by a different route
	grown := build(t, store, nil, features(0, 700)...)
	b := tree.NewBuilder(store, grown)
	for i := 300; i < 700; i++ {
		b.Remove(feature(i).Name())
	}
	shrunk, err := b.Build()
	require.NoError(t, err)

	direct := build(t, newStore(t), nil, features(0, 300)...)
	assert.Equal(t, direct.ID(), shrunk.ID())
}

func TestBuildSharesUntouchedBuckets(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	base := build(t, store, nil, features(0, 2000)...)
	require.True(t, base.IsBucketed())

	changed := feature(7).WithObjectID(testutil.ID("changed"))
	next := build(t, store, base, changed)
	require.NotEqual(t, base.ID(), next.ID())

	idx := model.BucketIndex(changed.Name(), 0)
	for _, bk := range base.Buckets() {
		nb, ok := next.Bucket(bk.Index())
		require.True(t, ok)
		if bk.Index() == idx {
			assert.NotEqual(t, bk.TreeID(), nb.TreeID())
		} else {
			assert.Equal(t, bk.TreeID(), nb.TreeID())
		}
	}
	assert.Equal(t, base.Size(), next.Size())
}

func TestBuildCountsSubTrees(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	layer := build(t, store, nil, features(0, 3)...)
	root := build(t, store, nil,
		model.TreeNode("roads", layer.ID(), model.NullID),
		feature(100),
	)
	assert.Equal(t, uint64(4), root.Size())
	assert.Equal(t, 1, root.NumTrees())

	n, ok, err := tree.Find(store, root, "roads")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.NodeTree, n.Type())
}

func TestBuilderRejectsInvalidNodes(t *testing.T) {
	t.Parallel()
	b := tree.NewBuilder(newStore(t), nil)
	err := b.Put(model.FeatureNode("", testutil.ID("x"), model.NullID, model.Envelope{}))
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
	err = b.Put(model.FeatureNode("x", model.NullID, model.NullID, model.Envelope{}))
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
	assert.Zero(t, b.Pending())
}

func TestBuilderRemoveMissingIsNoop(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	base := build(t, store, nil, features(0, 5)...)
	b := tree.NewBuilder(store, base)
	b.Remove("nope")
	got, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, base.ID(), got.ID())
}
