package storage_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/i5heu/geostore/internal/heap"
	"github.com/i5heu/geostore/internal/testutil"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPlanPut(t *testing.T) {
	t.Parallel()

	p1, p2 := testutil.ID("p1"), testutil.ID("p2")
	unattached := storage.GraphNode{ID: testutil.ID("n")}
	root := storage.GraphNode{ID: testutil.ID("n"), Root: true}
	attached := storage.GraphNode{ID: testutil.ID("n"), Parents: []model.ObjectID{p1, p2}}

	cases := []struct {
		name    string
		node    storage.GraphNode
		parents []model.ObjectID
		updated bool
		err     error
	}{
		{"unattached to root", unattached, nil, true, nil},
		{"unattached to parents", unattached, []model.ObjectID{p1}, true, nil},
		{"root again", root, nil, false, nil},
		{"root gets parents", root, []model.ObjectID{p1}, false, storage.ErrParentsChanged},
		{"same parents", attached, []model.ObjectID{p1, p2}, false, nil},
		{"reordered parents", attached, []model.ObjectID{p2, p1}, false, storage.ErrParentsChanged},
		{"attached becomes root", attached, nil, false, storage.ErrParentsChanged},
	}
	for _, tc := range cases {
		updated, err := storage.PlanPut(tc.node, tc.parents)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.updated, updated, tc.name)
	}
}

func TestDepthTakesShortestPath(t *testing.T) {
	t.Parallel()

	// a -> b -> root and a -> c -> d -> root
	parents := map[string][]string{"a": {"c", "b"}, "b": {"root"}, "c": {"d"}, "d": {"root"}, "root": nil}
	parentsOf := func(id model.ObjectID) ([]model.ObjectID, error) {
		for name, ps := range parents {
			if testutil.ID(name) == id {
				out := make([]model.ObjectID, len(ps))
				for i, p := range ps {
					out[i] = testutil.ID(p)
				}
				return out, nil
			}
		}
		return nil, storage.ErrGraphNodeNotFound
	}

	depth, err := storage.Depth(testutil.ID("a"), parentsOf)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	depth, err = storage.Depth(testutil.ID("root"), parentsOf)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	_, err = storage.Depth(testutil.ID("zzz"), parentsOf)
	assert.ErrorIs(t, err, storage.ErrGraphNodeNotFound)
}

func TestMatchesPrefix(t *testing.T) {
	t.Parallel()

	assert.True(t, storage.MatchesPrefix("a", "a"))
	assert.True(t, storage.MatchesPrefix("a/b", "a"))
	assert.False(t, storage.MatchesPrefix("ab", "a"))
	assert.False(t, storage.MatchesPrefix("foo2", "foo"))
	assert.True(t, storage.MatchesPrefix("anything", ""))
}

func TestMatchesPrefixProperty(t *testing.T) {
	segment := rapid.StringMatching(`[a-z0-9]{1,4}`)
	rapid.Check(t, func(t *rapid.T) {
		prefix := segment.Draw(t, "prefix")
		rest := segment.Draw(t, "rest")

		if !storage.MatchesPrefix(prefix+"/"+rest, prefix) {
			t.Fatalf("%q/%q should match", prefix, rest)
		}
		if storage.MatchesPrefix(prefix+rest, prefix) {
			t.Fatalf("%q%q should not match %q", prefix, rest, prefix)
		}
	})
}

func TestSplitConfigKey(t *testing.T) {
	t.Parallel()

	section, key, err := storage.SplitConfigKey("remote.origin.url")
	require.NoError(t, err)
	assert.Equal(t, "remote.origin", section)
	assert.Equal(t, "url", key)

	_, _, err = storage.SplitConfigKey("bad")
	assert.ErrorIs(t, err, storage.ErrInvalidSectionOrKey)
}

func TestClosedStoresRejectOperations(t *testing.T) {
	t.Parallel()

	s := heap.NewBackends().Views(storage.Hints{}, storage.ObjectsConfig{})
	assert.False(t, s.IsOpen())

	_, err := s.Objects.Put(testutil.Features(1)[0])
	assert.ErrorIs(t, err, storage.ErrNotOpen)
	_, err = s.Graph.Exists(testutil.ID("x"))
	assert.ErrorIs(t, err, storage.ErrNotOpen)
	_, err = s.Conflicts.CountByPrefix("", "")
	assert.ErrorIs(t, err, storage.ErrNotOpen)
	_, err = s.Refs.GetAll("")
	assert.ErrorIs(t, err, storage.ErrNotOpen)
	_, _, err = s.Config.Get("a.b")
	assert.ErrorIs(t, err, storage.ErrNotOpen)
	for _, err := range s.Index.ListMappings(storage.NewIndexInfo("t", "a", storage.StrategyQuadtree, nil)) {
		assert.ErrorIs(t, err, storage.ErrNotOpen)
	}

	require.NoError(t, s.Open())
	require.NoError(t, s.Open())
	assert.True(t, s.IsOpen())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
}

type failingResource struct{ err error }

func (f failingResource) Acquire() error { return f.err }
func (f failingResource) Release() error { return nil }

func TestGuardOpenFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	g := storage.NewGuard("test store", failingResource{err: boom}, false)
	assert.ErrorIs(t, g.Open(), boom)
	assert.False(t, g.IsOpen())
	assert.ErrorIs(t, g.CheckWritable(), storage.ErrNotOpen)
}

func TestMultiListener(t *testing.T) {
	t.Parallel()

	var a, b storage.CountingListener
	m := storage.MultiListener{&a, &b, storage.NoopListener}
	id := testutil.ID("x")
	m.Inserted(id, 1)
	m.Found(id, 1)
	m.NotFound(id)
	m.Deleted(id)
	for _, l := range []*storage.CountingListener{&a, &b} {
		assert.EqualValues(t, 1, l.InsertedCount())
		assert.EqualValues(t, 1, l.FoundCount())
		assert.EqualValues(t, 1, l.NotFoundCount())
		assert.EqualValues(t, 1, l.DeletedCount())
	}
}

func TestCorruptBlobIsDecodingError(t *testing.T) {
	t.Parallel()

	blobs := heap.NewBlobs()
	objects := storage.NewObjects(blobs, storage.ObjectsConfig{})
	require.NoError(t, objects.Open())

	f := testutil.Features(1)[0]
	_, err := blobs.PutIfAbsent(f.ID(), []byte{0, 3, 1, 2, 3})
	require.NoError(t, err)

	_, err = objects.Get(f.ID())
	assert.ErrorIs(t, err, storage.ErrDecoding)
	assert.NotErrorIs(t, err, storage.ErrObjectNotFound)

	other := testutil.Features(2)[1]
	_, err = objects.Put(other)
	require.NoError(t, err)
	data, err := blobs.Get(other.ID())
	require.NoError(t, err)
	wrong := testutil.ID("wrong")
	_, err = blobs.PutIfAbsent(wrong, data)
	require.NoError(t, err)
	_, err = objects.Get(wrong)
	assert.ErrorIs(t, err, storage.ErrDecoding)
}

func TestPutAllAcrossBatches(t *testing.T) {
	t.Parallel()

	objects := storage.NewObjects(heap.NewBlobs(), storage.ObjectsConfig{BatchSize: 7})
	require.NoError(t, objects.Open())

	var l storage.CountingListener
	objs := testutil.Features(50)
	require.NoError(t, objects.PutAll(func(yield func(model.RevObject) bool) {
		for _, o := range objs {
			if !yield(o) {
				return
			}
		}
	}, &l))
	assert.EqualValues(t, 50, l.InsertedCount())

	for _, o := range objs {
		ok, err := objects.Exists(o.ID())
		require.NoError(t, err)
		assert.True(t, ok, fmt.Sprint(o.ID()))
	}
}

func TestGraphPutValidatesIDs(t *testing.T) {
	t.Parallel()

	s := testutil.OpenStores(t, heap.NewBackends(), storage.Hints{})
	_, err := s.Graph.Put(model.NullID, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
	id := testutil.ID("self")
	_, err = s.Graph.Put(id, []model.ObjectID{id})
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
}
