package keyValStore

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/internal/testutil"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *KeyValStore {
	k, err := NewKeyValStore(StoreConfig{Path: t.TempDir(), Logger: logging.New("error")})
	require.NoError(t, err)
	return k
}

func TestBadgerBackends(t *testing.T) {
	testutil.RunBackendSuite(t, func(t *testing.T) storage.Backends {
		return NewBackends(newStore(t))
	})
}

func TestHandleIsSharedPerDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := NewKeyValStore(StoreConfig{Path: dir})
	require.NoError(t, err)
	b, err := NewKeyValStore(StoreConfig{Path: dir + "/."})
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = NewKeyValStore(StoreConfig{})
	assert.Error(t, err)
}

func TestViewsOpenAndCloseIndependently(t *testing.T) {
	t.Parallel()
	backends := NewBackends(newStore(t))
	first := backends.Views(storage.Hints{}, storage.ObjectsConfig{})
	second := backends.Views(storage.ReadOnlyHints(), storage.ObjectsConfig{})
	require.NoError(t, first.Open())
	require.NoError(t, second.Open())

	f := testutil.Features(1)[0]
	_, err := first.Objects.Put(f)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	got, err := second.Objects.Get(f.ID())
	require.NoError(t, err)
	assert.Equal(t, f.ID(), got.ID())
	_, err = second.Objects.Put(testutil.Features(2)[1])
	assert.ErrorIs(t, err, storage.ErrReadOnly)
	require.NoError(t, second.Close())

	_, err = backends.Blobs.Get(f.ID())
	assert.ErrorIs(t, err, storage.ErrNotOpen)
}

func TestDataSurvivesReopen(t *testing.T) {
	t.Parallel()
	backends := NewBackends(newStore(t))
	s := backends.Views(storage.Hints{}, storage.ObjectsConfig{})
	require.NoError(t, s.Open())
	root, child := testutil.ID("root"), testutil.ID("child")
	_, err := s.Graph.Put(root, nil)
	require.NoError(t, err)
	_, err = s.Graph.Put(child, []model.ObjectID{root})
	require.NoError(t, err)
	require.NoError(t, s.Refs.PutSymRef(storage.Head, "refs/heads/main"))
	require.NoError(t, s.Close())

	s = backends.Views(storage.Hints{}, storage.ObjectsConfig{})
	require.NoError(t, s.Open())
	defer s.Close()
	depth, err := s.Graph.GetDepth(child)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	target, err := s.Refs.GetSymRef(storage.Head)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", target)
}

func TestConcurrentPutIfAbsentInsertsOnce(t *testing.T) {
	t.Parallel()
	k := newStore(t)
	require.NoError(t, k.Acquire())
	defer k.Release()
	blobs := &Blobs{k}

	id := testutil.ID("contended")
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := blobs.PutIfAbsent(id, []byte("x"))
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, inserted.Load())
}

func TestAcquireChecksFreeSpace(t *testing.T) {
	t.Parallel()
	k, err := NewKeyValStore(StoreConfig{Path: t.TempDir(), MinimumFreeSpace: 1 << 30, Logger: logging.New("error")})
	require.NoError(t, err)
	assert.ErrorIs(t, k.Acquire(), config.ErrNotEnoughSpace)
	assert.NoError(t, k.Release())
}

func TestStripesLockDistinctIndices(t *testing.T) {
	t.Parallel()
	var s stripes
	a, b := nodeKey(testutil.ID("a")), nodeKey(testutil.ID("b"))
	unlock := s.lock(a, b, a)
	unlock()
	// all stripes are free again
	unlock = s.lock(a, b)
	unlock()
}
