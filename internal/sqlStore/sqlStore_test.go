package sqlStore

import (
	"path/filepath"
	"testing"

	"github.com/i5heu/geostore/internal/heap"
	"github.com/i5heu/geostore/internal/testutil"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *DB {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), FileName), PoolSize: 2, Logger: logging.New("error")})
	require.NoError(t, err)
	return db
}

func newBackends(t *testing.T) storage.Backends {
	b := heap.NewBackends()
	sql := NewBackends(newDB(t))
	b.Blobs, b.Graph, b.Conflicts = sql.Blobs, sql.Graph, sql.Conflicts
	return b
}

func TestSQLiteObjectStore(t *testing.T) {
	testutil.RunObjectStoreSuite(t, newBackends)
}

func TestSQLiteGraph(t *testing.T) {
	testutil.RunGraphSuite(t, newBackends)
}

func TestSQLiteConflicts(t *testing.T) {
	testutil.RunConflictsSuite(t, newBackends)
}

func TestPackIDs(t *testing.T) {
	t.Parallel()
	ids := []model.ObjectID{testutil.ID("a"), testutil.ID("b")}
	got, err := unpackIDs(packIDs(ids))
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	got, err = unpackIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = unpackIDs([]byte{1, 2, 3})
	assert.ErrorIs(t, err, storage.ErrDecoding)
}

func TestConflictPrefixIsCaseSensitive(t *testing.T) {
	t.Parallel()
	db := newDB(t)
	require.NoError(t, db.Acquire())
	defer db.Release()
	c := &Conflicts{db}

	require.NoError(t, c.Add("", []storage.Conflict{
		{Path: "Roads/1", Ours: testutil.ID("a")},
		{Path: "roads/2", Ours: testutil.ID("b")},
		{Path: "roads_x/3", Ours: testutil.ID("c")},
	}))
	n, err := c.Count("", "roads")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanPrefixNarrowsByFirstPart(t *testing.T) {
	t.Parallel()
	db := newDB(t)
	require.NoError(t, db.Acquire())
	defer db.Release()
	o := &Objects{db}

	ids := []model.ObjectID{
		model.MustIDFromHex("abcdef0100000000000000000000000000000001"),
		model.MustIDFromHex("abcdef0100000000000000000000000000000002"),
		model.MustIDFromHex("abcdef0200000000000000000000000000000003"),
	}
	for _, id := range ids {
		_, err := o.PutIfAbsent(id, []byte("x"))
		require.NoError(t, err)
	}
	prefix, err := model.PartialRaw("abcdef01")
	require.NoError(t, err)
	var got []model.ObjectID
	require.NoError(t, o.ScanPrefix(prefix, func(id model.ObjectID) bool {
		got = append(got, id)
		return true
	}))
	assert.ElementsMatch(t, ids[:2], got)
}
