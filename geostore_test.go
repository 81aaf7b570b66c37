package geostore_test

import (
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/i5heu/geostore"
	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/internal/testutil"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/monitor"
	"github.com/i5heu/geostore/pkg/registry"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/i5heu/geostore/pkg/tree"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeostore(t *testing.T, reg prometheus.Registerer) *geostore.Geostore {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	g, err := geostore.New(geostore.Options{Logger: log, Registerer: reg})
	require.NoError(t, err)
	return g
}

func memoryLocation(t *testing.T) string {
	ctx := "geostore-" + t.Name()
	t.Cleanup(func() { registry.RemoveContext(ctx) })
	return registry.RepoURI(registry.RootURI(ctx), "repo").String()
}

// commitFeatures stores n features under a new root tree and commits it on
// top of parents.
func commitFeatures(t *testing.T, repo *geostore.Repository, n int, parents ...model.ObjectID) *model.Commit {
	t.Helper()
	features := testutil.Features(n)
	require.NoError(t, repo.Objects.PutAll(slices.Values(features), repo.Listener()))

	b := tree.NewBuilder(repo.Objects, nil)
	for i, f := range features {
		require.NoError(t, b.Put(model.FeatureNode(fmt.Sprintf("f%d", i), f.ID(), model.NullID, model.NewEnvelope(0, 0, float64(i), 1))))
	}
	root, err := b.Build()
	require.NoError(t, err)

	c := model.NewCommit(model.CommitParams{
		Tree:    root.ID(),
		Parents: parents,
		Author:  model.Person{Name: "a", Email: "a@example.com", Timestamp: 1},
		Message: fmt.Sprintf("%d features", n),
	})
	_, err = repo.Objects.Put(c)
	require.NoError(t, err)
	return c
}

func TestMemoryRepository(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	loc := memoryLocation(t)

	_, err := g.Open(loc, storage.Hints{})
	require.ErrorIs(t, err, registry.ErrRepositoryNotFound)

	require.NoError(t, g.Init(loc, config.Default()))
	ok, err := g.Exists(loc)
	require.NoError(t, err)
	assert.True(t, ok)

	rw, err := g.Open(loc, storage.Hints{})
	require.NoError(t, err)
	defer rw.Close()
	assert.Equal(t, "heap/1", rw.StorageConfig().Objects.String())

	first := commitFeatures(t, rw, 3)
	second := commitFeatures(t, rw, 5, first.ID())
	depth, err := rw.Graph.GetDepth(second.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	require.NoError(t, rw.Refs.PutRef("refs/heads/main", second.ID().String()))

	ro, err := g.Open(loc, storage.ReadOnlyHints())
	require.NoError(t, err)
	got, err := storage.GetCommit(ro.Objects, second.ID())
	require.NoError(t, err)
	assert.Equal(t, []model.ObjectID{first.ID()}, got.Parents())
	_, err = ro.Objects.Put(model.NewFeature(nil))
	assert.ErrorIs(t, err, storage.ErrReadOnly)
	_, err = ro.Graph.Put(testutil.ID("x"), nil)
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	require.NoError(t, ro.Close())
	require.NoError(t, ro.Close())
	assert.True(t, rw.IsOpen())
	_, err = ro.Objects.Get(second.ID())
	assert.ErrorIs(t, err, storage.ErrNotOpen)

	head, err := rw.Refs.GetRef("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, second.ID().String(), head)
}

func TestFileRepositoryPersists(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	dir := filepath.Join(t.TempDir(), "repo")

	require.NoError(t, g.Init(dir, config.Default()))
	assert.ErrorIs(t, g.Init(dir, config.Default()), registry.ErrRepositoryExists)

	repo, err := g.Open(dir, storage.Hints{})
	require.NoError(t, err)
	require.NotNil(t, repo.Cache())
	c := commitFeatures(t, repo, 20)
	require.NoError(t, repo.Refs.PutSymRef(storage.Head, "refs/heads/main"))
	require.NoError(t, repo.Refs.PutRef("refs/heads/main", c.ID().String()))
	require.NoError(t, repo.Config.Put("user.name", "geo"))
	require.NoError(t, repo.Conflicts.AddConflict(storage.DefaultNamespace, storage.Conflict{Path: "roads/1", Ours: c.ID()}))
	require.NoError(t, repo.Close())

	repo, err = g.Open("file://"+dir, storage.ReadOnlyHints())
	require.NoError(t, err)
	defer repo.Close()

	got, err := storage.GetCommit(repo.Objects, c.ID())
	require.NoError(t, err)
	root, err := storage.GetTree(repo.Objects, got.TreeID())
	require.NoError(t, err)
	assert.EqualValues(t, 20, root.Size())
	node, ok, err := tree.Find(repo.Objects, root, "f7")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = storage.GetFeature(repo.Objects, node.ObjectID())
	require.NoError(t, err)

	target, err := repo.Refs.GetSymRef(storage.Head)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", target)
	name, ok, err := repo.Config.Get("user.name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "geo", name)
	n, err := repo.Conflicts.CountByPrefix(storage.DefaultNamespace, "roads")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	exists, err := repo.Graph.Exists(c.ID())
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := repo.Objects.LookUp(c.ID().String()[:10])
	require.NoError(t, err)
	assert.Contains(t, ids, c.ID())
}

func TestDeleteSeenByOtherViews(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, g.Init(dir, config.Default()))

	a, err := g.Open(dir, storage.Hints{})
	require.NoError(t, err)
	defer a.Close()
	b, err := g.Open("file://"+dir, storage.Hints{})
	require.NoError(t, err)
	defer b.Close()
	require.NotNil(t, a.Cache())

	f := testutil.Features(1)[0]
	_, err = a.Objects.Put(f)
	require.NoError(t, err)
	_, err = a.Objects.Get(f.ID())
	require.NoError(t, err)
	ok, err := b.Objects.Exists(f.ID())
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := b.Objects.Delete(f.ID())
	require.NoError(t, err)
	require.True(t, deleted)

	ok, err = a.Objects.Exists(f.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = a.Objects.Get(f.ID())
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	_, ok, err = a.Objects.GetIfPresent(f.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMixedFormats(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	dir := filepath.Join(t.TempDir(), "mixed")

	sc := config.Default()
	sc.Objects = config.Format{Name: "pebble", Version: "1"}
	sc.Graph = config.Format{Name: "sqlite", Version: "1"}
	sc.Conflicts = config.Format{Name: "sqlite", Version: "1"}
	sc.Index = config.Format{Name: "heap", Version: "1"}
	sc.Compression = "zstd"
	require.NoError(t, g.Init(dir, sc))

	repo, err := g.Open(dir, storage.Hints{})
	require.NoError(t, err)
	first := commitFeatures(t, repo, 4)
	second := commitFeatures(t, repo, 6, first.ID())
	require.NoError(t, repo.Conflicts.AddConflict("ns", storage.Conflict{Path: "a/b"}))
	require.NoError(t, repo.Close())

	repo, err = g.Open(dir, storage.Hints{})
	require.NoError(t, err)
	defer repo.Close()
	children, err := repo.Graph.GetChildren(first.ID())
	require.NoError(t, err)
	assert.Equal(t, []model.ObjectID{second.ID()}, children)
	_, err = repo.Objects.Get(second.ID())
	require.NoError(t, err)
	has, err := repo.Conflicts.HasConflicts("ns")
	require.NoError(t, err)
	assert.True(t, has)

	assert.FileExists(t, filepath.Join(dir, geostore.SQLiteDB))
	assert.DirExists(t, filepath.Join(dir, geostore.PebbleDir))
	assert.DirExists(t, filepath.Join(dir, geostore.BadgerDir))
}

func TestUnknownFormat(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	dir := t.TempDir()
	sc := config.Default()
	sc.Index = config.Format{Name: "pebble", Version: "1"}
	require.NoError(t, g.Init(dir, sc))
	_, err := g.Open(dir, storage.Hints{})
	assert.ErrorIs(t, err, storage.ErrUnknownFormat)

	sc.Compression = "gzip"
	assert.ErrorIs(t, g.Init(filepath.Join(dir, "other"), sc), storage.ErrInvalidArgument)

	_, err = g.Open("s3://bucket/repo", storage.Hints{})
	assert.ErrorIs(t, err, registry.ErrUnsupportedLocation)
}

func TestTransactionCommit(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	loc := memoryLocation(t)
	require.NoError(t, g.Init(loc, config.Default()))
	repo, err := g.Open(loc, storage.Hints{})
	require.NoError(t, err)
	defer repo.Close()

	base := commitFeatures(t, repo, 1)
	require.NoError(t, repo.Refs.PutRef("refs/heads/main", base.ID().String()))
	require.NoError(t, repo.Refs.PutRef("refs/heads/old", base.ID().String()))

	tx, err := repo.BeginTransaction()
	require.NoError(t, err)
	next := commitFeatures(t, repo, 2, base.ID())
	require.NoError(t, tx.Refs.PutRef("refs/heads/main", next.ID().String()))
	_, err = tx.Refs.Remove("refs/heads/old")
	require.NoError(t, err)
	require.NoError(t, repo.Conflicts.AddConflict(tx.ConflictsNamespace(), storage.Conflict{Path: "roads/7"}))

	main, err := repo.Refs.GetRef("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, base.ID().String(), main)
	has, err := repo.Conflicts.HasConflicts(storage.DefaultNamespace)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), geostore.ErrTransactionClosed)
	assert.ErrorIs(t, tx.Abort(), geostore.ErrTransactionClosed)

	main, err = repo.Refs.GetRef("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, next.ID().String(), main)
	_, err = repo.Refs.GetRef("refs/heads/old")
	assert.ErrorIs(t, err, storage.ErrRefNotFound)
	_, ok, err := repo.Conflicts.GetConflict(storage.DefaultNamespace, "roads/7")
	require.NoError(t, err)
	assert.True(t, ok)
	left, err := repo.Refs.GetAll("transactions/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestTransactionAbort(t *testing.T) {
	t.Parallel()
	g := newGeostore(t, nil)
	loc := memoryLocation(t)
	require.NoError(t, g.Init(loc, config.Default()))
	repo, err := g.Open(loc, storage.Hints{})
	require.NoError(t, err)
	defer repo.Close()

	base := commitFeatures(t, repo, 1)
	require.NoError(t, repo.Refs.PutRef("refs/heads/main", base.ID().String()))

	tx, err := repo.BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Refs.PutRef("refs/heads/topic", base.ID().String()))
	require.NoError(t, repo.Conflicts.AddConflict(tx.ConflictsNamespace(), storage.Conflict{Path: "x"}))
	require.NoError(t, tx.Abort())

	_, err = repo.Refs.GetRef("refs/heads/topic")
	assert.ErrorIs(t, err, storage.ErrRefNotFound)
	has, err := repo.Conflicts.HasConflicts(tx.ConflictsNamespace())
	require.NoError(t, err)
	assert.False(t, has)
	left, err := repo.Refs.GetAll("transactions/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRepositoryMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	g := newGeostore(t, reg)
	loc := memoryLocation(t)
	require.NoError(t, g.Init(loc, config.Default()))
	repo, err := g.Open(loc, storage.Hints{})
	require.NoError(t, err)

	commitFeatures(t, repo, 3)
	assert.Equal(t, 3.0, promtest.ToFloat64(monitor.ObjectEvents.WithLabelValues(loc, "inserted")))

	n, err := promtest.GatherAndCount(reg, "geostore_graph_nodes", "geostore_open")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, repo.Close())
	n, err = promtest.GatherAndCount(reg, "geostore_open")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLargeTreeOnDisk(t *testing.T) {
	// 600 features already split the root into buckets.
	size := testutil.Scale(t, 600, 20000)
	g := newGeostore(t, nil)
	dir := t.TempDir()
	require.NoError(t, g.Init(dir, config.Default()))
	repo, err := g.Open(dir, storage.Hints{})
	require.NoError(t, err)
	defer repo.Close()

	c := commitFeatures(t, repo, size)
	root, err := storage.GetTree(repo.Objects, c.TreeID())
	require.NoError(t, err)
	assert.True(t, root.IsBucketed())
	assert.EqualValues(t, size, root.Size())

	repo.Cache().Purge()
	snapshot, err := tree.Snapshot(repo.Objects, root)
	require.NoError(t, err)
	assert.Len(t, snapshot, size)
}
