package registry

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/internal/heap"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heapOnly(t *testing.T) (*Registry, *int) {
	calls := 0
	r := New()
	require.NoError(t, r.RegisterAll("heap", "1", func(Env) (storage.Backends, error) {
		calls++
		return heap.NewBackends(), nil
	}, Kinds...))
	return r, &calls
}

func heapStorage() config.StorageConfig {
	return MemoryStorage()
}

func TestRegister(t *testing.T) {
	t.Parallel()
	r, _ := heapOnly(t)
	err := r.Register(Format{Kind: KindObjects, Name: "heap", Version: "1"}, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
	err = r.Register(Format{Kind: "blobs", Name: "x", Version: "1"}, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
	err = r.Register(Format{Kind: KindObjects, Name: "x"}, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)

	_, err = r.Lookup(Format{Kind: KindObjects, Name: "heap", Version: "2"})
	assert.ErrorIs(t, err, storage.ErrUnknownFormat)

	formats := r.Formats()
	require.Len(t, formats, len(Kinds))
	for i, k := range Kinds {
		assert.Equal(t, k, formats[i].Kind)
	}
	assert.Equal(t, "objects heap/1", formats[0].String())
}

func TestBackendsBuildsEachFormatOnce(t *testing.T) {
	t.Parallel()
	r, calls := heapOnly(t)
	partialCalls := 0
	require.NoError(t, r.Register(Format{Kind: KindObjects, Name: "partial", Version: "1"}, func(Env) (storage.Backends, error) {
		partialCalls++
		return storage.Backends{Blobs: heap.NewBlobs()}, nil
	}))

	sc := heapStorage()
	sc.Objects = config.Format{Name: "partial", Version: "1"}
	b, err := r.Backends(Env{Storage: sc})
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, partialCalls)
	assert.NotNil(t, b.Blobs)
	assert.NotNil(t, b.Config)

	sc.Graph = config.Format{Name: "partial", Version: "1"}
	_, err = r.Backends(Env{Storage: sc})
	assert.ErrorIs(t, err, storage.ErrUnknownFormat)

	sc.Graph = config.Format{Name: "nope", Version: "1"}
	_, err = r.Backends(Env{Storage: sc})
	assert.ErrorIs(t, err, storage.ErrUnknownFormat)
}

func TestMemoryURIs(t *testing.T) {
	t.Parallel()
	var m Memory
	for _, tc := range []struct {
		uri string
		ok  bool
	}{
		{"file:/tmp", false},
		{"/", false},
		{"memory://contextName", true},
		{"memory://contextName/", true},
		{"memory://contextName/#repo_name", true},
		{"memory://contextName/path/to/parent#repo_name", true},
	} {
		u, err := url.Parse(tc.uri)
		require.NoError(t, err)
		assert.Equal(t, tc.ok, m.CanHandle(u), tc.uri)
	}

	assert.Equal(t, "memory://contextname/", RootURI(" context name ").String())
	assert.Equal(t, "memory://c1/#repo%20name", RepoURI(RootURI("c1"), "repo name").String())
	parent, _ := url.Parse("memory://c1/path/to/parent")
	assert.Equal(t, "memory://c1/path/to/parent/#repo%20name", RepoURI(parent, "repo name").String())
}

func TestMemoryRepositories(t *testing.T) {
	t.Parallel()
	var m Memory
	root1, root2 := RootURI("memory-repos-1"), RootURI("memory-repos-2")
	t.Cleanup(func() {
		RemoveContext("memory-repos-1")
		RemoveContext("memory-repos-2")
	})
	repo := RepoURI(root1, "r1")

	ok, err := m.Exists(repo)
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, err = m.Backends(repo)
	assert.ErrorIs(t, err, ErrRepositoryNotFound)

	require.NoError(t, m.Init(repo, config.StorageConfig{}))
	assert.ErrorIs(t, m.Init(repo, config.StorageConfig{}), ErrRepositoryExists)
	ok, _ = m.Exists(repo)
	assert.True(t, ok)
	ok, _ = m.Exists(RepoURI(root2, "r1"))
	assert.False(t, ok)

	// two resolutions share state, views keep their own flags
	b1, sc, err := m.Backends(repo)
	require.NoError(t, err)
	assert.Equal(t, "heap/1", sc.Objects.String())
	b2, _, err := m.Backends(repo)
	require.NoError(t, err)
	rw := b1.Views(storage.Hints{}, storage.ObjectsConfig{})
	ro := b2.Views(storage.ReadOnlyHints(), storage.ObjectsConfig{})
	require.NoError(t, rw.Open())
	require.NoError(t, ro.Open())
	require.NoError(t, rw.Refs.PutSymRef(storage.Head, "refs/heads/main"))
	target, err := ro.Refs.GetSymRef(storage.Head)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", target)
	assert.True(t, ro.Refs.IsReadOnly())
	require.NoError(t, rw.Close())
	assert.True(t, ro.IsOpen())

	require.NoError(t, m.Init(RepoURI(root1, "r2"), config.StorageConfig{}))
	nested, _ := url.Parse("memory://memory-repos-1/nested#r3")
	require.NoError(t, m.Init(nested, config.StorageConfig{}))
	assert.Equal(t, []string{"r1", "r2"}, m.ListRepoNames(root1))
	nestedRoot, _ := url.Parse("memory://memory-repos-1/nested")
	assert.Equal(t, []string{"r3"}, m.ListRepoNames(nestedRoot))
	assert.Empty(t, m.ListRepoNames(root2))

	deleted, err := m.Delete(repo)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = m.Delete(repo)
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.True(t, RemoveContext("memory-repos-1"))
	assert.False(t, RemoveContext("memory-repos-1"))
	assert.Empty(t, m.ListRepoNames(root1))
}

func TestFileRepositories(t *testing.T) {
	t.Parallel()
	r, calls := heapOnly(t)
	f := NewFile(r, logging.New("error"))
	dir := filepath.Join(t.TempDir(), "repo")
	u := &url.URL{Scheme: "file", Path: dir}
	assert.True(t, f.CanHandle(u))
	assert.False(t, f.CanHandle(&url.URL{Scheme: "file"}))

	_, _, err := f.Backends(u)
	assert.ErrorIs(t, err, ErrRepositoryNotFound)

	require.NoError(t, f.Init(u, heapStorage()))
	assert.ErrorIs(t, f.Init(u, heapStorage()), ErrRepositoryExists)
	assert.True(t, config.Exists(dir))

	b1, sc, err := f.Backends(u)
	require.NoError(t, err)
	assert.Equal(t, "none", sc.Compression)
	b2, _, err := f.Backends(u)
	require.NoError(t, err)
	assert.Same(t, b1.Blobs, b2.Blobs)
	assert.Equal(t, 1, *calls)

	deleted, err := f.Delete(u)
	require.NoError(t, err)
	assert.True(t, deleted)
	ok, err := f.Exists(u)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseAndFind(t *testing.T) {
	t.Parallel()
	u, err := Parse("/var/lib/repo")
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)

	rs := Resolvers{Memory{}, NewFile(New(), nil)}
	res, err := rs.Find(u)
	require.NoError(t, err)
	assert.IsType(t, &File{}, res)

	u, err = Parse("memory://ctx/#x")
	require.NoError(t, err)
	res, err = rs.Find(u)
	require.NoError(t, err)
	assert.IsType(t, Memory{}, res)

	u, err = Parse("s3://bucket/repo")
	require.NoError(t, err)
	_, err = rs.Find(u)
	assert.ErrorIs(t, err, ErrUnsupportedLocation)
}
