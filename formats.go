package geostore

import (
	"path/filepath"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/internal/heap"
	"github.com/i5heu/geostore/internal/keyValStore"
	"github.com/i5heu/geostore/internal/pebbleStore"
	"github.com/i5heu/geostore/internal/sqlStore"
	"github.com/i5heu/geostore/pkg/registry"
	"github.com/i5heu/geostore/pkg/storage"
)

// Directory and file names of the on-disk formats inside a repository.
const (
	BadgerDir = "badger"
	PebbleDir = pebbleStore.Dir
	SQLiteDB  = sqlStore.FileName
)

func badgerBackends(env registry.Env) (storage.Backends, error) {
	k, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Path:             filepath.Join(env.Dir, BadgerDir),
		MinimumFreeSpace: env.Storage.MinimumFreeSpace,
		Logger:           env.Logger,
	})
	if err != nil {
		return storage.Backends{}, err
	}
	return keyValStore.NewBackends(k), nil
}

func pebbleBackends(env registry.Env) (storage.Backends, error) {
	b, err := pebbleStore.New(pebbleStore.Config{
		Path:             filepath.Join(env.Dir, PebbleDir),
		MinimumFreeSpace: env.Storage.MinimumFreeSpace,
		Logger:           env.Logger,
	})
	if err != nil {
		return storage.Backends{}, err
	}
	return storage.Backends{Blobs: b}, nil
}

func sqliteBackends(env registry.Env) (storage.Backends, error) {
	db, err := sqlStore.Open(sqlStore.Config{
		Path:             filepath.Join(env.Dir, SQLiteDB),
		MinimumFreeSpace: env.Storage.MinimumFreeSpace,
		Logger:           env.Logger,
	})
	if err != nil {
		return storage.Backends{}, err
	}
	return sqlStore.NewBackends(db), nil
}

func heapBackends(registry.Env) (storage.Backends, error) {
	return heap.NewBackends(), nil
}

func yamlBackends(env registry.Env) (storage.Backends, error) {
	return storage.Backends{Config: config.NewFile(env.Dir)}, nil
}

// DefaultFormats registers the formats shipped with geostore:
//
//	badger/1  every store
//	pebble/1  objects
//	sqlite/1  objects, graph, conflicts
//	heap/1    every store, not persisted
//	yaml/1    config
func DefaultFormats(r *registry.Registry) error {
	all := registry.Kinds
	for _, f := range []struct {
		name  string
		ctor  registry.Constructor
		kinds []registry.Kind
	}{
		{"badger", badgerBackends, all},
		{"pebble", pebbleBackends, []registry.Kind{registry.KindObjects}},
		{"sqlite", sqliteBackends, []registry.Kind{registry.KindObjects, registry.KindGraph, registry.KindConflicts}},
		{"heap", heapBackends, all},
		{"yaml", yamlBackends, []registry.Kind{registry.KindConfig}},
	} {
		if err := r.RegisterAll(f.name, "1", f.ctor, f.kinds...); err != nil {
			return err
		}
	}
	return nil
}
