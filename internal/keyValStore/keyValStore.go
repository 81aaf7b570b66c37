// Package keyValStore realizes the repository stores on one badger database
// per repository directory.
package keyValStore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/sirupsen/logrus"
)

var log = logging.Default()

// Key spaces. Every record kind lives under its own leading byte.
const (
	prefixObject   byte = 'o'
	prefixNode     byte = 'g'
	prefixChild    byte = 'h'
	prefixMapping  byte = 'm'
	prefixIndex    byte = 'x'
	prefixIndexMap byte = 'y'
	prefixConflict byte = 'c'
	prefixRef      byte = 'r'
	prefixSetting  byte = 's'
)

type StoreConfig struct {
	Path             string
	MinimumFreeSpace int // in GB
	SyncWrites       bool
	Logger           *logrus.Logger
}

// KeyValStore is the shared handle of one badger database. The database is
// opened by the first Acquire and closed by the last Release.
type KeyValStore struct {
	config StoreConfig
	log    *logrus.Logger

	mu   sync.Mutex
	refs int
	db   *badger.DB

	locks stripes
}

var handles = struct {
	sync.Mutex
	m map[string]*KeyValStore
}{m: map[string]*KeyValStore{}}

// NewKeyValStore returns the handle for config.Path, creating it on first
// use. Handles are shared per directory for the life of the process.
func NewKeyValStore(cfg StoreConfig) (*KeyValStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("no path provided in configuration")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	handles.Lock()
	defer handles.Unlock()
	if k, ok := handles.m[path]; ok {
		return k, nil
	}
	k := &KeyValStore{config: cfg, log: logging.OrDefault(cfg.Logger)}
	handles.m[path] = k
	return k, nil
}

func (k *KeyValStore) Path() string { return k.config.Path }

func (k *KeyValStore) Acquire() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.refs == 0 {
		if err := os.MkdirAll(k.config.Path, 0o755); err != nil {
			return err
		}
		if err := config.CheckDirectory(k.log, k.config.Path, k.config.MinimumFreeSpace); err != nil {
			return fmt.Errorf("error checking config for KeyValStore: %w", err)
		}
		opts := badger.DefaultOptions(k.config.Path)
		opts.Logger = nil
		opts.ValueLogFileSize = 1024 * 1024 * 100
		opts.SyncWrites = k.config.SyncWrites
		db, err := badger.Open(opts)
		if err != nil {
			return fmt.Errorf("opening badger at %s: %w", k.config.Path, err)
		}
		k.db = db
		k.log.WithFields(logrus.Fields{"path": k.config.Path}).Info("badger database opened")
	}
	k.refs++
	return nil
}

func (k *KeyValStore) Release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.refs == 0 {
		return nil
	}
	k.refs--
	if k.refs > 0 {
		return nil
	}
	db := k.db
	k.db = nil
	if err := db.Close(); err != nil {
		k.log.WithFields(logrus.Fields{"path": k.config.Path}).Errorf("closing badger: %v", err)
		return err
	}
	k.log.WithFields(logrus.Fields{"path": k.config.Path}).Debug("badger database closed")
	return nil
}

func (k *KeyValStore) handle() (*badger.DB, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.db == nil {
		return nil, fmt.Errorf("badger at %s: %w", k.config.Path, storage.ErrNotOpen)
	}
	return k.db, nil
}

func (k *KeyValStore) view(fn func(txn *badger.Txn) error) error {
	db, err := k.handle()
	if err != nil {
		return err
	}
	return db.View(fn)
}

func (k *KeyValStore) update(fn func(txn *badger.Txn) error) error {
	db, err := k.handle()
	if err != nil {
		return err
	}
	return db.Update(fn)
}

func (k *KeyValStore) get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := k.view(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	return out, err == nil, err
}

func (k *KeyValStore) set(key, value []byte) error {
	return k.update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// remove deletes key and reports whether it existed.
func (k *KeyValStore) remove(key []byte) (bool, error) {
	unlock := k.locks.lock(key)
	defer unlock()
	existed := false
	err := k.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(key)
	})
	return existed, err
}

// scan calls fn for every key under prefix, in key order, until fn returns
// false. Values are only read when withValues is set.
func (k *KeyValStore) scan(prefix []byte, withValues bool, fn func(key, value []byte) (bool, error)) error {
	return k.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var value []byte
			if withValues {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				value = v
			}
			more, err := fn(item.KeyCopy(nil), value)
			if err != nil || !more {
				return err
			}
		}
		return nil
	})
}

// deletePrefix removes every key under prefix in one write batch.
func (k *KeyValStore) deletePrefix(prefix []byte) (int, error) {
	var keys [][]byte
	err := k.scan(prefix, false, func(key, _ []byte) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	db, err := k.handle()
	if err != nil {
		return 0, err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(keys), wb.Flush()
}

func makeKey(prefix byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

const numStripes = 256

// stripes serializes the read-modify-write cycles on one key. Badger would
// otherwise reject one of two racing transactions with ErrConflict.
type stripes [numStripes]sync.Mutex

func stripeOf(key []byte) int {
	return int(xxhash.Sum64(key) % numStripes)
}

// lock takes the stripes of all keys in ascending order and returns the
// matching unlock.
func (s *stripes) lock(keys ...[]byte) func() {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, stripeOf(k))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		s[i].Lock()
	}
	return func() {
		for _, i := range slices.Backward(idx) {
			s[i].Unlock()
		}
	}
}

// NewBackends returns the badger realization of every store kind over the
// shared handle of one directory.
func NewBackends(k *KeyValStore) storage.Backends {
	return storage.Backends{
		Blobs:     &Blobs{k},
		Graph:     &Graph{k},
		Index:     &Index{k},
		Conflicts: &Conflicts{k},
		Refs:      &Refs{k},
		Config:    &Config{k},
	}
}
