// Package pebbleStore keeps encoded objects in a pebble database.
package pebbleStore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Dir is the sub directory of a repository holding the pebble files.
const Dir = "pebble"

const numStripes = 256

type Config struct {
	Path             string
	MinimumFreeSpace int // in GB
	Sync             bool
	Logger           *logrus.Logger
}

// Blobs is a storage.BlobBackend on pebble. The database is opened by the
// first Acquire and closed by the last Release.
type Blobs struct {
	config Config
	log    *logrus.Logger
	write  *pebble.WriteOptions

	mu   sync.Mutex
	refs int
	db   *pebble.DB

	locks [numStripes]sync.Mutex
}

var _ storage.BlobBackend = (*Blobs)(nil)

var handles = struct {
	sync.Mutex
	m map[string]*Blobs
}{m: map[string]*Blobs{}}

// New returns the shared handle for cfg.Path.
func New(cfg Config) (*Blobs, error) {
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
	if b, ok := handles.m[path]; ok {
		return b, nil
	}
	b := &Blobs{config: cfg, log: logging.OrDefault(cfg.Logger), write: pebble.NoSync}
	if cfg.Sync {
		b.write = pebble.Sync
	}
	handles.m[path] = b
	return b, nil
}

func (b *Blobs) Acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		if err := config.CheckDirectory(b.log, filepath.Dir(b.config.Path), b.config.MinimumFreeSpace); err != nil {
			return err
		}
		db, err := pebble.Open(b.config.Path, &pebble.Options{})
		if err != nil {
			return fmt.Errorf("opening pebble at %s: %w", b.config.Path, err)
		}
		b.db = db
		b.log.WithFields(logrus.Fields{"path": b.config.Path}).Info("pebble database opened")
	}
	b.refs++
	return nil
}

func (b *Blobs) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		return nil
	}
	if b.refs--; b.refs > 0 {
		return nil
	}
	db := b.db
	b.db = nil
	if err := db.Close(); err != nil {
		b.log.WithFields(logrus.Fields{"path": b.config.Path}).Errorf("closing pebble: %v", err)
		return err
	}
	return nil
}

func (b *Blobs) handle() (*pebble.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, fmt.Errorf("pebble at %s: %w", b.config.Path, storage.ErrNotOpen)
	}
	return b.db, nil
}

func (b *Blobs) lock(id model.ObjectID) func() {
	m := &b.locks[xxhash.Sum64(id.Bytes())%numStripes]
	m.Lock()
	return m.Unlock
}

func (b *Blobs) Has(id model.ObjectID) (bool, error) {
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	_, closer, err := db.Get(id.Bytes())
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func (b *Blobs) Get(id model.ObjectID) ([]byte, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	v, closer, err := db.Get(id.Bytes())
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// PutIfAbsent checks and writes under the id's lock stripe; pebble has no
// conditional put.
func (b *Blobs) PutIfAbsent(id model.ObjectID, data []byte) (bool, error) {
	unlock := b.lock(id)
	defer unlock()
	ok, err := b.Has(id)
	if err != nil || ok {
		return false, err
	}
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	if err := db.Set(id.Bytes(), data, b.write); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Blobs) Delete(id model.ObjectID) (bool, error) {
	unlock := b.lock(id)
	defer unlock()
	ok, err := b.Has(id)
	if err != nil || !ok {
		return false, err
	}
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	return true, db.Delete(id.Bytes(), b.write)
}

func (b *Blobs) ScanPrefix(prefix []byte, fn func(model.ObjectID) bool) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	it := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	for it.First(); it.Valid(); it.Next() {
		id, err := model.IDFromBytes(it.Key())
		if err != nil {
			_ = it.Close()
			return err
		}
		if !fn(id) {
			break
		}
	}
	return it.Close()
}

// upperBound is the smallest key greater than every key with the prefix, or
// nil when there is none.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i]++; end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
