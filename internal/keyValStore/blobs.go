package keyValStore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
)

// Blobs keeps encoded objects under 'o' + raw id.
type Blobs struct {
	*KeyValStore
}

var _ storage.BlobBackend = (*Blobs)(nil)

func objectKey(id model.ObjectID) []byte {
	return makeKey(prefixObject, id.Bytes())
}

func (b *Blobs) Has(id model.ObjectID) (bool, error) {
	found := false
	err := b.view(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (b *Blobs) Get(id model.ObjectID) ([]byte, error) {
	data, ok, err := b.get(objectKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, id)
	}
	return data, nil
}

func (b *Blobs) PutIfAbsent(id model.ObjectID, data []byte) (bool, error) {
	k := objectKey(id)
	unlock := b.locks.lock(k)
	defer unlock()

	inserted := false
	err := b.update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		inserted = true
		return txn.Set(k, data)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (b *Blobs) Delete(id model.ObjectID) (bool, error) {
	return b.remove(objectKey(id))
}

func (b *Blobs) ScanPrefix(prefix []byte, fn func(model.ObjectID) bool) error {
	return b.scan(makeKey(prefixObject, prefix), false, func(k, _ []byte) (bool, error) {
		id, err := model.IDFromBytes(k[1:])
		if err != nil {
			return false, err
		}
		return fn(id), nil
	})
}
