// Package heap keeps every store of a repository in process memory.
package heap

import (
	"bytes"
	"fmt"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// Blobs is a lock free map of encoded objects.
type Blobs struct {
	storage.NopResource
	m *xsync.MapOf[model.ObjectID, []byte]
}

func NewBlobs() *Blobs {
	return &Blobs{m: xsync.NewMapOf[model.ObjectID, []byte]()}
}

func (b *Blobs) Has(id model.ObjectID) (bool, error) {
	_, ok := b.m.Load(id)
	return ok, nil
}

func (b *Blobs) Get(id model.ObjectID) ([]byte, error) {
	data, ok := b.m.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, id)
	}
	return data, nil
}

func (b *Blobs) PutIfAbsent(id model.ObjectID, data []byte) (bool, error) {
	_, loaded := b.m.LoadOrStore(id, bytes.Clone(data))
	return !loaded, nil
}

func (b *Blobs) Delete(id model.ObjectID) (bool, error) {
	_, ok := b.m.LoadAndDelete(id)
	return ok, nil
}

func (b *Blobs) ScanPrefix(prefix []byte, fn func(model.ObjectID) bool) error {
	b.m.Range(func(id model.ObjectID, _ []byte) bool {
		raw := id.RawValue()
		if bytes.HasPrefix(raw[:], prefix) {
			return fn(id)
		}
		return true
	})
	return nil
}

// Size is the number of stored objects.
func (b *Blobs) Size() int {
	return b.m.Size()
}
