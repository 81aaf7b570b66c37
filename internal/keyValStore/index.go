package keyValStore

import (
	"bytes"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
)

// Index keeps index infos under 'x' + tree + 0 + attribute and the tree
// mappings of an index under 'y' + index id + original tree id.
type Index struct {
	*KeyValStore
}

var _ storage.IndexBackend = (*Index)(nil)

func indexKey(treeName, attributeName string) []byte {
	return makeKey(prefixIndex, []byte(treeName), []byte{0}, []byte(attributeName))
}

func mappingPrefix(info storage.IndexInfo) []byte {
	return makeKey(prefixIndexMap, info.ID().Bytes())
}

func decodeIndex(k, v []byte) (storage.IndexInfo, error) {
	tree, attr, ok := bytes.Cut(k[1:], []byte{0})
	if !ok {
		return storage.IndexInfo{}, fmt.Errorf("index key %q: %w", k, storage.ErrDecoding)
	}
	var rec indexRecord
	if err := decMode.Unmarshal(v, &rec); err != nil {
		return storage.IndexInfo{}, fmt.Errorf("index %s.%s: %w: %v", tree, attr, storage.ErrDecoding, err)
	}
	return storage.NewIndexInfo(string(tree), string(attr), storage.IndexStrategy(rec.Strategy), rec.Metadata), nil
}

func (x *Index) PutIndex(info storage.IndexInfo) error {
	data, err := encMode.Marshal(indexRecord{Strategy: uint8(info.Strategy), Metadata: info.Metadata})
	if err != nil {
		return err
	}
	return x.set(indexKey(info.TreeName, info.AttributeName), data)
}

func (x *Index) Index(treeName, attributeName string) (storage.IndexInfo, bool, error) {
	k := indexKey(treeName, attributeName)
	v, ok, err := x.get(k)
	if err != nil || !ok {
		return storage.IndexInfo{}, false, err
	}
	info, err := decodeIndex(k, v)
	return info, err == nil, err
}

func (x *Index) Indexes(treeName string) ([]storage.IndexInfo, error) {
	prefix := []byte{prefixIndex}
	if treeName != "" {
		prefix = makeKey(prefixIndex, []byte(treeName), []byte{0})
	}
	var out []storage.IndexInfo
	err := x.scan(prefix, true, func(k, v []byte) (bool, error) {
		info, err := decodeIndex(k, v)
		if err != nil {
			return false, err
		}
		out = append(out, info)
		return true, nil
	})
	slices.SortFunc(out, func(a, b storage.IndexInfo) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, err
}

func (x *Index) DropIndex(info storage.IndexInfo) (bool, error) {
	existed, err := x.remove(indexKey(info.TreeName, info.AttributeName))
	if err != nil {
		return false, err
	}
	return existed, x.ClearMappings(info)
}

func (x *Index) ClearMappings(info storage.IndexInfo) error {
	_, err := x.deletePrefix(mappingPrefix(info))
	return err
}

func (x *Index) AddMapping(info storage.IndexInfo, original, indexed model.ObjectID) error {
	return x.set(makeKey(prefixIndexMap, info.ID().Bytes(), original.Bytes()), indexed.Bytes())
}

func (x *Index) ResolveMapping(info storage.IndexInfo, original model.ObjectID) (model.ObjectID, bool, error) {
	v, ok, err := x.get(makeKey(prefixIndexMap, info.ID().Bytes(), original.Bytes()))
	if err != nil || !ok {
		return model.NullID, false, err
	}
	id, err := model.IDFromBytes(v)
	return id, err == nil, err
}

func (x *Index) Mappings(info storage.IndexInfo) iter.Seq2[storage.IndexTreeMapping, error] {
	return func(yield func(storage.IndexTreeMapping, error) bool) {
		prefix := mappingPrefix(info)
		err := x.scan(prefix, true, func(k, v []byte) (bool, error) {
			original, err := model.IDFromBytes(k[len(prefix):])
			if err != nil {
				return false, err
			}
			indexed, err := model.IDFromBytes(v)
			if err != nil {
				return false, err
			}
			return yield(storage.IndexTreeMapping{Original: original, Indexed: indexed}, nil), nil
		})
		if err != nil {
			yield(storage.IndexTreeMapping{}, err)
		}
	}
}
