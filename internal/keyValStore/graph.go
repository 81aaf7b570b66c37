package keyValStore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
)

// Graph keeps one record per node under 'g' + id, one empty key per child
// edge under 'h' + parent + child and id mappings under 'm'.
type Graph struct {
	*KeyValStore
}

var _ storage.GraphBackend = (*Graph)(nil)

func nodeKey(id model.ObjectID) []byte { return makeKey(prefixNode, id.Bytes()) }

func childKey(parent, child model.ObjectID) []byte {
	return makeKey(prefixChild, parent.Bytes(), child.Bytes())
}

func readNode(txn *badger.Txn, id model.ObjectID) (nodeRecord, bool, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nodeRecord{}, false, nil
	}
	if err != nil {
		return nodeRecord{}, false, err
	}
	var rec nodeRecord
	err = item.Value(func(v []byte) error {
		return decMode.Unmarshal(v, &rec)
	})
	if err != nil {
		return nodeRecord{}, false, fmt.Errorf("graph node %s: %w: %v", id, storage.ErrDecoding, err)
	}
	return rec, true, nil
}

func writeNode(txn *badger.Txn, id model.ObjectID, rec nodeRecord) error {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(nodeKey(id), data)
}

func (g *Graph) Exists(id model.ObjectID) (bool, error) {
	found := false
	err := g.view(func(txn *badger.Txn) error {
		var err error
		_, found, err = readNode(txn, id)
		return err
	})
	return found, err
}

func (g *Graph) Put(id model.ObjectID, parents []model.ObjectID) (bool, error) {
	keys := [][]byte{nodeKey(id)}
	for _, p := range parents {
		keys = append(keys, nodeKey(p))
	}
	unlock := g.locks.lock(keys...)
	defer unlock()

	updated := false
	err := g.update(func(txn *badger.Txn) error {
		rec, _, err := readNode(txn, id)
		if err != nil {
			return err
		}
		existing := storage.GraphNode{ID: id, Root: rec.Root}
		if existing.Parents, err = idsOf(rec.Parents); err != nil {
			return err
		}
		if updated, err = storage.PlanPut(existing, parents); err != nil || !updated {
			return err
		}
		if len(parents) == 0 {
			rec.Root = true
			return writeNode(txn, id, rec)
		}
		rec.Parents = idsBytes(parents)
		if err := writeNode(txn, id, rec); err != nil {
			return err
		}
		for _, p := range parents {
			_, ok, err := readNode(txn, p)
			if err != nil {
				return err
			}
			if !ok {
				if err := writeNode(txn, p, nodeRecord{}); err != nil {
					return err
				}
			}
			if err := txn.Set(childKey(p, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (g *Graph) Node(id model.ObjectID) (storage.GraphNode, error) {
	var node storage.GraphNode
	err := g.view(func(txn *badger.Txn) error {
		rec, ok, err := readNode(txn, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrGraphNodeNotFound, id)
		}
		node = storage.GraphNode{ID: id, Root: rec.Root, Properties: rec.Props}
		if node.Properties == nil {
			node.Properties = map[string]string{}
		}
		node.Parents, err = idsOf(rec.Parents)
		return err
	})
	if err != nil {
		return storage.GraphNode{}, err
	}
	prefix := makeKey(prefixChild, id.Bytes())
	err = g.scan(prefix, false, func(k, _ []byte) (bool, error) {
		child, err := model.IDFromBytes(k[len(prefix):])
		if err != nil {
			return false, err
		}
		node.Children = append(node.Children, child)
		return true, nil
	})
	return node, err
}

func (g *Graph) SetProperty(id model.ObjectID, key, value string) error {
	unlock := g.locks.lock(nodeKey(id))
	defer unlock()
	return g.update(func(txn *badger.Txn) error {
		rec, ok, err := readNode(txn, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrGraphNodeNotFound, id)
		}
		if rec.Props == nil {
			rec.Props = map[string]string{}
		}
		rec.Props[key] = value
		return writeNode(txn, id, rec)
	})
}

func (g *Graph) Map(mapped, original model.ObjectID) error {
	return g.set(makeKey(prefixMapping, mapped.Bytes()), original.Bytes())
}

func (g *Graph) Mapping(id model.ObjectID) (model.ObjectID, error) {
	raw, ok, err := g.get(makeKey(prefixMapping, id.Bytes()))
	if err != nil || !ok {
		return model.NullID, err
	}
	return model.IDFromBytes(raw)
}

func (g *Graph) Size() (int, error) {
	n := 0
	err := g.scan([]byte{prefixNode}, false, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

func (g *Graph) Truncate() error {
	for _, p := range []byte{prefixNode, prefixChild, prefixMapping} {
		if _, err := g.deletePrefix([]byte{p}); err != nil {
			return err
		}
	}
	return nil
}
