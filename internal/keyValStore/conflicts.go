package keyValStore

import (
	"fmt"
	"iter"

	"github.com/i5heu/geostore/pkg/storage"
)

// Conflicts keeps one record per path under 'c' + namespace + 0 + path.
type Conflicts struct {
	*KeyValStore
}

var _ storage.ConflictsBackend = (*Conflicts)(nil)

func namespacePrefix(namespace string) []byte {
	return makeKey(prefixConflict, []byte(namespace), []byte{0})
}

func conflictKey(namespace, path string) []byte {
	return makeKey(prefixConflict, []byte(namespace), []byte{0}, []byte(path))
}

func decodeConflict(path string, v []byte) (storage.Conflict, error) {
	var rec conflictRecord
	if err := decMode.Unmarshal(v, &rec); err != nil {
		return storage.Conflict{}, fmt.Errorf("conflict %s: %w: %v", path, storage.ErrDecoding, err)
	}
	c := storage.Conflict{Path: path}
	var err error
	if c.Ancestor, err = idOf(rec.Ancestor); err != nil {
		return c, err
	}
	if c.Ours, err = idOf(rec.Ours); err != nil {
		return c, err
	}
	c.Theirs, err = idOf(rec.Theirs)
	return c, err
}

func (c *Conflicts) Add(namespace string, conflicts []storage.Conflict) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, cf := range conflicts {
		data, err := encMode.Marshal(conflictRecord{
			Ancestor: idBytes(cf.Ancestor),
			Ours:     idBytes(cf.Ours),
			Theirs:   idBytes(cf.Theirs),
		})
		if err != nil {
			return err
		}
		if err := wb.Set(conflictKey(namespace, cf.Path), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (c *Conflicts) Get(namespace, path string) (storage.Conflict, bool, error) {
	v, ok, err := c.get(conflictKey(namespace, path))
	if err != nil || !ok {
		return storage.Conflict{}, false, err
	}
	cf, err := decodeConflict(path, v)
	return cf, err == nil, err
}

func (c *Conflicts) Remove(namespace string, paths []string) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, p := range paths {
		if err := wb.Delete(conflictKey(namespace, p)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// matching walks the paths of a namespace that fall under prefix.
func (c *Conflicts) matching(namespace, prefix string, withValues bool, fn func(path string, v []byte) (bool, error)) error {
	ns := namespacePrefix(namespace)
	return c.scan(makeKey(prefixConflict, []byte(namespace), []byte{0}, []byte(prefix)), withValues, func(k, v []byte) (bool, error) {
		path := string(k[len(ns):])
		if !storage.MatchesPrefix(path, prefix) {
			return true, nil
		}
		return fn(path, v)
	})
}

func (c *Conflicts) RemoveByPrefix(namespace, prefix string) error {
	var paths []string
	err := c.matching(namespace, prefix, false, func(path string, _ []byte) (bool, error) {
		paths = append(paths, path)
		return true, nil
	})
	if err != nil || len(paths) == 0 {
		return err
	}
	return c.Remove(namespace, paths)
}

func (c *Conflicts) Find(namespace string, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		_, ok, err := c.get(conflictKey(namespace, p))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *Conflicts) Count(namespace, prefix string) (int, error) {
	n := 0
	err := c.matching(namespace, prefix, false, func(string, []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

func (c *Conflicts) List(namespace, prefix string) iter.Seq2[storage.Conflict, error] {
	return func(yield func(storage.Conflict, error) bool) {
		err := c.matching(namespace, prefix, true, func(path string, v []byte) (bool, error) {
			cf, err := decodeConflict(path, v)
			if err != nil {
				return false, err
			}
			return yield(cf, nil), nil
		})
		if err != nil {
			yield(storage.Conflict{}, err)
		}
	}
}

func (c *Conflicts) Has(namespace string) (bool, error) {
	found := false
	err := c.scan(namespacePrefix(namespace), false, func(_, _ []byte) (bool, error) {
		found = true
		return false, nil
	})
	return found, err
}

func (c *Conflicts) Clear(namespace string) error {
	_, err := c.deletePrefix(namespacePrefix(namespace))
	return err
}
