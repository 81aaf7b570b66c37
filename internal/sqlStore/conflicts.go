package sqlStore

import (
	"iter"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Conflicts keeps one row per namespace and path.
type Conflicts struct {
	*DB
}

var _ storage.ConflictsBackend = (*Conflicts)(nil)

func nullableID(id model.ObjectID) any {
	if id.IsNull() {
		return nil
	}
	return id.Bytes()
}

func scanConflict(stmt *sqlite.Stmt) (storage.Conflict, error) {
	c := storage.Conflict{Path: stmt.ColumnText(0)}
	ids := []*model.ObjectID{&c.Ancestor, &c.Ours, &c.Theirs}
	for i, dst := range ids {
		raw := columnBytes(stmt, i+1)
		if raw == nil {
			continue
		}
		id, err := model.IDFromBytes(raw)
		if err != nil {
			return c, err
		}
		*dst = id
	}
	return c, nil
}

func (c *Conflicts) Add(namespace string, conflicts []storage.Conflict) error {
	return c.withTx(func(conn *sqlite.Conn) error {
		for _, cf := range conflicts {
			err := sqlitex.Execute(conn, `INSERT OR REPLACE INTO conflicts (namespace, path, ancestor, ours, theirs)
				VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
				Args: []any{namespace, cf.Path, nullableID(cf.Ancestor), nullableID(cf.Ours), nullableID(cf.Theirs)},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Conflicts) Get(namespace, path string) (storage.Conflict, bool, error) {
	var (
		out   storage.Conflict
		found bool
	)
	err := c.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT path, ancestor, ours, theirs FROM conflicts WHERE namespace = ? AND path = ?", &sqlitex.ExecOptions{
			Args: []any{namespace, path},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				out, err = scanConflict(stmt)
				found = err == nil
				return err
			},
		})
	})
	return out, found, err
}

func (c *Conflicts) Remove(namespace string, paths []string) error {
	return c.withTx(func(conn *sqlite.Conn) error {
		for _, p := range paths {
			if err := sqlitex.Execute(conn, "DELETE FROM conflicts WHERE namespace = ? AND path = ?", &sqlitex.ExecOptions{
				Args: []any{namespace, p},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// prefixFilter selects the paths equal to prefix or under prefix + "/".
const prefixFilter = `namespace = ? AND (? = '' OR path = ? OR substr(path, 1, length(?)) = ?)`

func prefixArgs(namespace, prefix string) []any {
	return []any{namespace, prefix, prefix, prefix + "/", prefix + "/"}
}

func (c *Conflicts) RemoveByPrefix(namespace, prefix string) error {
	return c.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM conflicts WHERE "+prefixFilter, &sqlitex.ExecOptions{
			Args: prefixArgs(namespace, prefix),
		})
	})
}

func (c *Conflicts) Find(namespace string, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		_, ok, err := c.Get(namespace, p)
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
	err := c.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT count(*) FROM conflicts WHERE "+prefixFilter, &sqlitex.ExecOptions{
			Args: prefixArgs(namespace, prefix),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return n, err
}

// List reads the matching rows up front; a connection cannot stay borrowed
// across the caller's loop body.
func (c *Conflicts) List(namespace, prefix string) iter.Seq2[storage.Conflict, error] {
	return func(yield func(storage.Conflict, error) bool) {
		var out []storage.Conflict
		err := c.withConn(func(conn *sqlite.Conn) error {
			return sqlitex.Execute(conn, "SELECT path, ancestor, ours, theirs FROM conflicts WHERE "+prefixFilter+" ORDER BY path", &sqlitex.ExecOptions{
				Args: prefixArgs(namespace, prefix),
				ResultFunc: func(stmt *sqlite.Stmt) error {
					cf, err := scanConflict(stmt)
					if err != nil {
						return err
					}
					out = append(out, cf)
					return nil
				},
			})
		})
		if err != nil {
			yield(storage.Conflict{}, err)
			return
		}
		for _, cf := range out {
			if !yield(cf, nil) {
				return
			}
		}
	}
}

func (c *Conflicts) Has(namespace string) (bool, error) {
	found := false
	err := c.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT 1 FROM conflicts WHERE namespace = ? LIMIT 1", &sqlitex.ExecOptions{
			Args: []any{namespace},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	})
	return found, err
}

func (c *Conflicts) Clear(namespace string) error {
	return c.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM conflicts WHERE namespace = ?", &sqlitex.ExecOptions{
			Args: []any{namespace},
		})
	})
}
