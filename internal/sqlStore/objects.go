package sqlStore

import (
	"fmt"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Objects keeps encoded objects keyed by the three id parts.
type Objects struct {
	*DB
}

var _ storage.BlobBackend = (*Objects)(nil)

func idArgs(id model.ObjectID) []any {
	h1, h2, h3 := id.Parts()
	return []any{int64(h1), int64(h2), int64(h3)}
}

func (o *Objects) Has(id model.ObjectID) (bool, error) {
	found := false
	err := o.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT 1 FROM objects WHERE h1 = ? AND h2 = ? AND h3 = ?", &sqlitex.ExecOptions{
			Args: idArgs(id),
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	})
	return found, err
}

func (o *Objects) Get(id model.ObjectID) ([]byte, error) {
	var data []byte
	found := false
	err := o.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT data FROM objects WHERE h1 = ? AND h2 = ? AND h3 = ?", &sqlitex.ExecOptions{
			Args: idArgs(id),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				data = columnBytes(stmt, 0)
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, id)
	}
	return data, nil
}

func (o *Objects) PutIfAbsent(id model.ObjectID, data []byte) (bool, error) {
	inserted := false
	err := o.withConn(func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO objects (h1, h2, h3, data) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
			Args: append(idArgs(id), data),
		})
		inserted = err == nil && conn.Changes() == 1
		return err
	})
	return inserted, err
}

func (o *Objects) Delete(id model.ObjectID) (bool, error) {
	deleted := false
	err := o.withConn(func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "DELETE FROM objects WHERE h1 = ? AND h2 = ? AND h3 = ?", &sqlitex.ExecOptions{
			Args: idArgs(id),
		})
		deleted = err == nil && conn.Changes() == 1
		return err
	})
	return deleted, err
}

// ScanPrefix narrows the scan to one h1 value once the prefix covers it.
func (o *Objects) ScanPrefix(prefix []byte, fn func(model.ObjectID) bool) error {
	query := "SELECT h1, h2, h3 FROM objects ORDER BY h1, h2, h3"
	var args []any
	if len(prefix) >= 4 {
		h1 := uint32(prefix[0])<<24 | uint32(prefix[1])<<16 | uint32(prefix[2])<<8 | uint32(prefix[3])
		query = "SELECT h1, h2, h3 FROM objects WHERE h1 = ? ORDER BY h2, h3"
		args = []any{int64(h1)}
	}
	stop := false
	return o.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if stop {
					return nil
				}
				id := model.IDFromParts(uint32(stmt.ColumnInt64(0)), uint64(stmt.ColumnInt64(1)), uint64(stmt.ColumnInt64(2)))
				raw := id.RawValue()
				if len(prefix) > len(raw) || string(raw[:len(prefix)]) != string(prefix) {
					return nil
				}
				stop = !fn(id)
				return nil
			},
		})
	})
}
