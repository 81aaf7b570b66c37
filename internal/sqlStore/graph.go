package sqlStore

import (
	"fmt"

	"github.com/i5heu/geostore/pkg/model"
	"github.com/i5heu/geostore/pkg/storage"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Graph keeps nodes, child edges in insertion order, properties and id
// mappings in their own tables. Parent lists are packed raw ids.
type Graph struct {
	*DB
}

var _ storage.GraphBackend = (*Graph)(nil)

func packIDs(ids []model.ObjectID) []byte {
	out := make([]byte, 0, len(ids)*model.NumBytes)
	for _, id := range ids {
		out = append(out, id.Bytes()...)
	}
	return out
}

func unpackIDs(raw []byte) ([]model.ObjectID, error) {
	if len(raw)%model.NumBytes != 0 {
		return nil, fmt.Errorf("%w: packed id list of %d bytes", storage.ErrDecoding, len(raw))
	}
	var out []model.ObjectID
	for i := 0; i < len(raw); i += model.NumBytes {
		id, err := model.IDFromBytes(raw[i : i+model.NumBytes])
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// readNode loads the root flag and parents of a node.
func readNode(conn *sqlite.Conn, id model.ObjectID) (storage.GraphNode, bool, error) {
	node := storage.GraphNode{ID: id}
	found := false
	var packed []byte
	err := sqlitex.Execute(conn, "SELECT root, parents FROM graph_nodes WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id.Bytes()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			node.Root = stmt.ColumnInt64(0) != 0
			packed = columnBytes(stmt, 1)
			return nil
		},
	})
	if err != nil || !found {
		return node, false, err
	}
	node.Parents, err = unpackIDs(packed)
	return node, true, err
}

func (g *Graph) Exists(id model.ObjectID) (bool, error) {
	found := false
	err := g.withConn(func(conn *sqlite.Conn) error {
		var err error
		_, found, err = readNode(conn, id)
		return err
	})
	return found, err
}

func (g *Graph) Put(id model.ObjectID, parents []model.ObjectID) (bool, error) {
	updated := false
	err := g.withTx(func(conn *sqlite.Conn) error {
		existing, _, err := readNode(conn, id)
		if err != nil {
			return err
		}
		if updated, err = storage.PlanPut(existing, parents); err != nil || !updated {
			return err
		}
		root := int64(0)
		if len(parents) == 0 {
			root = 1
		}
		err = sqlitex.Execute(conn, `INSERT INTO graph_nodes (id, root, parents) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET root = excluded.root, parents = excluded.parents`, &sqlitex.ExecOptions{
			Args: []any{id.Bytes(), root, packIDs(parents)},
		})
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO graph_nodes (id) VALUES (?)", &sqlitex.ExecOptions{
				Args: []any{p.Bytes()},
			}); err != nil {
				return err
			}
			if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO graph_edges (parent, child) VALUES (?, ?)", &sqlitex.ExecOptions{
				Args: []any{p.Bytes(), id.Bytes()},
			}); err != nil {
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
	err := g.withConn(func(conn *sqlite.Conn) error {
		var (
			found bool
			err   error
		)
		node, found, err = readNode(conn, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", storage.ErrGraphNodeNotFound, id)
		}
		err = sqlitex.Execute(conn, "SELECT child FROM graph_edges WHERE parent = ? ORDER BY seq", &sqlitex.ExecOptions{
			Args: []any{id.Bytes()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				child, err := model.IDFromBytes(columnBytes(stmt, 0))
				if err != nil {
					return err
				}
				node.Children = append(node.Children, child)
				return nil
			},
		})
		if err != nil {
			return err
		}
		node.Properties = map[string]string{}
		return sqlitex.Execute(conn, "SELECT key, value FROM graph_properties WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{id.Bytes()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				node.Properties[stmt.ColumnText(0)] = stmt.ColumnText(1)
				return nil
			},
		})
	})
	return node, err
}

func (g *Graph) SetProperty(id model.ObjectID, key, value string) error {
	return g.withTx(func(conn *sqlite.Conn) error {
		_, found, err := readNode(conn, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", storage.ErrGraphNodeNotFound, id)
		}
		return sqlitex.Execute(conn, "INSERT OR REPLACE INTO graph_properties (id, key, value) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{id.Bytes(), key, value},
		})
	})
}

func (g *Graph) Map(mapped, original model.ObjectID) error {
	return g.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT OR REPLACE INTO graph_mappings (mapped, original) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{mapped.Bytes(), original.Bytes()},
		})
	})
}

func (g *Graph) Mapping(id model.ObjectID) (model.ObjectID, error) {
	out := model.NullID
	err := g.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT original FROM graph_mappings WHERE mapped = ?", &sqlitex.ExecOptions{
			Args: []any{id.Bytes()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				out, err = model.IDFromBytes(columnBytes(stmt, 0))
				return err
			},
		})
	})
	return out, err
}

func (g *Graph) Size() (int, error) {
	n := 0
	err := g.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT count(*) FROM graph_nodes", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return n, err
}

func (g *Graph) Truncate() error {
	return g.withTx(func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			DELETE FROM graph_nodes;
			DELETE FROM graph_edges;
			DELETE FROM graph_properties;
			DELETE FROM graph_mappings;`, nil)
	})
}
