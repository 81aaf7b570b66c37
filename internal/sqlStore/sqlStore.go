// Package sqlStore realizes the object, graph and conflict stores on one
// sqlite database per repository.
package sqlStore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/i5heu/geostore/internal/config"
	"github.com/i5heu/geostore/pkg/logging"
	"github.com/i5heu/geostore/pkg/storage"
	"github.com/sirupsen/logrus"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// FileName is the database file inside a repository directory.
const FileName = "geostore.db"

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	h1   INTEGER NOT NULL,
	h2   INTEGER NOT NULL,
	h3   INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (h1, h2, h3)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS graph_nodes (
	id      BLOB PRIMARY KEY,
	root    INTEGER NOT NULL DEFAULT 0,
	parents BLOB
);

CREATE TABLE IF NOT EXISTS graph_edges (
	seq    INTEGER PRIMARY KEY AUTOINCREMENT,
	parent BLOB NOT NULL,
	child  BLOB NOT NULL,
	UNIQUE (parent, child)
);

CREATE TABLE IF NOT EXISTS graph_properties (
	id    BLOB NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (id, key)
);

CREATE TABLE IF NOT EXISTS graph_mappings (
	mapped   BLOB PRIMARY KEY,
	original BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	namespace TEXT NOT NULL,
	path      TEXT NOT NULL,
	ancestor  BLOB,
	ours      BLOB,
	theirs    BLOB,
	PRIMARY KEY (namespace, path)
);
`

type Config struct {
	Path             string
	PoolSize         int
	MinimumFreeSpace int // in GB
	Logger           *logrus.Logger
}

// DB is the shared connection pool of one database file. The pool is opened
// by the first Acquire and closed by the last Release.
type DB struct {
	config Config
	log    *logrus.Logger

	mu   sync.Mutex
	refs int
	pool *sqlitex.Pool
}

var handles = struct {
	sync.Mutex
	m map[string]*DB
}{m: map[string]*DB{}}

// Open returns the shared handle for cfg.Path.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("no path provided in configuration")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = max(runtime.NumCPU(), 4)
	}

	handles.Lock()
	defer handles.Unlock()
	if db, ok := handles.m[path]; ok {
		return db, nil
	}
	db := &DB{config: cfg, log: logging.OrDefault(cfg.Logger)}
	handles.m[path] = db
	return db, nil
}

func (d *DB) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		if err := config.CheckDirectory(d.log, filepath.Dir(d.config.Path), d.config.MinimumFreeSpace); err != nil {
			return err
		}
		pool, err := sqlitex.NewPool(d.config.Path, sqlitex.PoolOptions{
			PoolSize:    d.config.PoolSize,
			PrepareConn: prepareConnection,
		})
		if err != nil {
			return fmt.Errorf("opening sqlite at %s: %w", d.config.Path, err)
		}
		d.pool = pool
		d.log.WithFields(logrus.Fields{"path": d.config.Path, "poolSize": d.config.PoolSize}).Info("sqlite pool opened")
	}
	d.refs++
	return nil
}

func (d *DB) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return nil
	}
	if d.refs--; d.refs > 0 {
		return nil
	}
	pool := d.pool
	d.pool = nil
	if err := pool.Close(); err != nil {
		d.log.WithFields(logrus.Fields{"path": d.config.Path}).Errorf("closing sqlite pool: %v", err)
		return err
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// withConn runs fn on a pooled connection.
func (d *DB) withConn(fn func(conn *sqlite.Conn) error) error {
	d.mu.Lock()
	pool := d.pool
	d.mu.Unlock()
	if pool == nil {
		return fmt.Errorf("sqlite at %s: %w", d.config.Path, storage.ErrNotOpen)
	}
	conn, err := pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer pool.Put(conn)
	return fn(conn)
}

// withTx runs fn in an IMMEDIATE transaction, which takes the write lock up
// front.
func (d *DB) withTx(fn func(conn *sqlite.Conn) error) error {
	return d.withConn(func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer end(&err)
		return fn(conn)
	})
}

func columnBytes(stmt *sqlite.Stmt, col int) []byte {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

// NewBackends returns the sqlite stores of one database; kinds sqlite does
// not realize stay nil.
func NewBackends(db *DB) storage.Backends {
	return storage.Backends{
		Blobs:     &Objects{db},
		Graph:     &Graph{db},
		Conflicts: &Conflicts{db},
	}
}
