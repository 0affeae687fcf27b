// Package sqldb implements the cluster contracts for SQL databases reachable
// through database/sql. A Dialect supplies the driver, connection strings,
// statements and isolation level of one database product.
package sqldb

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

// ErrNoVariable is returned on access to a variable that was never seeded.
var ErrNoVariable = errors.New("no such variable")

// Dialect describes one SQL database product.
type Dialect struct {
	// Driver is the database/sql driver name.
	Driver string
	// Label is recorded into result histories.
	Label string
	// Isolation is used for every transaction attempt.
	Isolation sql.IsolationLevel
	// DSN builds the connection string for addr.
	DSN func(addr, user, password string) string

	// Setup statements run in order on the first node. They must drop and
	// recreate the variables table.
	Setup []string
	// Insert seeds one variable with value 0. Argument: variable.
	Insert string
	// Select reads one value. Argument: variable.
	Select string
	// Update writes one value. Arguments: value, variable. The driver must
	// report matched rather than changed rows as affected.
	Update string
	// Cleanup statements run in order on the first node.
	Cleanup []string
}

// Cluster runs histories against a SQL database.
type Cluster struct {
	backend.NodeSet

	dialect  Dialect
	user     string
	password string
	logger   *slog.Logger

	mu    sync.Mutex
	admin *sql.DB
}

var _ backend.Cluster = (*Cluster)(nil)

// New creates a cluster over nodes speaking dialect d.
func New(d Dialect, nodes []model.Node, opts backend.Options) *Cluster {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cluster{
		NodeSet:  nodes,
		dialect:  d,
		user:     opts.User,
		password: opts.Password,
		logger:   logger.With("backend", d.Label),
	}
}

// Setup drops and recreates the variables table through the first node.
func (c *Cluster) Setup(ctx context.Context) error {
	db, err := c.adminDB(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("creating table for testing")
	for _, stmt := range c.dialect.Setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "setup: %s", stmt)
		}
	}
	return nil
}

// SetupTest inserts one row per variable with value 0.
func (c *Cluster) SetupTest(ctx context.Context, p model.HistoryParams) error {
	db, err := c.adminDB(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("inserting initial values", "variables", p.Variables)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "seed")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, c.dialect.Insert)
	if err != nil {
		return errors.Wrap(err, "seed: prepare")
	}
	defer stmt.Close()

	for v := 0; v < p.Variables; v++ {
		if _, err := stmt.ExecContext(ctx, v); err != nil {
			return errors.Wrapf(err, "seed variable %d", v)
		}
	}
	return errors.Wrap(tx.Commit(), "seed: commit")
}

// NodeExecutor returns a session runner bound to node id.
func (c *Cluster) NodeExecutor(id int) (backend.NodeExecutor, error) {
	node, err := c.Node(id)
	if err != nil {
		return nil, err
	}
	return &backend.SessionRunner{Node: node, Dial: c.dial}, nil
}

// Cleanup runs the cleanup statements and closes the admin connection.
func (c *Cluster) Cleanup(ctx context.Context) error {
	db, err := c.adminDB(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("dropping test schema")
	for _, stmt := range c.dialect.Cleanup {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			err = errors.Wrapf(err, "cleanup: %s", stmt)
			break
		}
	}

	c.mu.Lock()
	c.admin = nil
	c.mu.Unlock()
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Label returns the dialect label.
func (c *Cluster) Label() string { return c.dialect.Label }

func (c *Cluster) adminDB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admin != nil {
		return c.admin, nil
	}
	node, err := c.Node(1)
	if err != nil {
		return nil, err
	}
	db, err := c.open(ctx, node)
	if err != nil {
		return nil, err
	}
	c.admin = db
	return db, nil
}

// open connects to node with a pool of exactly one connection, so everything
// issued through the handle runs on the same server session.
func (c *Cluster) open(ctx context.Context, node model.Node) (*sql.DB, error) {
	db, err := sql.Open(c.dialect.Driver, c.dialect.DSN(node.Addr, c.user, c.password))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", node)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", node)
	}
	return db, nil
}

func (c *Cluster) dial(ctx context.Context, node model.Node) (backend.Conn, error) {
	db, err := c.open(ctx, node)
	if err != nil {
		return nil, err
	}
	read, err := db.PrepareContext(ctx, c.dialect.Select)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "prepare read")
	}
	write, err := db.PrepareContext(ctx, c.dialect.Update)
	if err != nil {
		read.Close()
		db.Close()
		return nil, errors.Wrap(err, "prepare write")
	}
	return &conn{db: db, read: read, write: write, isolation: c.dialect.Isolation}, nil
}

type conn struct {
	db        *sql.DB
	read      *sql.Stmt
	write     *sql.Stmt
	isolation sql.IsolationLevel
}

func (cn *conn) Begin(ctx context.Context) (backend.Tx, error) {
	t, err := cn.db.BeginTx(ctx, &sql.TxOptions{Isolation: cn.isolation})
	if err != nil {
		return nil, err
	}
	return &tx{tx: t, conn: cn}, nil
}

func (cn *conn) Close() error {
	cn.read.Close()
	cn.write.Close()
	return cn.db.Close()
}

type tx struct {
	tx   *sql.Tx
	conn *conn
}

func (t *tx) Read(ctx context.Context, v model.Variable) (uint64, error) {
	var value uint64
	err := t.tx.StmtContext(ctx, t.conn.read).QueryRowContext(ctx, int64(v)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(ErrNoVariable, "variable %d", v)
	}
	return value, err
}

func (t *tx) Write(ctx context.Context, v model.Variable, value uint64) error {
	res, err := t.tx.StmtContext(ctx, t.conn.write).ExecContext(ctx, int64(value), int64(v))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n != 1 {
		return errors.Wrapf(ErrNoVariable, "variable %d: %d rows updated", v, n)
	}
	return nil
}

func (t *tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
