// Package bolt implements an embedded backend on a single bbolt file. bbolt
// serialises writable transactions, so every executed history is trivially
// serializable. All nodes share the one database; it exists for local smoke
// runs of the harness without a real cluster.
package bolt

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

// Name is the registry name of the backend.
const Name = "bolt"

// Label is recorded into result histories.
const Label = "Bolt"

var bucketName = []byte("dbcop")

// ErrNoVariable is returned on access to a variable that was never seeded.
var ErrNoVariable = errors.New("no such variable")

// Info describes the backend for the registry.
var Info = backend.BackendInfo{
	Name:        Name,
	Isolation:   "serializable",
	Description: "embedded bbolt file, single writer",
}

// Cluster is a bbolt-backed cluster.
type Cluster struct {
	backend.NodeSet

	path string

	mu sync.Mutex
	db *bbolt.DB
}

var _ backend.Cluster = (*Cluster)(nil)

// New creates a cluster storing its data in path.
func New(nodes []model.Node, path string) *Cluster {
	return &Cluster{NodeSet: nodes, path: path}
}

// Factory adapts New to backend.Factory. An empty BoltPath puts the file in
// the system temp directory.
func Factory(nodes []model.Node, opts backend.Options) (backend.Cluster, error) {
	path := opts.BoltPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "dbcop.bolt")
	}
	return New(nodes, path), nil
}

// Setup opens the database file if needed and recreates the bucket.
func (c *Cluster) Setup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		db, err := bbolt.Open(c.path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return errors.Wrapf(err, "open %s", c.path)
		}
		c.db = db
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName) != nil {
			if err := tx.DeleteBucket(bucketName); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}

// SetupTest seeds every variable with 0.
func (c *Cluster) SetupTest(_ context.Context, p model.HistoryParams) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return errors.New("bucket not found")
		}
		for v := 0; v < p.Variables; v++ {
			if err := b.Put(key(model.Variable(v)), encode(0)); err != nil {
				return err
			}
		}
		return nil
	})
}

// NodeExecutor returns a session runner bound to node id.
func (c *Cluster) NodeExecutor(id int) (backend.NodeExecutor, error) {
	node, err := c.Node(id)
	if err != nil {
		return nil, err
	}
	return &backend.SessionRunner{Node: node, Dial: c.dial}, nil
}

// Cleanup drops the bucket and closes the database.
func (c *Cluster) Cleanup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName) == nil {
			return nil
		}
		return tx.DeleteBucket(bucketName)
	})
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	c.db = nil
	return err
}

// Label returns the backend label.
func (c *Cluster) Label() string { return Label }

func (c *Cluster) handle() (*bbolt.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, errors.New("bolt cluster is not set up")
	}
	return c.db, nil
}

func (c *Cluster) dial(context.Context, model.Node) (backend.Conn, error) {
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	return conn{db: db}, nil
}

type conn struct {
	db *bbolt.DB
}

func (cn conn) Begin(context.Context) (backend.Tx, error) {
	btx, err := cn.db.Begin(true)
	if err != nil {
		return nil, err
	}
	b := btx.Bucket(bucketName)
	if b == nil {
		_ = btx.Rollback()
		return nil, errors.New("bucket not found")
	}
	return &tx{tx: btx, bucket: b}, nil
}

func (conn) Close() error { return nil }

type tx struct {
	tx     *bbolt.Tx
	bucket *bbolt.Bucket
}

func (t *tx) Read(_ context.Context, v model.Variable) (uint64, error) {
	raw := t.bucket.Get(key(v))
	if raw == nil {
		return 0, errors.Wrapf(ErrNoVariable, "variable %d", v)
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

func (t *tx) Write(_ context.Context, v model.Variable, value uint64) error {
	if t.bucket.Get(key(v)) == nil {
		return errors.Wrapf(ErrNoVariable, "variable %d", v)
	}
	return t.bucket.Put(key(v), encode(value))
}

func (t *tx) Commit(context.Context) error { return t.tx.Commit() }

// Rollback is a no-op after Commit; bbolt reports ErrTxClosed, which is dropped.
func (t *tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		return err
	}
	return nil
}

func key(v model.Variable) []byte { return []byte(strconv.FormatUint(uint64(v), 10)) }

func encode(value uint64) []byte { return []byte(strconv.FormatUint(value, 10)) }
