// Package memory implements an in-process backend: a versioned key-value
// map with optimistic, serializable transactions. Nodes are labels only; all
// of them share the same map. It serves dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

// Name is the registry name of the backend.
const Name = "memory"

// Label is recorded into result histories.
const Label = "Memory"

var (
	// ErrNotReady is returned when the cluster is used before Setup.
	ErrNotReady = errors.New("memory cluster is not set up")
	// ErrConflict aborts a transaction whose reads were overwritten before it committed.
	ErrConflict = errors.New("serialization conflict")
	// ErrNoVariable is returned on access to a variable that was never seeded.
	ErrNoVariable = errors.New("no such variable")
)

// Info describes the backend for the registry.
var Info = backend.BackendInfo{
	Name:        Name,
	Isolation:   "serializable",
	Description: "in-process optimistic key-value store, for dry runs",
}

type cell struct {
	value   uint64
	version uint64
}

// Cluster is an in-memory cluster.
type Cluster struct {
	backend.NodeSet

	// BeforeCommit, if set, runs before every commit validation. A non-nil
	// error aborts the attempt. It must be set before execution starts.
	BeforeCommit func(ctx context.Context, node model.Node) error

	mu    sync.Mutex
	data  map[model.Variable]cell
	ready bool
}

var _ backend.Cluster = (*Cluster)(nil)

// New creates a memory cluster over nodes.
func New(nodes []model.Node) *Cluster {
	return &Cluster{NodeSet: nodes}
}

// Factory adapts New to backend.Factory.
func Factory(nodes []model.Node, _ backend.Options) (backend.Cluster, error) {
	return New(nodes), nil
}

// Setup (re)creates an empty key space.
func (c *Cluster) Setup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[model.Variable]cell)
	c.ready = true
	return nil
}

// SetupTest seeds every variable with 0.
func (c *Cluster) SetupTest(_ context.Context, p model.HistoryParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrNotReady
	}
	for v := 0; v < p.Variables; v++ {
		c.data[model.Variable(v)] = cell{}
	}
	return nil
}

// NodeExecutor returns a session runner bound to node id.
func (c *Cluster) NodeExecutor(id int) (backend.NodeExecutor, error) {
	node, err := c.Node(id)
	if err != nil {
		return nil, err
	}
	return &backend.SessionRunner{Node: node, Dial: c.dial}, nil
}

// Cleanup drops the key space.
func (c *Cluster) Cleanup(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrNotReady
	}
	c.data = nil
	c.ready = false
	return nil
}

// Label returns the backend label.
func (c *Cluster) Label() string { return Label }

// Value returns the committed value of v.
func (c *Cluster) Value(v model.Variable) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.data[v]
	return cl.value, ok
}

func (c *Cluster) dial(_ context.Context, node model.Node) (backend.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil, ErrNotReady
	}
	return &conn{cluster: c, node: node}, nil
}

type conn struct {
	cluster *Cluster
	node    model.Node
}

func (cn *conn) Begin(context.Context) (backend.Tx, error) {
	return &tx{
		conn:   cn,
		reads:  make(map[model.Variable]uint64),
		writes: make(map[model.Variable]uint64),
	}, nil
}

func (cn *conn) Close() error { return nil }

// tx buffers writes and remembers the version of every variable it read.
type tx struct {
	conn   *conn
	reads  map[model.Variable]uint64
	writes map[model.Variable]uint64
	done   bool
}

func (t *tx) Read(_ context.Context, v model.Variable) (uint64, error) {
	if val, ok := t.writes[v]; ok {
		return val, nil
	}
	c := t.conn.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.data[v]
	if !ok {
		return 0, errors.Wrapf(ErrNoVariable, "variable %d", v)
	}
	if _, seen := t.reads[v]; !seen {
		t.reads[v] = cl.version
	}
	return cl.value, nil
}

func (t *tx) Write(_ context.Context, v model.Variable, value uint64) error {
	c := t.conn.cluster
	c.mu.Lock()
	_, ok := c.data[v]
	c.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNoVariable, "variable %d", v)
	}
	t.writes[v] = value
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true

	c := t.conn.cluster
	if c.BeforeCommit != nil {
		if err := c.BeforeCommit(ctx, t.conn.node); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrNotReady
	}
	for v, version := range t.reads {
		if c.data[v].version != version {
			return errors.Wrapf(ErrConflict, "variable %d", v)
		}
	}
	for v, val := range t.writes {
		cl := c.data[v]
		c.data[v] = cell{value: val, version: cl.version + 1}
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	return nil
}
