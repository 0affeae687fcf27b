package backend

import (
	"context"

	"github.com/seantiz/dbcop/internal/model"
)

// Cluster is the interface every database backend implements. A Cluster
// exclusively owns its node list for its lifetime.
type Cluster interface {
	// NodeCount returns the number of configured nodes.
	NodeCount() int

	// Setup idempotently (re)creates the tested schema. It is called once per
	// execution before any session runs.
	Setup(ctx context.Context) error

	// SetupTest seeds one entry per variable, with value zero.
	SetupTest(ctx context.Context, p model.HistoryParams) error

	// Node returns the descriptor of node id, 1 <= id <= NodeCount().
	Node(id int) (model.Node, error)

	// NodeExecutor returns an executor bound to node id.
	NodeExecutor(id int) (NodeExecutor, error)

	// Cleanup tears the schema down after all sessions completed.
	Cleanup(ctx context.Context) error

	// Label identifies the backend in result histories.
	Label() string
}

// NodeExecutor runs sessions against one node.
type NodeExecutor interface {
	// ExecSession runs every transaction of s in order, retrying each one
	// until it commits, and fills in read values and success flags in place.
	// Implementations open their own connection per call. An error means the
	// session could not be executed at all.
	ExecSession(ctx context.Context, s *model.Session) error
}

// Conn is one client connection to a node, owned by a single session.
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one backend transaction attempt.
type Tx interface {
	Read(ctx context.Context, v model.Variable) (uint64, error)
	Write(ctx context.Context, v model.Variable, value uint64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Dialer opens a connection to node.
type Dialer func(ctx context.Context, node model.Node) (Conn, error)
