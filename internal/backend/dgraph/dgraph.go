// Package dgraph runs histories against a Dgraph cluster over gRPC. Every
// variable is one node carrying a "var" and a "val" predicate; writes are
// upserts keyed on "var". Dgraph transactions are snapshot isolated and
// abort on conflicting commits.
package dgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/dgo/v210"
	"github.com/dgraph-io/dgo/v210/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

// Name is the registry name of the backend.
const Name = "dgraph"

// Label is recorded into result histories.
const Label = "Dgraph"

const schema = `
	var: int @index(int) @upsert .
	val: int .
	type Variable {
		var
		val
	}
`

const readQuery = `query read($v: int) {
	q(func: eq(var, $v)) {
		val
	}
}`

// ErrNoVariable is returned on access to a variable that was never seeded.
var ErrNoVariable = errors.New("no such variable")

// Info describes the backend for the registry.
var Info = backend.BackendInfo{
	Name:        Name,
	Isolation:   "snapshot isolation",
	Description: "Dgraph alpha nodes over gRPC",
}

// Cluster is a Dgraph cluster.
type Cluster struct {
	backend.NodeSet

	logger *slog.Logger

	mu    sync.Mutex
	admin *client
}

var _ backend.Cluster = (*Cluster)(nil)

// Factory builds a Dgraph cluster; credentials are not used.
func Factory(nodes []model.Node, opts backend.Options) (backend.Cluster, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cluster{NodeSet: nodes, logger: logger.With("backend", Label)}, nil
}

type client struct {
	conn *grpc.ClientConn
	dg   *dgo.Dgraph
}

func connect(node model.Node) (*client, error) {
	conn, err := grpc.Dial(node.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", node)
	}
	return &client{conn: conn, dg: dgo.NewDgraphClient(api.NewDgraphClient(conn))}, nil
}

func (c *Cluster) adminClient() (*client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admin != nil {
		return c.admin, nil
	}
	node, err := c.Node(1)
	if err != nil {
		return nil, err
	}
	cl, err := connect(node)
	if err != nil {
		return nil, err
	}
	c.admin = cl
	return cl, nil
}

// Setup drops all data and installs the schema.
func (c *Cluster) Setup(ctx context.Context) error {
	cl, err := c.adminClient()
	if err != nil {
		return err
	}
	c.logger.Info("installing schema")
	if err := cl.dg.Alter(ctx, &api.Operation{DropAll: true}); err != nil {
		return errors.Wrap(err, "drop all")
	}
	return errors.Wrap(cl.dg.Alter(ctx, &api.Operation{Schema: schema}), "alter schema")
}

type variable struct {
	Var   uint64   `json:"var"`
	Val   uint64   `json:"val"`
	DType []string `json:"dgraph.type,omitempty"`
}

// SetupTest creates one node per variable with value 0.
func (c *Cluster) SetupTest(ctx context.Context, p model.HistoryParams) error {
	cl, err := c.adminClient()
	if err != nil {
		return err
	}
	c.logger.Info("inserting initial values", "variables", p.Variables)

	vars := make([]variable, p.Variables)
	for i := range vars {
		vars[i] = variable{Var: uint64(i), DType: []string{"Variable"}}
	}
	payload, err := json.Marshal(vars)
	if err != nil {
		return err
	}
	txn := cl.dg.NewTxn()
	defer txn.Discard(ctx) //nolint:errcheck
	_, err = txn.Mutate(ctx, &api.Mutation{SetJson: payload, CommitNow: true})
	return errors.Wrap(err, "seed variables")
}

// NodeExecutor returns a session runner bound to node id.
func (c *Cluster) NodeExecutor(id int) (backend.NodeExecutor, error) {
	node, err := c.Node(id)
	if err != nil {
		return nil, err
	}
	return &backend.SessionRunner{Node: node, Dial: dial}, nil
}

// Cleanup drops all data and closes the admin connection.
func (c *Cluster) Cleanup(ctx context.Context) error {
	cl, err := c.adminClient()
	if err != nil {
		return err
	}
	c.logger.Info("dropping all data")
	err = errors.Wrap(cl.dg.Alter(ctx, &api.Operation{DropAll: true}), "drop all")

	c.mu.Lock()
	c.admin = nil
	c.mu.Unlock()
	if cerr := cl.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Label returns the backend label.
func (c *Cluster) Label() string { return Label }

func dial(_ context.Context, node model.Node) (backend.Conn, error) {
	return connect(node)
}

func (cl *client) Begin(context.Context) (backend.Tx, error) {
	return &tx{txn: cl.dg.NewTxn()}, nil
}

func (cl *client) Close() error { return cl.conn.Close() }

type tx struct {
	txn *dgo.Txn
}

func (t *tx) Read(ctx context.Context, v model.Variable) (uint64, error) {
	resp, err := t.txn.QueryWithVars(ctx, readQuery, map[string]string{"$v": strconv.FormatUint(uint64(v), 10)})
	if err != nil {
		return 0, err
	}
	return decodeRead(resp.Json, v)
}

func (t *tx) Write(ctx context.Context, v model.Variable, value uint64) error {
	resp, err := t.txn.Do(ctx, upsert(v, value))
	if err != nil {
		return err
	}
	return checkUpsert(resp.Json, v)
}

func (t *tx) Commit(ctx context.Context) error { return t.txn.Commit(ctx) }

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.txn.Discard(ctx); err != nil && !errors.Is(err, dgo.ErrFinished) {
		return err
	}
	return nil
}

// upsert builds the request that sets val of variable v. Dgraph skips the
// mutation without an error when the condition does not hold, so the caller
// checks the matched uids with checkUpsert.
func upsert(v model.Variable, value uint64) *api.Request {
	return &api.Request{
		Query: fmt.Sprintf(`query { q(func: eq(var, %d)) { x as uid } }`, v),
		Mutations: []*api.Mutation{{
			Cond:      "@if(eq(len(x), 1))",
			SetNquads: []byte(fmt.Sprintf(`uid(x) <val> "%d" .`, value)),
		}},
	}
}

// checkUpsert fails unless the upsert query matched exactly one node.
func checkUpsert(payload []byte, v model.Variable) error {
	var resp struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &resp); err != nil {
			return errors.Wrap(err, "decode upsert response")
		}
	}
	if len(resp.Q) != 1 {
		return errors.Wrapf(ErrNoVariable, "variable %d: %d matches", v, len(resp.Q))
	}
	return nil
}

func decodeRead(payload []byte, v model.Variable) (uint64, error) {
	var resp struct {
		Q []struct {
			Val json.Number `json:"val"`
		} `json:"q"`
	}
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return 0, errors.Wrap(err, "decode read response")
	}
	if len(resp.Q) != 1 {
		return 0, errors.Wrapf(ErrNoVariable, "variable %d: %d matches", v, len(resp.Q))
	}
	return strconv.ParseUint(resp.Q[0].Val.String(), 10, 64)
}
