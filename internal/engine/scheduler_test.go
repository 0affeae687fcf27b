package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/engine"
	"github.com/seantiz/dbcop/internal/model"
)

// recordingCluster hands out executors that record the node they ran on
// and tag the session's single read with the session index.
type recordingCluster struct {
	backend.NodeSet

	mu     sync.Mutex
	nodeOf map[int]int

	delay   func(session int) time.Duration
	failOn  int
	panicOn int
}

func newRecordingCluster(k int) *recordingCluster {
	nodes := make([]model.Node, k)
	for i := range nodes {
		nodes[i] = model.Node{Addr: "stub:1", ID: i + 1}
	}
	return &recordingCluster{NodeSet: nodes, nodeOf: make(map[int]int), failOn: -1, panicOn: -1}
}

func (c *recordingCluster) Setup(context.Context) error                          { return nil }
func (c *recordingCluster) SetupTest(context.Context, model.HistoryParams) error { return nil }
func (c *recordingCluster) Cleanup(context.Context) error                        { return nil }
func (c *recordingCluster) Label() string                                        { return "Recording" }

func (c *recordingCluster) NodeExecutor(id int) (backend.NodeExecutor, error) {
	if _, err := c.Node(id); err != nil {
		return nil, err
	}
	return recordingExecutor{c: c, node: id}, nil
}

type recordingExecutor struct {
	c    *recordingCluster
	node int
}

func (e recordingExecutor) ExecSession(ctx context.Context, s *model.Session) error {
	i := backend.SessionFrom(ctx)
	if e.c.delay != nil {
		time.Sleep(e.c.delay(i))
	}
	if i == e.c.panicOn {
		panic("boom")
	}
	if i == e.c.failOn {
		return errors.New("cannot connect")
	}

	e.c.mu.Lock()
	e.c.nodeOf[i] = e.node
	e.c.mu.Unlock()

	for j := range s.Transactions {
		t := &s.Transactions[j]
		for k := range t.Events {
			t.Events[k].Value = uint64(i)
			t.Events[k].Success = true
		}
		t.Success = true
	}
	return nil
}

func taggedSessions(n int) []model.Session {
	sessions := make([]model.Session, n)
	for i := range sessions {
		sessions[i] = model.Session{Transactions: []model.Transaction{
			{Events: []model.Event{model.Read(model.Variable(i))}},
		}}
	}
	return sessions
}

func TestExecSessionsPreservesOrder(t *testing.T) {
	const n = 8
	c := newRecordingCluster(3)
	c.delay = func(i int) time.Duration { return time.Duration(n-i) * 5 * time.Millisecond }

	sessions := taggedSessions(n)
	require.NoError(t, engine.ExecSessions(context.Background(), c, sessions))

	for i, s := range sessions {
		ev := s.Transactions[0].Events[0]
		assert.Equal(t, uint64(i), ev.Value, "session %d", i)
		assert.Equal(t, model.Variable(i), ev.Variable, "session %d", i)
	}
}

func TestExecSessionsRoundRobin(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		c := newRecordingCluster(k)
		sessions := taggedSessions(7)
		require.NoError(t, engine.ExecSessions(context.Background(), c, sessions))

		for i := range sessions {
			assert.Equal(t, i%k+1, c.nodeOf[i], "k=%d session %d", k, i)
		}
	}
}

func TestNodeFor(t *testing.T) {
	assert.Equal(t, 1, engine.NodeFor(0, 2))
	assert.Equal(t, 2, engine.NodeFor(1, 2))
	assert.Equal(t, 1, engine.NodeFor(2, 2))
	assert.Equal(t, 3, engine.NodeFor(5, 3))
}

func TestExecSessionsUnitFailureIsFatal(t *testing.T) {
	c := newRecordingCluster(2)
	c.failOn = 2
	err := engine.ExecSessions(context.Background(), c, taggedSessions(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect")

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.nodeOf, 3, "other sessions still ran to completion")
}

func TestExecSessionsRecoversPanic(t *testing.T) {
	c := newRecordingCluster(2)
	c.panicOn = 1
	err := engine.ExecSessions(context.Background(), c, taggedSessions(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session 1 panicked")
}

func TestExecSessionsNoNodes(t *testing.T) {
	c := newRecordingCluster(0)
	assert.Error(t, engine.ExecSessions(context.Background(), c, taggedSessions(1)))
}

func TestExecSessionsEmpty(t *testing.T) {
	c := newRecordingCluster(2)
	assert.NoError(t, engine.ExecSessions(context.Background(), c, nil))
}
