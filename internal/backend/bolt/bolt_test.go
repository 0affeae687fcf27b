package bolt

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

func newCluster(t *testing.T) *Cluster {
	t.Helper()
	nodes, err := backend.ParseNodes([]string{"local:1", "local:2"})
	require.NoError(t, err)
	c := New(nodes, filepath.Join(t.TempDir(), "test.bolt"))
	t.Cleanup(func() { _ = c.Cleanup(context.Background()) })
	return c
}

func TestSetupSeedAndExecute(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.SetupTest(ctx, model.HistoryParams{Variables: 2}))

	exec, err := c.NodeExecutor(1)
	require.NoError(t, err)
	s := &model.Session{Transactions: []model.Transaction{
		{Events: []model.Event{model.Read(0), model.Write(0, 3)}},
		{Events: []model.Event{model.Read(0), model.Read(1)}},
	}}
	require.NoError(t, exec.ExecSession(ctx, s))

	assert.Zero(t, s.Transactions[0].Events[0].Value)
	assert.Equal(t, uint64(3), s.Transactions[1].Events[0].Value)
	assert.Zero(t, s.Transactions[1].Events[1].Value)
	for _, txn := range s.Transactions {
		assert.True(t, txn.Committed())
	}
}

func TestSetupIsIdempotent(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.SetupTest(ctx, model.HistoryParams{Variables: 1}))
	require.NoError(t, c.Setup(ctx))

	conn, err := c.dial(ctx, model.Node{ID: 1})
	require.NoError(t, err)
	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Read(ctx, 0)
	assert.True(t, errors.Is(err, ErrNoVariable), "setup drops previous data")
	require.NoError(t, tx.Rollback(ctx))
}

func TestConcurrentSessions(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()
	require.NoError(t, c.Setup(ctx))
	require.NoError(t, c.SetupTest(ctx, model.HistoryParams{Variables: 1}))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, err := c.NodeExecutor(i%2 + 1)
			if err != nil {
				errs[i] = err
				return
			}
			s := &model.Session{Transactions: []model.Transaction{
				{Events: []model.Event{model.Read(0), model.Write(0, uint64(i+1))}},
			}}
			errs[i] = exec.ExecSession(ctx, s)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestDialBeforeSetupFails(t *testing.T) {
	c := newCluster(t)
	exec, err := c.NodeExecutor(1)
	require.NoError(t, err)
	s := &model.Session{Transactions: []model.Transaction{{Events: []model.Event{model.Read(0)}}}}
	assert.Error(t, exec.ExecSession(context.Background(), s))

	_, err = c.NodeExecutor(3)
	assert.ErrorIs(t, err, backend.ErrNoSuchNode)
}

func TestCleanupWithoutSetup(t *testing.T) {
	c := newCluster(t)
	assert.NoError(t, c.Cleanup(context.Background()))
}
