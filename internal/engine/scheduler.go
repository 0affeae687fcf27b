package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/model"
)

// NodeFor returns the node ordinal that session i is dispatched to on a
// cluster of k nodes.
func NodeFor(i, k int) int {
	return i%k + 1
}

// ExecSessions executes every session concurrently on c and writes the
// results back in place, so sessions keeps its order whatever the
// completion order. Session i runs on node NodeFor(i, c.NodeCount()).
//
// A failing session does not stop the others; ExecSessions waits for all of
// them and returns the first error. There is no partial result: on error the
// content of sessions is unspecified.
func ExecSessions(ctx context.Context, c backend.Cluster, sessions []model.Session) error {
	k := c.NodeCount()
	if k == 0 {
		return errors.New("cluster has no nodes")
	}

	var g errgroup.Group
	for i := range sessions {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Newf("session %d panicked: %v", i, r)
				}
			}()

			exec, err := c.NodeExecutor(NodeFor(i, k))
			if err != nil {
				return errors.Wrapf(err, "session %d", i)
			}
			return exec.ExecSession(backend.WithSession(ctx, i), &sessions[i])
		})
	}
	return g.Wait()
}
