package backend

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// SessionRunner implements NodeExecutor on top of a Dialer. It opens one
// connection per session and runs every transaction with CommitTransaction.
type SessionRunner struct {
	Node model.Node
	Dial Dialer
}

var _ NodeExecutor = (*SessionRunner)(nil)

// ExecSession runs s against r.Node. Failing to connect is fatal; failed
// transaction attempts are retried without bound.
func (r *SessionRunner) ExecSession(ctx context.Context, s *model.Session) error {
	conn, err := r.Dial(ctx, r.Node)
	if err != nil {
		return errors.Wrapf(err, "connect to %s", r.Node)
	}
	defer conn.Close()

	obs := ObserverFrom(ctx)
	p := Progress{Node: r.Node, Session: SessionFrom(ctx), Total: len(s.Transactions)}

	for i := range s.Transactions {
		p.Txn = i
		committed, attempts, err := CommitTransaction(ctx, conn, s.Transactions[i], func(attempt int, err error) {
			p.Attempt, p.Err = attempt, err
			obs.OnAbort(p)
		})
		if err != nil {
			return errors.Wrapf(err, "session %d transaction %d", p.Session, i)
		}
		s.Transactions[i] = committed

		p.Attempt, p.Err, p.Done = attempts, nil, i+1
		obs.OnCommit(p)
	}
	return nil
}

// CommitTransaction runs txn on conn until an attempt commits and returns the
// committed transaction and the number of attempts made. Every attempt works
// on a fresh copy of the events, so nothing from an aborted attempt leaks
// into the result. onAbort, if set, is called after each failed attempt.
//
// The only way out other than a commit is cancellation of ctx.
func CommitTransaction(ctx context.Context, conn Conn, txn model.Transaction, onAbort func(attempt int, err error)) (model.Transaction, int, error) {
	if txn.Committed() {
		return txn, 0, nil
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return txn, attempt - 1, errors.Wrap(err, "retry interrupted")
		}
		committed, err := attemptTransaction(ctx, conn, txn)
		if err == nil {
			return committed, attempt, nil
		}
		if onAbort != nil {
			onAbort(attempt, err)
		}
	}
}

func attemptTransaction(ctx context.Context, conn Conn, txn model.Transaction) (model.Transaction, error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return model.Transaction{}, errors.Wrap(err, "begin")
	}

	events := make([]model.Event, len(txn.Events))
	copy(events, txn.Events)
	for i := range events {
		e := &events[i]
		e.Success = false
		if e.IsWrite() {
			err = tx.Write(ctx, e.Variable, e.Value)
		} else {
			e.Value, err = tx.Read(ctx, e.Variable)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return model.Transaction{}, errors.Wrapf(err, "event %d (%s %d)", i, e.Kind, e.Variable)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return model.Transaction{}, errors.Wrap(err, "commit")
	}

	for i := range events {
		events[i].Success = true
	}
	return model.Transaction{Events: events, Success: true}, nil
}
