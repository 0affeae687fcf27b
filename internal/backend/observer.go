package backend

import (
	"context"

	"github.com/seantiz/dbcop/internal/model"
)

// Progress describes one observation from a running session.
type Progress struct {
	Node    model.Node
	Session int // index of the session in its history, -1 if unknown
	Txn     int // index of the transaction in its session
	Attempt int // 1-based attempt number; on commit, the total attempts
	Done    int // transactions committed so far in this session
	Total   int // transactions in this session
	Err     error
}

// Observer receives progress from session runners. Implementations must be
// safe for concurrent use; they are called from every session goroutine.
type Observer interface {
	// OnAbort is called when a transaction attempt failed and will be retried.
	OnAbort(p Progress)
	// OnCommit is called when a transaction committed.
	OnCommit(p Progress)
}

// Observers fans observations out to several observers.
type Observers []Observer

func (obs Observers) OnAbort(p Progress) {
	for _, o := range obs {
		o.OnAbort(p)
	}
}

func (obs Observers) OnCommit(p Progress) {
	for _, o := range obs {
		o.OnCommit(p)
	}
}

type nopObserver struct{}

func (nopObserver) OnAbort(Progress)  {}
func (nopObserver) OnCommit(Progress) {}

type observerKey struct{}
type sessionKey struct{}

// WithObserver returns a context whose session runners report to o.
func WithObserver(ctx context.Context, o Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, o)
}

// ObserverFrom returns the observer carried by ctx, or one that discards
// everything.
func ObserverFrom(ctx context.Context) Observer {
	if o, ok := ctx.Value(observerKey{}).(Observer); ok && o != nil {
		return o
	}
	return nopObserver{}
}

// WithSession tags ctx with the index of the session being executed.
func WithSession(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, sessionKey{}, index)
}

// SessionFrom returns the session index carried by ctx, or -1.
func SessionFrom(ctx context.Context) int {
	if i, ok := ctx.Value(sessionKey{}).(int); ok {
		return i
	}
	return -1
}
