package engine

import (
	"log/slog"

	"github.com/seantiz/dbcop/internal/backend"
)

// progressObserver logs every failed attempt at debug level and each session's
// progress in steps of 10%, and mirrors the steps to the broker.
type progressObserver struct {
	logger    *slog.Logger
	broker    *Broker
	runID     string
	historyID int
}

func (o *progressObserver) OnAbort(p backend.Progress) {
	o.logger.Debug("transaction aborted, retrying",
		"node", p.Node.ID, "session", p.Session, "txn", p.Txn, "attempt", p.Attempt, "error", p.Err)
}

func (o *progressObserver) OnCommit(p backend.Progress) {
	if p.Total == 0 || p.Done*10/p.Total == (p.Done-1)*10/p.Total {
		return
	}
	percent := p.Done * 100 / p.Total
	o.logger.Info("session progress",
		"node", p.Node.ID, "session", p.Session, "done", p.Done, "total", p.Total, "percent", percent)
	if o.broker != nil && o.runID != "" {
		o.broker.Publish(Event{
			Type:      EventProgress,
			RunID:     o.runID,
			HistoryID: o.historyID,
			Node:      p.Node.ID,
			Session:   p.Session,
			Done:      p.Done,
			Total:     p.Total,
		})
	}
}
