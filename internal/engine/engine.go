package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/backend"
	"github.com/seantiz/dbcop/internal/histfile"
	"github.com/seantiz/dbcop/internal/model"
	"github.com/seantiz/dbcop/internal/store"
)

// DefaultDelay is the pause between two executed histories of a batch.
const DefaultDelay = 100 * time.Millisecond

// ErrUncommitted is returned when an execution result still contains a
// transaction that did not commit. Such a result is never persisted.
var ErrUncommitted = errors.New("result contains uncommitted transactions")

// Config holds the collaborators of an Engine. Only Backend is required.
type Config struct {
	// Backend is the registry name of the cluster, recorded in the ledger.
	Backend string
	// Store is the run ledger; nil disables recording.
	Store store.Store
	// Broker receives run progress; nil disables publishing.
	Broker *Broker
	// Delay is slept between executed histories of a batch.
	Delay time.Duration
	// Observers are notified of every transaction attempt.
	Observers []backend.Observer
	Logger    *slog.Logger
}

// Engine executes histories against one cluster. It is not safe for
// concurrent use: a cluster executes one history at a time.
type Engine struct {
	cluster   backend.Cluster
	backend   string
	store     store.Store
	broker    *Broker
	delay     time.Duration
	observers []backend.Observer
	logger    *slog.Logger
}

// Summary reports the outcome of ExecuteAll.
type Summary struct {
	RunID    string `json:"run_id"`
	Executed int    `json:"executed"`
	Skipped  int    `json:"skipped"`
}

// NewEngine creates an engine driving c.
func NewEngine(c backend.Cluster, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cluster:   c,
		backend:   cfg.Backend,
		store:     cfg.Store,
		broker:    cfg.Broker,
		delay:     cfg.Delay,
		observers: cfg.Observers,
		logger:    logger.With("backend", cfg.Backend),
	}
}

// Execute runs h once and persists the result into dir, which must exist.
// The stages run strictly in order: setup, seed, execute, cleanup, persist.
// Cleanup runs whenever setup succeeded, also after a failed stage. h itself
// is not modified.
func (e *Engine) Execute(ctx context.Context, h *model.History, dir string) (*model.History, error) {
	res, _, err := e.execute(ctx, "", h, dir)
	return res, err
}

func (e *Engine) execute(ctx context.Context, runID string, h *model.History, dir string) (*model.History, string, error) {
	log := e.logger.With("history_id", h.ID)

	if err := h.Validate(); err != nil {
		return nil, "", err
	}

	log.Info("setup")
	if err := e.cluster.Setup(ctx); err != nil {
		return nil, "", errors.Wrap(err, "setup")
	}

	sessions, start, end, err := e.run(ctx, runID, h, log)

	log.Info("cleanup")
	if cerr := e.cluster.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
		err = errors.CombineErrors(err, errors.Wrap(cerr, "cleanup"))
	}
	if err != nil {
		return nil, "", err
	}

	result := model.NewResult(h, e.cluster.Label(), start, end, sessions)
	if !result.Committed() {
		return nil, "", errors.Wrapf(ErrUncommitted, "history %d", h.ID)
	}

	log.Info("writing result", "dir", dir)
	path, err := histfile.SaveResult(dir, result)
	if err != nil {
		return nil, "", errors.Wrap(err, "persist")
	}
	return result, path, nil
}

// run seeds the cluster and executes a copy of h's sessions.
func (e *Engine) run(ctx context.Context, runID string, h *model.History, log *slog.Logger) ([]model.Session, time.Time, time.Time, error) {
	log.Info("seeding", "variables", h.Params.Variables)
	if err := e.cluster.SetupTest(ctx, h.Params); err != nil {
		return nil, time.Time{}, time.Time{}, errors.Wrap(err, "seed")
	}

	obs := append(backend.Observers{
		metricsObserver{backend: e.backend},
		&progressObserver{logger: log, broker: e.broker, runID: runID, historyID: h.ID},
	}, e.observers...)
	sessions := h.CloneSessions()

	log.Info("executing", "sessions", len(sessions), "nodes", e.cluster.NodeCount())
	start := time.Now()
	err := ExecSessions(backend.WithObserver(ctx, obs), e.cluster, sessions)
	end := time.Now()
	historyDuration.WithLabelValues(e.backend).Observe(end.Sub(start).Seconds())
	if err != nil {
		return nil, start, end, errors.Wrap(err, "execute")
	}
	return sessions, start, end, nil
}

// ExecuteAll executes every history file of inDir, writing the result of
// history N to outDir/hist-N/history.binpb. All inputs are loaded before the
// first execution. A history whose output directory exists and is not empty
// is skipped, so an interrupted batch can be resumed by running it again.
// The first failure stops the batch.
func (e *Engine) ExecuteAll(ctx context.Context, inDir, outDir string) (Summary, error) {
	e.logger.Info("reading histories", "dir", inDir)
	hists, err := histfile.LoadDir(inDir)
	if err != nil {
		return Summary{}, err
	}
	for _, h := range hists {
		if err := h.Validate(); err != nil {
			return Summary{}, err
		}
	}
	e.logger.Info("histories loaded", "count", len(hists))

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Summary{}, errors.Wrap(err, "create output directory")
	}

	run := &model.Run{
		ID:        model.NewID(),
		Backend:   e.backend,
		InputDir:  inDir,
		OutputDir: outDir,
		Status:    model.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if e.store != nil {
		if err := e.store.CreateRun(ctx, run); err != nil {
			return Summary{}, err
		}
	}
	if e.broker != nil {
		e.broker.Open(run.ID)
		defer e.broker.Close(run.ID)
	}
	e.publish(Event{Type: EventRunStarted, RunID: run.ID, Message: inDir})

	sum := Summary{RunID: run.ID}
	err = e.executeAll(ctx, run.ID, hists, outDir, &sum)
	e.finish(ctx, run.ID, sum, err)
	return sum, err
}

func (e *Engine) executeAll(ctx context.Context, runID string, hists []*model.History, outDir string, sum *Summary) error {
	for _, h := range hists {
		dir := filepath.Join(outDir, histfile.DirName(h.ID))
		done, err := hasOutput(dir)
		if err != nil {
			return err
		}
		if done {
			e.logger.Warn("output directory is not empty, skipping", "history_id", h.ID, "dir", dir)
			historiesTotal.WithLabelValues(e.backend, outcomeSkipped).Inc()
			e.publish(Event{Type: EventHistorySkipped, RunID: runID, HistoryID: h.ID})
			sum.Skipped++
			continue
		}

		if sum.Executed > 0 && e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create history output directory")
		}
		e.publish(Event{Type: EventHistoryStarted, RunID: runID, HistoryID: h.ID})

		res, path, err := e.execute(ctx, runID, h, dir)
		if err != nil {
			historiesTotal.WithLabelValues(e.backend, outcomeFailed).Inc()
			return errors.Wrapf(err, "history %d", h.ID)
		}
		historiesTotal.WithLabelValues(e.backend, outcomeExecuted).Inc()
		sum.Executed++

		if e.store != nil {
			nSess, nTxn, nEv := res.Counts()
			if err := e.store.RecordExecution(ctx, &model.Execution{
				RunID:        runID,
				HistoryID:    h.ID,
				Backend:      e.backend,
				Sessions:     nSess,
				Transactions: nTxn,
				Events:       nEv,
				StartedAt:    *res.Start,
				FinishedAt:   *res.End,
				ResultPath:   path,
			}); err != nil {
				return err
			}
		}
		e.publish(Event{Type: EventHistoryFinished, RunID: runID, HistoryID: h.ID, Message: path})
	}
	e.logger.Info("batch finished", "executed", sum.Executed, "skipped", sum.Skipped)
	return nil
}

// finish records the terminal state of a run. Ledger errors are logged, not
// returned, so they never mask the outcome of the batch.
func (e *Engine) finish(ctx context.Context, runID string, sum Summary, runErr error) {
	status, msg := model.StatusCompleted, ""
	if runErr != nil {
		status, msg = model.StatusFailed, runErr.Error()
	}
	if e.store != nil {
		if err := e.store.FinishRun(context.WithoutCancel(ctx), runID, status, sum.Executed, sum.Skipped, msg); err != nil {
			e.logger.Error("failed to finish run", "run_id", runID, "error", err)
		}
	}
	e.publish(Event{Type: EventRunFinished, RunID: runID, Message: status})
}

func (e *Engine) publish(ev Event) {
	if e.broker != nil {
		e.broker.Publish(ev)
	}
}

// hasOutput reports whether dir exists and holds at least one entry.
func hasOutput(dir string) (bool, error) {
	f, err := os.Open(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "inspect output directory")
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	if len(names) > 0 {
		return true, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return false, errors.Wrap(err, "inspect output directory")
	}
	return false, nil
}
