package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    backend     TEXT NOT NULL,
    input_dir   TEXT NOT NULL,
    output_dir  TEXT NOT NULL,
    status      TEXT NOT NULL,
    executed    INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id        TEXT NOT NULL REFERENCES runs(id),
    history_id    INTEGER NOT NULL,
    backend       TEXT NOT NULL,
    sessions      INTEGER NOT NULL,
    transactions  INTEGER NOT NULL,
    events        INTEGER NOT NULL,
    started_at    DATETIME NOT NULL,
    finished_at   DATETIME NOT NULL,
    result_path   TEXT NOT NULL
)`

const createExecutionsIndex = `CREATE INDEX IF NOT EXISTS executions_run_id ON executions(run_id)`

const runColumns = `id, backend, input_dir, output_dir, status, executed, skipped, error, created_at, finished_at`

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createRunsTable,
		createExecutionsTable,
		createExecutionsIndex,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "migrate: %s", stmt)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Backend, r.InputDir, r.OutputDir, r.Status, r.Executed, r.Skipped,
		r.Error, r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	r := &model.Run{}
	err := row.Scan(&r.ID, &r.Backend, &r.InputDir, &r.OutputDir, &r.Status,
		&r.Executed, &r.Skipped, &r.Error, &r.CreatedAt, &r.FinishedAt)
	return r, err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get run")
	}
	return r, nil
}

// ListRuns returns a page of runs ordered by created_at DESC, along with the
// total number of runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, errors.Wrap(err, "begin read tx")
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count runs")
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "iterate runs")
	}
	return runs, total, nil
}

// FinishRun moves a run to a terminal status and records its counters. The
// transition is validated against the current status inside one transaction.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status string, executed, skipped int, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "get run status")
	}
	if !model.ValidTransition(current, status) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, executed = ?, skipped = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, executed, skipped, errMsg, time.Now().UTC(), id,
	); err != nil {
		return errors.Wrap(err, "update run")
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// RecordExecution appends an executed history to its run and sets e.ID.
func (s *SQLiteStore) RecordExecution(ctx context.Context, e *model.Execution) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			run_id, history_id, backend, sessions, transactions, events,
			started_at, finished_at, result_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.HistoryID, e.Backend, e.Sessions, e.Transactions, e.Events,
		e.StartedAt, e.FinishedAt, e.ResultPath,
	)
	if err != nil {
		return errors.Wrap(err, "insert execution")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "execution id")
	}
	e.ID = id
	return nil
}

// ListExecutions returns the executions of a run in insertion order.
func (s *SQLiteStore) ListExecutions(ctx context.Context, runID string) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, history_id, backend, sessions, transactions, events,
			started_at, finished_at, result_path
		FROM executions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "list executions")
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		e := &model.Execution{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.HistoryID, &e.Backend, &e.Sessions,
			&e.Transactions, &e.Events, &e.StartedAt, &e.FinishedAt, &e.ResultPath); err != nil {
			return nil, errors.Wrap(err, "scan execution")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate executions")
	}
	return out, nil
}

// GetStats returns aggregate ledger statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		RunsByStatus:        make(map[string]int),
		ExecutionsByBackend: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, errors.Wrap(err, "count runs by status")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan status count")
		}
		stats.RunsByStatus[status] = n
		stats.Runs += n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT backend, COUNT(*) FROM executions GROUP BY backend")
	if err != nil {
		return nil, errors.Wrap(err, "count executions by backend")
	}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan backend count")
		}
		stats.ExecutionsByBackend[name] = n
		stats.Executions += n
	}
	rows.Close()

	// Durations are averaged in Go; SQLite stores the timestamps as text.
	rows, err = s.db.QueryContext(ctx, "SELECT started_at, finished_at FROM executions")
	if err != nil {
		return nil, errors.Wrap(err, "execution durations")
	}
	defer rows.Close()
	var total time.Duration
	var n int
	for rows.Next() {
		var start, end time.Time
		if err := rows.Scan(&start, &end); err != nil {
			return nil, errors.Wrap(err, "scan durations")
		}
		total += end.Sub(start)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate durations")
	}
	if n > 0 {
		stats.AvgExecutionMS = float64(total.Milliseconds()) / float64(n)
	}
	return stats, nil
}
