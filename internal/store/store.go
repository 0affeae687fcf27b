package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate ledger statistics.
type RunStats struct {
	Runs                int            `json:"runs"`
	RunsByStatus        map[string]int `json:"runs_by_status"`
	Executions          int            `json:"executions"`
	ExecutionsByBackend map[string]int `json:"executions_by_backend"`
	AvgExecutionMS      float64        `json:"avg_execution_ms"`
}

// Store is the run ledger: one row per run, one row per executed history.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, id, status string, executed, skipped int, errMsg string) error
	RecordExecution(ctx context.Context, e *model.Execution) error
	ListExecutions(ctx context.Context, runID string) ([]*model.Execution, error)
	GetStats(ctx context.Context) (*RunStats, error)
	Close() error
}
