package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/dbcop/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestRun() *model.Run {
	return &model.Run{
		ID:        model.NewID(),
		Backend:   "memory",
		InputDir:  "/tmp/in",
		OutputDir: "/tmp/out",
		Status:    model.StatusRunning,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()

	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != r.ID {
		t.Errorf("ID = %q, want %q", got.ID, r.ID)
	}
	if got.Backend != r.Backend {
		t.Errorf("Backend = %q, want %q", got.Backend, r.Backend)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusRunning)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRun(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun error = %v, want ErrNotFound", err)
	}
}

func TestListRunsPaginationAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := makeTestRun()
		r.CreatedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun[%d]: %v", i, err)
		}
	}

	runs, total, err := s.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].CreatedAt.Before(runs[1].CreatedAt) {
		t.Errorf("runs not in DESC order: %v before %v", runs[0].CreatedAt, runs[1].CreatedAt)
	}

	runs, _, err = s.ListRuns(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListRuns page 3: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("len(runs) last page = %d, want 1", len(runs))
	}
}

func TestListRunsEmpty(t *testing.T) {
	s := newTestStore(t)

	runs, total, err := s.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 0 || runs != nil {
		t.Errorf("ListRuns = %v, %d; want nil, 0", runs, total)
	}
}

func TestFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.FinishRun(ctx, r.ID, model.StatusCompleted, 3, 2, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusCompleted)
	}
	if got.Executed != 3 || got.Skipped != 2 {
		t.Errorf("Executed, Skipped = %d, %d; want 3, 2", got.Executed, got.Skipped)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil, expected it to be set")
	}
}

func TestFinishRunInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.FinishRun(ctx, r.ID, model.StatusFailed, 0, 0, "boom"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	err := s.FinishRun(ctx, r.ID, model.StatusCompleted, 1, 0, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("FinishRun error = %v, want ErrInvalidTransition", err)
	}

	got, _ := s.GetRun(ctx, r.ID)
	if got.Status != model.StatusFailed || got.Error != "boom" {
		t.Errorf("run = %q/%q, want failed/boom", got.Status, got.Error)
	}
}

func TestFinishRunNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.FinishRun(context.Background(), "nonexistent", model.StatusCompleted, 0, 0, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun error = %v, want ErrNotFound", err)
	}
}

func TestRecordAndListExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := makeTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		e := &model.Execution{
			RunID:        r.ID,
			HistoryID:    i,
			Backend:      "memory",
			Sessions:     2,
			Transactions: 10,
			Events:       40,
			StartedAt:    start,
			FinishedAt:   start.Add(time.Duration(i) * time.Second),
			ResultPath:   "/tmp/out/hist-0000" + string(rune('0'+i)) + "/history.binpb",
		}
		if err := s.RecordExecution(ctx, e); err != nil {
			t.Fatalf("RecordExecution[%d]: %v", i, err)
		}
		if e.ID == 0 {
			t.Errorf("RecordExecution[%d] did not set ID", i)
		}
	}

	execs, err := s.ListExecutions(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 3 {
		t.Fatalf("len(execs) = %d, want 3", len(execs))
	}
	for i, e := range execs {
		if e.HistoryID != i+1 {
			t.Errorf("execs[%d].HistoryID = %d, want %d", i, e.HistoryID, i+1)
		}
	}

	other, err := s.ListExecutions(ctx, "other")
	if err != nil {
		t.Fatalf("ListExecutions other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("len(other) = %d, want 0", len(other))
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Runs != 1 || stats.RunsByStatus[model.StatusRunning] != 1 {
		t.Errorf("runs = %d %v, want 1 running", stats.Runs, stats.RunsByStatus)
	}
	if stats.Executions != 3 || stats.ExecutionsByBackend["memory"] != 3 {
		t.Errorf("executions = %d %v, want 3 on memory", stats.Executions, stats.ExecutionsByBackend)
	}
	if stats.AvgExecutionMS != 2000 {
		t.Errorf("AvgExecutionMS = %v, want 2000", stats.AvgExecutionMS)
	}
}

func TestGetStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Runs != 0 || stats.Executions != 0 || stats.AvgExecutionMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
}
