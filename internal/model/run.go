package model

import "time"

// Run status constants.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions maps each run status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Run is one batch execution of a history directory against a backend.
type Run struct {
	ID         string     `json:"id"`
	Backend    string     `json:"backend"`
	InputDir   string     `json:"input_dir"`
	OutputDir  string     `json:"output_dir"`
	Status     string     `json:"status"`
	Executed   int        `json:"executed"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Execution records one history executed during a run.
type Execution struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	HistoryID    int       `json:"history_id"`
	Backend      string    `json:"backend"`
	Sessions     int       `json:"sessions"`
	Transactions int       `json:"transactions"`
	Events       int       `json:"events"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ResultPath   string    `json:"result_path"`
}
