// Package stores persists lifecycle run history. The engine records each
// run through a narrow recorder seam; the CLI reads history back for the
// operator.
package stores

import (
	"context"
	"time"
)

// RunStatus is the terminal status of a lifecycle run.
type RunStatus string

const (
	// RunStatusSucceeded means every task completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed means a fatal task error halted the run.
	RunStatusFailed RunStatus = "failed"
)

// Run is one persisted lifecycle run.
type Run struct {
	ID          string
	Module      string
	Action      string
	Status      RunStatus
	Error       *string
	Changed     bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// TaskRecord is one persisted task outcome within a run.
type TaskRecord struct {
	RunID    string
	Position int
	Label    string
	Op       string
	Changed  bool
	Message  string
	Error    *string
}

// Store persists and queries run history.
type Store interface {
	// CreateRun persists a run and its task records atomically.
	CreateRun(ctx context.Context, run *Run, tasks []TaskRecord) error

	// GetRun returns one run with its task records.
	GetRun(ctx context.Context, id string) (*Run, []TaskRecord, error)

	// ListRuns returns recent runs, newest first. An empty module matches
	// all modules.
	ListRuns(ctx context.Context, module string, limit int) ([]*Run, error)

	// Close releases the underlying database.
	Close() error
}
