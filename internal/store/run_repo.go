package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the status column of the runs table.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Counts holds per-outcome lookup tallies.
type Counts struct {
	Found  int64 `json:"found"`
	Absent int64 `json:"absent"`
	Failed int64 `json:"failed"`
}

// IsZero reports whether no lookups are counted.
func (c Counts) IsZero() bool {
	return c.Found == 0 && c.Absent == 0 && c.Failed == 0
}

// Run models one row of the runs table. Total is the number of rows in the
// annotated table.
type Run struct {
	ID           uuid.UUID  `json:"run_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Total        int        `json:"total"`
	Counts       Counts     `json:"counts"`
	ErrorMessage *string    `json:"error,omitempty"`
}

// RunReader loads persisted runs.
type RunReader interface {
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	RunReader
	// UpsertRunStart inserts the run, or resets its status if it already exists.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error
	// AddRunCounts applies outcome deltas to the run.
	AddRunCounts(ctx context.Context, runID uuid.UUID, delta Counts, at time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
}
