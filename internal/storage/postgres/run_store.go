package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/uniprot-annotator/internal/store"
)

const defaultRunsTable = "annotation_runs"

// RunStore implements store.RunRepository.
type RunStore struct {
	pool  dbPool
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStoreWithPool constructs a run store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool dbPool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newRunStore(pool, table)
}

func newRunStore(pool dbPool, table string) (*RunStore, error) {
	name, err := tableNameOr(table, defaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

// EnsureSchema creates the runs table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	total         INTEGER NOT NULL DEFAULT 0,
	found         BIGINT NOT NULL DEFAULT 0,
	absent        BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	last_update   TIMESTAMPTZ,
	error_message TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertRunStart inserts a run row or resets an existing one to running.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status, total)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status, total = EXCLUDED.total`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning), total); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// AddRunCounts adds outcome deltas to a run.
func (s *RunStore) AddRunCounts(ctx context.Context, runID uuid.UUID, delta store.Counts, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	query := fmt.Sprintf(`
UPDATE %s
SET found = found + $1, absent = absent + $2, failed = failed + $3, last_update = $4
WHERE run_id = $5`, s.table)
	tag, err := s.pool.Exec(ctx, query, delta.Found, delta.Absent, delta.Failed, at, runID)
	if err != nil {
		return fmt.Errorf("failed to add run counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add run counts %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3
WHERE run_id = $4`, s.table)
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
SELECT run_id, started_at, finished_at, status, total, found, absent, failed, error_message
FROM %s
WHERE run_id = $1`, s.table)
	var (
		run    store.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Total,
		&run.Counts.Found,
		&run.Counts.Absent,
		&run.Counts.Failed,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
