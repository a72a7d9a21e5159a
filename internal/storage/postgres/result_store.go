// Package postgres records lookup outcomes in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

const defaultTable = "annotations"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for lookup rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of *pgxpool.Pool the stores use.
type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ResultStore implements annotation.ResultStore.
type ResultStore struct {
	pool  dbPool
	table string
}

// NewResultStore connects to Postgres using cfg.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool dbPool, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool, table: name}, nil
}

// RunStore returns a run ledger sharing this store's pool. Closing the
// ResultStore closes it too.
func (s *ResultStore) RunStore(table string) (*RunStore, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("result store is not configured")
	}
	return newRunStore(s.pool, table)
}

func tableName(table string) (string, error) {
	return tableNameOr(table, defaultTable)
}

func tableNameOr(table, fallback string) (string, error) {
	if table == "" {
		return fallback, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the lookup table when it does not exist.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       UUID,
	identifier   TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	annotation   TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	blob_uri     TEXT NOT NULL DEFAULT '',
	fetched_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordLookup inserts one lookup row. Ad hoc lookups carry no run ID and are
// stored with a NULL run_id.
func (s *ResultStore) RecordLookup(ctx context.Context, record annotation.LookupRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if record.Identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	identifier,
	status,
	reason,
	annotation,
	url,
	content_hash,
	blob_uri,
	fetched_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	var runID any
	if record.RunID != "" {
		runID = record.RunID
	}
	args := []any{
		runID,
		record.Identifier,
		string(record.Status),
		record.Reason,
		record.Annotation,
		record.URL,
		record.ContentHash,
		record.BlobURI,
		record.FetchedAt,
		record.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lookup: %w", err)
	}
	return nil
}
