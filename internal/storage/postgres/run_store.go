// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/issue-harvester/internal/store"
)

// DefaultTable is the run history table name.
const DefaultTable = "harvest_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStoreConfig controls the Postgres connection pool used for run history.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on top of a pgx pool.
type RunStore struct {
	pool  querier
	raw   *pgxpool.Pool
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
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
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, raw: pool, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool querier, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run history table when it does not exist yet.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id        uuid        NOT NULL,
			project       text        NOT NULL,
			started_at    timestamptz NOT NULL,
			finished_at   timestamptz,
			status        text        NOT NULL,
			start_offset  integer     NOT NULL DEFAULT 0,
			end_offset    integer     NOT NULL DEFAULT 0,
			written       integer     NOT NULL DEFAULT 0,
			skipped       integer     NOT NULL DEFAULT 0,
			error_message text,
			PRIMARY KEY (run_id, project)
		);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartProjectRun inserts the running row for (runID, project).
func (s *RunStore) StartProjectRun(
	ctx context.Context,
	runID uuid.UUID,
	project string,
	startedAt time.Time,
	startOffset int,
) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, project, started_at, status, start_offset, end_offset)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (run_id, project) DO UPDATE
		SET started_at = EXCLUDED.started_at,
			status = EXCLUDED.status,
			start_offset = EXCLUDED.start_offset,
			end_offset = EXCLUDED.end_offset,
			finished_at = NULL,
			error_message = NULL;`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, project, startedAt.UTC(), store.RunRunning, startOffset); err != nil {
		return fmt.Errorf("start project run: %w", err)
	}
	return nil
}

// RecordPages adds deltas to the written/skipped counters and stores the newest offset.
func (s *RunStore) RecordPages(
	ctx context.Context,
	runID uuid.UUID,
	project string,
	endOffset, deltaWritten, deltaSkipped int,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET end_offset = GREATEST(end_offset, $1),
			written = written + $2,
			skipped = skipped + $3
		WHERE run_id = $4 AND project = $5;`, s.table)
	tag, err := s.pool.Exec(ctx, query, endOffset, deltaWritten, deltaSkipped, runID, project)
	if err != nil {
		return fmt.Errorf("record pages: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record pages for %s/%s: %w", runID, project, store.ErrNotFound)
	}
	return nil
}

// FinishProjectRun marks the row finished.
func (s *RunStore) FinishProjectRun(
	ctx context.Context,
	runID uuid.UUID,
	project string,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4 AND project = $5;`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt.UTC(), status, errMsg, runID, project)
	if err != nil {
		return fmt.Errorf("finish project run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish project run %s/%s: %w", runID, project, store.ErrNotFound)
	}
	return nil
}

// GetProjectRun loads a single row by its key.
func (s *RunStore) GetProjectRun(ctx context.Context, runID uuid.UUID, project string) (store.ProjectRun, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE run_id = $1 AND project = $2;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID, project))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ProjectRun{}, store.ErrNotFound
		}
		return store.ProjectRun{}, fmt.Errorf("get project run: %w", err)
	}
	return run, nil
}

// ListProjectRuns returns the newest rows first, optionally filtered by project.
func (s *RunStore) ListProjectRuns(
	ctx context.Context,
	project *string,
	limit,
	offset int,
) ([]store.ProjectRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE ($1::text IS NULL OR project = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, runColumns, s.table)
	rows, err := s.pool.Query(ctx, query, project, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list project runs: %w", err)
	}
	defer rows.Close()

	var runs []store.ProjectRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project runs: %w", err)
	}
	return runs, nil
}

const runColumns = `run_id, project, started_at, finished_at, status,
			start_offset, end_offset, written, skipped, error_message`

func scanRun(row pgx.Row) (store.ProjectRun, error) {
	var run store.ProjectRun
	err := row.Scan(
		&run.RunID,
		&run.Project,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.StartOffset,
		&run.EndOffset,
		&run.Written,
		&run.Skipped,
		&run.ErrorMessage,
	)
	return run, err
}
