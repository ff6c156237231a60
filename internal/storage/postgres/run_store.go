package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pool
}

// NewRunStore shares the document store's pool and ensures crawl_runs exists.
func NewRunStore(ctx context.Context, docs *DocumentStore) (*RunStore, error) {
	if docs == nil || docs.pool == nil {
		return nil, fmt.Errorf("document store is required")
	}
	return NewRunStoreWithPool(ctx, docs.pool)
}

// NewRunStoreWithPool constructs a RunStore from an existing pool.
func NewRunStoreWithPool(ctx context.Context, p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	ddl := `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id TEXT PRIMARY KEY,
	force BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	queued_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_message TEXT,
	summary JSONB
)`
	if _, err := p.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create crawl_runs table: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run store.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	status := run.Status
	if status == "" {
		status = store.RunQueued
	}
	queuedAt := run.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now().UTC()
	}
	query := `INSERT INTO crawl_runs (id, force, status, queued_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Force, string(status), queuedAt); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// StartRun marks a run running.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := `
		UPDATE crawl_runs
		SET status = $1, started_at = COALESCE(started_at, $2)
		WHERE id = $3;
	`
	res, err := s.pool.Exec(ctx, query, string(store.RunRunning), startedAt, runID)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks a run finished with a status, counters, and optional error.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	summary crawler.Summary,
	errMsg *string,
) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, summary = $3, error_message = $4
		WHERE id = $5;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, string(status), summaryJSON, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, force, status, queued_at, started_at, finished_at, error_message, summary`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	query := `
		SELECT ` + runColumns + `
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY queued_at DESC, id
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run        store.Run
		status     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		errMsg     sql.NullString
		summary    []byte
	)
	if err := row.Scan(&run.ID, &run.Force, &status, &run.QueuedAt, &startedAt, &finishedAt, &errMsg, &summary); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	if startedAt.Valid {
		ts := startedAt.Time
		run.StartedAt = &ts
	}
	if finishedAt.Valid {
		ts := finishedAt.Time
		run.FinishedAt = &ts
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return store.Run{}, fmt.Errorf("decode run summary: %w", err)
		}
	}
	return run, nil
}
