// Package postgres provides a Postgres-backed document store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "documents"

// Config controls the Postgres connection pool used for document rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DocumentStore writes documents into a Postgres table.
type DocumentStore struct {
	pool   pool
	table  string
	seq    *storage.Sequence
	logger *zap.Logger
}

// New connects to Postgres, ensures the documents table exists, and resumes
// the id sequence from the highest stored id.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(ctx, p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(ctx context.Context, p pool, table string, logger *zap.Logger) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &DocumentStore{pool: p, table: table, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var next int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(id) + 1, 0) FROM %s`, table)
	if err := p.QueryRow(ctx, query).Scan(&next); err != nil {
		return nil, fmt.Errorf("read next document id: %w", err)
	}
	s.seq = storage.NewSequence(next)
	return s, nil
}

func (s *DocumentStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	url TEXT NOT NULL,
	body TEXT NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Save inserts a document row under the next id.
func (s *DocumentStore) Save(ctx context.Context, url, text string) (int64, error) {
	id := s.seq.Next()
	rec, err := storage.NewRecord(id, url, text, time.Now())
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, url, body, saved_at) VALUES ($1, $2, $3, $4)`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.URL, rec.Text, rec.SavedAt); err != nil {
		return 0, fmt.Errorf("insert document %d: %w", id, err)
	}
	return id, nil
}

// LoadAll reads every row ordered by id. Rows that fail to scan or validate
// are skipped and reported in the joined error.
func (s *DocumentStore) LoadAll(ctx context.Context) ([]storage.Record, error) {
	query := fmt.Sprintf(`SELECT id, url, body, saved_at FROM %s ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var (
		records []storage.Record
		errs    []error
	)
	for rows.Next() {
		var (
			id      int64
			url     string
			text    string
			savedAt time.Time
		)
		if err := rows.Scan(&id, &url, &text, &savedAt); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", storage.ErrMalformedRecord, err))
			continue
		}
		rec, err := storage.NewRecord(id, url, text, savedAt)
		if err != nil {
			s.logger.Warn("skipping malformed document row", zap.Int64("doc_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		errs = append(errs, fmt.Errorf("iterate documents: %w", err))
	}
	return records, errors.Join(errs...)
}

// NextID returns the id the next Save will assign.
func (s *DocumentStore) NextID(context.Context) (int64, error) {
	return s.seq.Peek(), nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
