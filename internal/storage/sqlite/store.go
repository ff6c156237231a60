// Package sqlite provides a SQLite-backed document store using the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/topical-search/internal/storage"
)

// Config locates the database file.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Store persists documents in a single SQLite table.
type Store struct {
	db     *sql.DB
	seq    *storage.Sequence
	logger *zap.Logger
}

// Open opens or creates the database at cfg.Path and resumes the id sequence.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage.sqlite.path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY,
		url TEXT NOT NULL,
		body TEXT NOT NULL,
		saved_at DATETIME NOT NULL
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var next int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id) + 1, 0) FROM documents").Scan(&next); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read next document id: %w", err)
	}
	logger.Debug("sqlite document store opened", zap.String("path", cfg.Path), zap.Int64("next_id", next))
	return &Store{db: db, seq: storage.NewSequence(next), logger: logger}, nil
}

// Save inserts the document under the next id.
func (s *Store) Save(ctx context.Context, url, text string) (int64, error) {
	id := s.seq.Next()
	rec, err := storage.NewRecord(id, url, text, time.Now())
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (id, url, body, saved_at) VALUES (?, ?, ?, ?)",
		rec.ID, rec.URL, rec.Text, rec.SavedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert document %d: %w", id, err)
	}
	return id, nil
}

// LoadAll reads every row ordered by id; rows that fail validation are
// skipped and reported in the joined error.
func (s *Store) LoadAll(ctx context.Context) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, url, body, saved_at FROM documents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		records []storage.Record
		errs    []error
	)
	for rows.Next() {
		var (
			id      int64
			url     sql.NullString
			text    sql.NullString
			savedAt string
		)
		if err := rows.Scan(&id, &url, &text, &savedAt); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", storage.ErrMalformedRecord, err))
			continue
		}
		if !text.Valid {
			errs = append(errs, fmt.Errorf("%w: document %d missing text", storage.ErrMalformedRecord, id))
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, savedAt)
		rec, err := storage.NewRecord(id, url.String, text.String, ts)
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
func (s *Store) NextID(context.Context) (int64, error) {
	return s.seq.Peek(), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
