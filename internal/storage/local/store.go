// Package local implements a filesystem document store: one JSON record per
// document under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/storage"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the directory documents are written to.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes documents to the local filesystem.
type Store struct {
	baseDir string
	seq     *storage.Sequence
	logger  *zap.Logger
}

// New opens the store, creating BaseDir when needed, and resumes the id
// sequence from one past the highest document already on disk.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	next, err := scanNextID(cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("local document store opened", zap.String("dir", cfg.BaseDir), zap.Int64("next_id", next))
	return &Store{
		baseDir: cfg.BaseDir,
		seq:     storage.NewSequence(next),
		logger:  logger,
	}, nil
}

func scanNextID(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scan base directory: %w", err)
	}
	next := int64(0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := storage.ParseObjectName(e.Name()); ok && id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// Save assigns the next id and writes the record atomically.
func (s *Store) Save(ctx context.Context, url, text string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := s.seq.Next()
	rec, err := storage.NewRecord(id, url, text, time.Now())
	if err != nil {
		return 0, err
	}
	data, err := rec.Encode()
	if err != nil {
		return 0, err
	}
	path, err := s.objectPath(storage.ObjectName(id))
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(s.baseDir, path, data); err != nil {
		return 0, fmt.Errorf("write document %d: %w", id, err)
	}
	return id, nil
}

// objectPath joins name onto the base directory, refusing paths that escape it.
func (s *Store) objectPath(name string) (string, error) {
	fullPath := filepath.Join(s.baseDir, name)
	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".doc-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// LoadAll reads every document file. Unreadable or malformed files are
// skipped and reported in the joined error.
func (s *Store) LoadAll(ctx context.Context) ([]storage.Record, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var (
		records []storage.Record
		errs    []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if e.IsDir() {
			continue
		}
		id, ok := storage.ParseObjectName(e.Name())
		if !ok {
			continue
		}
		rec, err := s.readRecord(id, e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable document", zap.String("file", e.Name()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b storage.Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return records, errors.Join(errs...)
}

func (s *Store) readRecord(id int64, name string) (storage.Record, error) {
	path, err := s.objectPath(name)
	if err != nil {
		return storage.Record{}, err
	}
	// #nosec G304 -- path is confined to baseDir by objectPath.
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.Record{}, fmt.Errorf("read %s: %w", name, err)
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		return storage.Record{}, fmt.Errorf("decode %s: %w", name, err)
	}
	if rec.ID != id {
		return storage.Record{}, fmt.Errorf("decode %s: %w: id %d does not match file name", name, storage.ErrMalformedRecord, rec.ID)
	}
	return rec, nil
}

// NextID returns the id the next Save will assign.
func (s *Store) NextID(context.Context) (int64, error) {
	return s.seq.Peek(), nil
}

// Close is a no-op; every Save is already durable.
func (s *Store) Close() error {
	return nil
}
