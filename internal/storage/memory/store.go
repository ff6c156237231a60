// Package memory stores documents in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/topical-search/internal/storage"
)

// Store keeps documents in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	docs map[int64]storage.Record
	seq  *storage.Sequence
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs: make(map[int64]storage.Record),
		seq:  storage.NewSequence(0),
	}
}

// Save assigns the next id and keeps the record.
func (s *Store) Save(ctx context.Context, url, text string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := s.seq.Next()
	rec, err := storage.NewRecord(id, url, text, time.Now())
	if err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}
	s.mu.Lock()
	s.docs[id] = rec
	s.mu.Unlock()
	return id, nil
}

// LoadAll returns a copy of every document ordered by id.
func (s *Store) LoadAll(context.Context) ([]storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Record, 0, len(s.docs))
	for _, rec := range s.docs {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b storage.Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// NextID returns the id the next Save will assign.
func (s *Store) NextID(context.Context) (int64, error) {
	return s.seq.Peek(), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
