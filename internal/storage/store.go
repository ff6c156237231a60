// Package storage defines the document store contract shared by the local,
// memory, SQLite, Postgres, and GCS backends, plus the record encoding they
// persist.
package storage

import (
	"context"
	"sync/atomic"
)

// Store persists accepted documents. Save assigns the next identifier and is
// safe for concurrent use; identifiers are never reused, even when a write
// fails after assignment.
type Store interface {
	// Save persists (url, text) and returns the assigned document id.
	Save(ctx context.Context, url, text string) (int64, error)
	// LoadAll returns every readable document ordered by id. Unreadable
	// records are skipped and reported through the joined error, so callers
	// may use the partial result.
	LoadAll(ctx context.Context) ([]Record, error)
	// NextID returns the identifier the next Save will assign.
	NextID(ctx context.Context) (int64, error)
	Close() error
}

// Sequence hands out monotonically increasing document identifiers.
type Sequence struct {
	next atomic.Int64
}

// NewSequence starts a sequence at start.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

// Next reserves and returns the next identifier.
func (s *Sequence) Next() int64 {
	return s.next.Add(1) - 1
}

// Peek returns the identifier Next would return without reserving it.
func (s *Sequence) Peek() int64 {
	return s.next.Load()
}
