package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/store"
)

// RunStore provides an in-memory crawl run history for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.Run)}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = store.RunQueued
	}
	if run.QueuedAt.IsZero() {
		run.QueuedAt = time.Now().UTC()
	}
	s.runs[run.ID] = run
	return nil
}

// StartRun marks the run running.
func (s *RunStore) StartRun(_ context.Context, runID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = store.RunRunning
	if run.StartedAt == nil {
		run.StartedAt = pointerTime(startedAt)
	}
	s.runs[runID] = run
	return nil
}

// CompleteRun records the terminal status and counters.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID string,
	finishedAt time.Time,
	status store.RunStatus,
	summary crawler.Summary,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.Summary = summary
	run.ErrorMessage = errMsg
	if status.Terminal() {
		run.FinishedAt = pointerTime(finishedAt)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b store.Run) int {
		if c := b.QueuedAt.Compare(a.QueuedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}
