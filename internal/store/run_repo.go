package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/topical-search/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Crawl run statuses.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
	// RunSkipped marks a non-forced trigger that found an existing corpus.
	RunSkipped RunStatus = "skipped"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled, RunSkipped:
		return true
	default:
		return false
	}
}

// ParseRunStatus accepts the persisted names plus a few aliases.
func ParseRunStatus(input string) (RunStatus, error) {
	switch input {
	case "queued":
		return RunQueued, nil
	case "running":
		return RunRunning, nil
	case "succeeded", "success":
		return RunSucceeded, nil
	case "failed", "error", "failure":
		return RunFailed, nil
	case "canceled", "cancelled":
		return RunCanceled, nil
	case "skipped":
		return RunSkipped, nil
	default:
		return "", errors.New("invalid status")
	}
}

// Run models one crawl trigger.
type Run struct {
	// ID is the crawl run identifier shared with log lines and events.
	ID string
	// Force is true when the trigger ignored an existing corpus.
	Force bool
	// Status is queued/running/succeeded/failed/canceled/skipped.
	Status RunStatus
	// QueuedAt is when the trigger was accepted.
	QueuedAt time.Time
	// StartedAt is nil until the run begins crawling.
	StartedAt *time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// Summary holds the crawl counters once the run finishes.
	Summary crawler.Summary
}

// RunRepository persists crawl run history.
type RunRepository interface {
	// CreateRun stores a new run in queued status.
	CreateRun(ctx context.Context, run Run) error
	// StartRun marks the run running.
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	// CompleteRun records the terminal status, counters, and optional error.
	CompleteRun(
		ctx context.Context,
		runID string,
		finishedAt time.Time,
		status RunStatus,
		summary crawler.Summary,
		errMsg *string,
	) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
