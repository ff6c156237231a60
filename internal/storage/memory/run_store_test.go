package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	queued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := runs.CreateRun(ctx, store.Run{ID: "run-1", QueuedAt: queued}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := runs.CreateRun(ctx, store.Run{ID: "run-1"}); err == nil {
		t.Fatal("expected duplicate run error")
	}
	if err := runs.StartRun(ctx, "run-1", queued.Add(time.Second)); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	summary := crawler.Summary{RunID: "run-1", Saved: 3}
	if err := runs.CompleteRun(ctx, "run-1", queued.Add(time.Minute), store.RunSucceeded, summary, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	got, err := runs.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != store.RunSucceeded {
		t.Fatalf("expected succeeded status, got %s", got.Status)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatal("expected start and finish timestamps")
	}
	if got.Summary.Saved != 3 {
		t.Fatalf("expected summary to be stored, got %+v", got.Summary)
	}
}

func TestRunStoreMissingRun(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	if _, err := runs.GetRun(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := runs.StartRun(context.Background(), "nope", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunStoreListRunsNewestFirstWithFilter(t *testing.T) {
	t.Parallel()

	runs := NewRunStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := runs.CreateRun(ctx, store.Run{ID: id, QueuedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}
	if err := runs.CompleteRun(ctx, "b", base, store.RunFailed, crawler.Summary{}, nil); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	all, err := runs.ListRuns(ctx, nil, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != "c" || all[1].ID != "b" {
		t.Fatalf("unexpected page %+v", all)
	}

	failed := store.RunFailed
	filtered, err := runs.ListRuns(ctx, &failed, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns(failed) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "b" {
		t.Fatalf("unexpected filtered runs %+v", filtered)
	}

	empty, err := runs.ListRuns(ctx, nil, 10, 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %+v, %v", empty, err)
	}
}
