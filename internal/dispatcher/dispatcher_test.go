// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topical-search/internal/crawler"
	"github.com/JakeFAU/topical-search/internal/queue"
	"github.com/JakeFAU/topical-search/internal/storage/memory"
	"github.com/JakeFAU/topical-search/internal/store"
	"github.com/JakeFAU/topical-search/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	q := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(q, memory.NewRunStore(), nopRunner{}, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(q, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-q.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}
	if active := dispatch.Active(); len(active) != 0 {
		t.Fatalf("expected no active runs, got %v", active)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	q := &errorQueue{err: queue.ErrFull}
	dispatch := New(q, nil)

	err := dispatch.Enqueue(context.Background(), queue.Request{RunID: "run"})
	if err == nil || err.Error() != "queue enqueue: queue full" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := dispatch.TryEnqueue(queue.Request{RunID: "run"}); !errors.Is(err, queue.ErrFull) {
		t.Fatalf("expected ErrFull to survive wrapping, got %v", err)
	}
}

// TestDispatcherProcessesRun drives one request through a real worker.
func TestDispatcherProcessesRun(t *testing.T) {
	t.Parallel()

	q := &chanQueue{ch: make(chan queue.Request, 1)}
	runs := memory.NewRunStore()
	if err := runs.CreateRun(context.Background(), store.Run{ID: "run-1"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	w := worker.New(q, runs, nopRunner{}, nil, nil, worker.Config{}, zap.NewNop())
	dispatch := New(q, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatch.Run(ctx)

	if err := dispatch.TryEnqueue(queue.Request{RunID: "run-1"}); err != nil {
		t.Fatalf("TryEnqueue() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		run, err := runs.GetRun(context.Background(), "run-1")
		if err == nil && run.Status == store.RunSucceeded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach succeeded")
}

type nopRunner struct{}

func (nopRunner) RunCrawl(context.Context, queue.Request) (crawler.Summary, bool, error) {
	return crawler.Summary{}, false, nil
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, queue.Request) error { return nil }

func (q *blockingQueue) TryEnqueue(queue.Request) error { return nil }

func (q *blockingQueue) Dequeue(ctx context.Context) (queue.Request, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return queue.Request{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Close() {}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, queue.Request) error { return q.err }

func (q *errorQueue) TryEnqueue(queue.Request) error { return q.err }

func (q *errorQueue) Dequeue(context.Context) (queue.Request, error) {
	return queue.Request{}, nil
}

func (q *errorQueue) Close() {}

type chanQueue struct {
	ch chan queue.Request
}

func (q *chanQueue) Enqueue(ctx context.Context, req queue.Request) error {
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue) TryEnqueue(req queue.Request) error {
	select {
	case q.ch <- req:
		return nil
	default:
		return queue.ErrFull
	}
}

func (q *chanQueue) Dequeue(ctx context.Context) (queue.Request, error) {
	select {
	case req := <-q.ch:
		return req, nil
	case <-ctx.Done():
		return queue.Request{}, ctx.Err()
	}
}

func (q *chanQueue) Close() {}
