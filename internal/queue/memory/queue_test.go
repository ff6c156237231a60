package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/topical-search/internal/queue"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan queue.Request, 1)
	errCh := make(chan error, 1)

	go func() {
		req, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- req
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), queue.Request{RunID: "run-1", Force: true}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.RunID != "run-1" || !got.Force {
			t.Fatalf("expected run-1 forced, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return request")
	}
}

func TestQueueTryEnqueueFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.TryEnqueue(queue.Request{RunID: "first"}); err != nil {
		t.Fatalf("TryEnqueue() error = %v", err)
	}
	if err := q.TryEnqueue(queue.Request{RunID: "second"}); !errors.Is(err, queue.ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one waiting request, got %d", q.Len())
	}
	got, err := q.Dequeue(context.Background())
	if err != nil || got.RunID != "first" {
		t.Fatalf("Dequeue() = %+v, %v", got, err)
	}
	if err := q.TryEnqueue(queue.Request{RunID: "third"}); err != nil {
		t.Fatalf("slot should be free after dequeue: %v", err)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), queue.Request{RunID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, queue.Request{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.TryEnqueue(queue.Request{RunID: "late"}); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed from TryEnqueue, got %v", err)
	}
	if err := q.Enqueue(context.Background(), queue.Request{RunID: "late"}); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed from Enqueue, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
