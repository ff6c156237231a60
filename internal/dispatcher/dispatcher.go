// Package dispatcher manages worker fan-out over the crawl request queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/topical-search/internal/queue"
	"github.com/JakeFAU/topical-search/internal/worker"
)

// Dispatcher fans out queued crawl runs to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req queue.Request) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// TryEnqueue hands req to the queue without blocking.
func (d *Dispatcher) TryEnqueue(req queue.Request) error {
	if err := d.queue.TryEnqueue(req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Active lists the runs workers are executing right now.
func (d *Dispatcher) Active() []string {
	var ids []string
	for _, w := range d.workers {
		if id, ok := w.Current(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
