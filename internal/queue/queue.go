// Package queue defines the hand-off between crawl triggers and the worker
// that executes crawl runs.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrFull is returned by TryEnqueue when no slot is free.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue closed")
)

// Request asks the worker to execute one crawl run.
type Request struct {
	RunID string
	Force bool
}

// Queue carries crawl requests to workers.
type Queue interface {
	// Enqueue blocks until the request is accepted or ctx ends.
	Enqueue(ctx context.Context, req Request) error
	// TryEnqueue accepts the request only if a slot is free right now.
	TryEnqueue(req Request) error
	// Dequeue blocks until a request is available, ctx ends, or the queue closes.
	Dequeue(ctx context.Context) (Request, error)
	Close()
}
