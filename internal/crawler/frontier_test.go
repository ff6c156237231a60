package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key string, depth int) FrontierEntry {
	return FrontierEntry{URL: key, Key: key, Depth: depth}
}

func TestFrontierPushDeduplicatesAndBoundsDepth(t *testing.T) {
	t.Parallel()

	persisted := map[string]bool{"old": true}
	f := NewFrontier(1, 10, func(key string) bool { return persisted[key] })

	added := f.Push(entry("seed", 0), entry("seed", 0), entry("deep", 2), entry("old", 1), entry("", 1))
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, f.Len())
}

func TestFrontierNextIsFIFOAndTerminates(t *testing.T) {
	t.Parallel()

	f := NewFrontier(2, 10, nil)
	f.Push(entry("seed", 0))

	ctx := context.Background()
	got, ok := f.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "seed", got.Key)

	f.Done(true, []FrontierEntry{entry("a", 1), entry("b", 1), entry("seed", 1)})

	first, ok := f.Next(ctx)
	require.True(t, ok)
	second, ok := f.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, []string{first.Key, second.Key})

	f.Done(false, nil)
	f.Done(false, nil)

	_, ok = f.Next(ctx)
	assert.False(t, ok, "empty queue with nothing in flight ends the crawl")
	assert.Equal(t, 1, f.Saved())
}

func TestFrontierWaitsForInFlightChildren(t *testing.T) {
	t.Parallel()

	f := NewFrontier(2, 10, nil)
	f.Push(entry("seed", 0))
	_, ok := f.Next(context.Background())
	require.True(t, ok)

	got := make(chan FrontierEntry, 1)
	go func() {
		e, ok := f.Next(context.Background())
		if ok {
			got <- e
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("Next should block while the queue is empty and work is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	f.Done(false, []FrontierEntry{entry("child", 1)})
	select {
	case e := <-got:
		assert.Equal(t, "child", e.Key)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Done")
	}
}

func TestFrontierBudgetReservations(t *testing.T) {
	t.Parallel()

	f := NewFrontier(1, 2, nil)
	f.Push(entry("a", 0), entry("b", 0), entry("c", 0))
	ctx := context.Background()

	_, ok := f.Next(ctx)
	require.True(t, ok)
	_, ok = f.Next(ctx)
	require.True(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, ok = f.Next(waitCtx)
	assert.False(t, ok, "budget is fully reserved by in-flight entries")

	f.Done(false, nil)
	third, ok := f.Next(ctx)
	require.True(t, ok, "a rejected page releases its reservation")
	assert.Equal(t, "c", third.Key)

	f.Done(true, nil)
	f.Done(true, nil)
	assert.True(t, f.BudgetReached())
	_, ok = f.Next(ctx)
	assert.False(t, ok)
}

func TestFrontierAbortAndCancel(t *testing.T) {
	t.Parallel()

	f := NewFrontier(1, 10, nil)
	f.Push(entry("a", 0))
	f.Abort()
	_, ok := f.Next(context.Background())
	assert.False(t, ok)

	g := NewFrontier(1, 10, nil)
	g.Push(entry("a", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok = g.Next(ctx)
	assert.False(t, ok)
}
