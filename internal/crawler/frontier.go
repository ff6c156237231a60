package crawler

import (
	"context"
	"sync"
)

// Frontier is the breadth-first queue shared by crawl workers. Dequeue,
// visited marking, depth checks, and the page budget all happen under one
// lock, so concurrent workers never fetch a URL twice or overshoot maxPages.
//
// Every entry handed out by Next holds a budget reservation until Done is
// called for it. Workers wait while saved+reserved has reached maxPages and
// some reservation could still be released by a rejected page.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    []FrontierEntry
	known    map[string]struct{}
	visited  map[string]struct{}
	persist  func(key string) bool
	maxDepth int
	maxPages int

	inFlight int
	saved    int
	aborted  bool
}

// NewFrontier builds an empty frontier. persisted reports URLs already crawled
// by earlier runs; it may be nil.
func NewFrontier(maxDepth, maxPages int, persisted func(key string) bool) *Frontier {
	if persisted == nil {
		persisted = func(string) bool { return false }
	}
	f := &Frontier{
		known:    make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		persist:  persisted,
		maxDepth: maxDepth,
		maxPages: maxPages,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push enqueues entries that are within depth and not yet visited or queued.
// It returns how many were added.
func (f *Frontier) Push(entries ...FrontierEntry) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := f.pushLocked(entries)
	if added > 0 {
		f.cond.Broadcast()
	}
	return added
}

func (f *Frontier) pushLocked(entries []FrontierEntry) int {
	added := 0
	for _, e := range entries {
		if e.Depth > f.maxDepth || e.Key == "" {
			continue
		}
		if _, ok := f.known[e.Key]; ok {
			continue
		}
		if _, ok := f.visited[e.Key]; ok || f.persist(e.Key) {
			continue
		}
		f.known[e.Key] = struct{}{}
		f.queue = append(f.queue, e)
		added++
	}
	return added
}

// Next pops the next admissible entry, marking it visited and reserving a
// budget slot. It blocks while the queue is empty but other entries are in
// flight, and returns ok=false once the crawl is finished, the budget is
// spent, the frontier is aborted, or ctx is done.
func (f *Frontier) Next(ctx context.Context) (FrontierEntry, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.aborted || ctx.Err() != nil || f.saved >= f.maxPages {
			return FrontierEntry{}, false
		}
		if len(f.queue) == 0 {
			if f.inFlight == 0 {
				return FrontierEntry{}, false
			}
			f.cond.Wait()
			continue
		}
		if f.saved+f.inFlight >= f.maxPages {
			f.cond.Wait()
			continue
		}
		entry := f.queue[0]
		f.queue[0] = FrontierEntry{}
		f.queue = f.queue[1:]
		if _, ok := f.visited[entry.Key]; ok || f.persist(entry.Key) || entry.Depth > f.maxDepth {
			continue
		}
		f.visited[entry.Key] = struct{}{}
		f.inFlight++
		return entry, true
	}
}

// Done releases the reservation held by an entry returned from Next, records
// whether it produced a saved document, and enqueues its children.
func (f *Frontier) Done(saved bool, children []FrontierEntry) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if saved {
		f.saved++
	}
	added := 0
	if !f.aborted {
		added = f.pushLocked(children)
	}
	f.cond.Broadcast()
	return added
}

// Abort stops handing out entries; workers blocked in Next return.
func (f *Frontier) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Saved returns the number of documents saved in this run.
func (f *Frontier) Saved() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved
}

// BudgetReached reports whether the saved count has hit maxPages.
func (f *Frontier) BudgetReached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved >= f.maxPages
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}
