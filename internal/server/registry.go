package server

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
)

// jobEntry tracks one job started by this process.
type jobEntry struct {
	runner *dispatch.Runner
	cancel context.CancelFunc
	done   chan struct{}

	// result and finishedAt are written once before done is closed.
	result     dispatch.Result
	finishedAt time.Time
}

func newJobEntry(runner *dispatch.Runner, cancel context.CancelFunc) *jobEntry {
	return &jobEntry{
		runner: runner,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// finished reports whether the run has returned.
func (e *jobEntry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *jobEntry) complete(result dispatch.Result) {
	e.result = result
	e.finishedAt = time.Now()
	close(e.done)
}

// registry holds live and recently finished jobs.
type registry struct {
	mu        sync.RWMutex
	jobs      map[string]*jobEntry
	retention time.Duration
}

func newRegistry(retention time.Duration) *registry {
	return &registry{
		jobs:      make(map[string]*jobEntry),
		retention: retention,
	}
}

func (r *registry) add(id string, entry *jobEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	r.jobs[id] = entry
}

func (r *registry) get(id string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.jobs[id]
	return entry, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// running returns the number of jobs that have not finished.
func (r *registry) running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.jobs {
		if !entry.finished() {
			n++
		}
	}
	return n
}

// cancelAll requests cancellation of every unfinished job.
func (r *registry) cancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.jobs {
		if !entry.finished() {
			entry.cancel()
		}
	}
}

// pruneLocked drops finished entries older than the retention window.
func (r *registry) pruneLocked(now time.Time) {
	for id, entry := range r.jobs {
		if entry.finished() && now.Sub(entry.finishedAt) > r.retention {
			delete(r.jobs, id)
		}
	}
}
