package crawl

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one domain crawl ready to run.
type Task func(ctx context.Context) (Stats, error)

// Result is the outcome of one task. A failed task carries its error here
// instead of propagating; siblings are unaffected.
type Result struct {
	Stats Stats
	Err   error
}

// ProgressFunc is invoked exactly once per task completion.
type ProgressFunc func(completed, total int)

// RunLimited executes tasks with at most limit in flight at any instant,
// admitting the next queued task as soon as a slot frees up. Results are
// index-aligned with tasks, never completion-ordered.
//
// Cancellation is cooperative and checked at admission boundaries only:
// once ctx is done no further task is admitted, but tasks already admitted
// run to completion on an uncancelable child context.
func RunLimited(ctx context.Context, tasks []Task, limit int, onProgress ProgressFunc) []Result {
	if limit <= 0 {
		limit = 1
	}
	results := make([]Result, len(tasks))

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	var progressMu sync.Mutex
	completed := 0
	reportProgress := func() {
		if onProgress == nil {
			return
		}
		progressMu.Lock()
		completed++
		done := completed
		progressMu.Unlock()
		onProgress(done, len(tasks))
	}

	// Admitted tasks must not be killed mid-request by the shutdown signal.
	taskCtx := context.WithoutCancel(ctx)

	for i, task := range tasks {
		i, task := i, task
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Err: fmt.Errorf("task not admitted: %w", err)}
			reportProgress()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer reportProgress()
			results[i] = runTask(taskCtx, task)
		}()
	}
	wg.Wait()
	return results
}

// runTask converts a panic into an error result so one misbehaving domain
// cannot abort its siblings.
func runTask(ctx context.Context, task Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	stats, err := task(ctx)
	return Result{Stats: stats, Err: err}
}
