// Package worker runs independent jobs with a shared concurrency limit.
// The extractor uses it for sibling subtrees, the batch command for targets.
package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool bounds how many jobs run at once. The goroutine calling Run counts
// as one worker and the pool lends out the other Workers-1, so a job may
// itself call Run on the same pool: nested calls share the limit and can
// never wait on each other for a free worker.
type Pool struct {
	workers int
	spare   *semaphore.Weighted
}

// NewPool creates a pool with the specified number of workers
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		spare:   semaphore.NewWeighted(int64(workers - 1)),
	}
}

// Workers returns the concurrency limit
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes jobs and returns their results in job order. A job starts on
// a spare worker when one is free and otherwise on the calling goroutine.
// Once ctx is done no further job is started; jobs that never started have
// no result. Jobs already running receive ctx and are expected to honour it.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	if len(jobs) == 0 {
		return nil
	}

	results := make([]Result, len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		if p.spare.TryAcquire(1) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer p.spare.Release(1)
				results[i] = job.Execute(ctx)
			}()
			continue
		}
		results[i] = job.Execute(ctx)
	}
	wg.Wait()

	done := results[:0]
	for _, r := range results {
		if r != nil {
			done = append(done, r)
		}
	}
	return done
}

// Run executes jobs on a fresh pool of the given size
func Run(ctx context.Context, workers int, jobs []Job) []Result {
	return NewPool(workers).Run(ctx, jobs)
}
