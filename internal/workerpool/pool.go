// Package workerpool bounds the number of concurrent guest-module compiles
// (or other CPU-heavy background jobs) so a burst of cold-start requests
// cannot oversubscribe the host.
//
// Grounded on the warm-pool acquisition pattern in oriys-nova's
// internal/pool (bounded concurrent acquisition guarding a scarce
// resource), reimplemented here over golang.org/x/sync/semaphore since
// compiles have no warm/cold distinction to manage — just a concurrency
// ceiling.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent execution of submitted jobs to a fixed weight.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool that runs at most maxConcurrent jobs at a time.
func New(maxConcurrent int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Do runs fn once a slot is available, blocking until one frees up or ctx is
// canceled. The acquired slot is released before Do returns.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// TryDo attempts to run fn without blocking, returning ok=false if no slot
// is immediately available.
func (p *Pool) TryDo(fn func() error) (ok bool, err error) {
	if !p.sem.TryAcquire(1) {
		return false, nil
	}
	defer p.sem.Release(1)
	return true, fn()
}
