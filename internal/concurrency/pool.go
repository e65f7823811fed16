// Package concurrency provides the bounded, cancellable task
// primitives the Workflow Orchestrator's parallel agent phase is built
// on: a fixed-width worker
// pool and a per-task timeout wrapper that turns a stall into a typed
// timeout error instead of leaking a goroutine.
package concurrency

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool runs tasks with bounded parallelism: at most Width tasks are
// in flight at any moment, regardless of how many are submitted.
type Pool struct {
	width int
}

// NewPool returns a Pool with the given width. A width ≤ 0 means
// unbounded (limited only by errgroup.Group's default behavior).
func NewPool(width int) *Pool {
	return &Pool{width: width}
}

// Run executes every task concurrently (bounded by the pool's width),
// waits for all of them to settle, and returns the first error
// encountered, if any. Callers that need every individual result
// (rather than fail-fast) should have each task record its own outcome
// into a per-index slot instead of relying on the returned error.
func (p *Pool) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if p.width > 0 {
		g.SetLimit(p.width)
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}

// RunSettled executes every task concurrently (bounded by the pool's
// width) and returns one error per task in task order, never
// short-circuiting on the first failure. This is what the parallel
// agent phase needs: a stall or error in one task must not affect the
// others' opportunity to complete (spec §4.2 step 5, §8 property 3).
func (p *Pool) RunSettled(ctx context.Context, tasks ...func(ctx context.Context) error) []error {
	results := make([]error, len(tasks))
	g, gctx := errgroup.WithContext(context.Background()) // independent contexts: one task's failure must not cancel siblings
	if p.width > 0 {
		g.SetLimit(p.width)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = runWithRecover(func() error { return task(gctx) })
			return nil
		})
	}
	_ = g.Wait()
	_ = ctx // ctx is honored per-task via WithTimeout by callers, not as a shared cancellation signal here
	return results
}

func runWithRecover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}
