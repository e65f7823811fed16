package concurrency

import (
	"context"
	"time"

	"github.com/josedab/prflow/internal/errs"
)

// RunWithTimeout runs fn under a context bounded by timeout. If fn
// does not return before the deadline (or the parent context is
// cancelled first), a typed *errs.Error with Kind=Timeout is returned
// instead of fn's result — this is the per-agent timeout spec §4.2
// step 5 and §5 require around every agent invocation.
func RunWithTimeout(ctx context.Context, timeout time.Duration, label string, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- runWithRecover(func() error { return fn(cctx) })
	}()

	select {
	case err := <-resultCh:
		return err
	case <-cctx.Done():
		return errs.Timeout(label + " exceeded its deadline").WithDetail(timeout.String())
	}
}
