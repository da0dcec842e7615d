package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Worker processes one item. index is the position of item in the input slice.
type Worker[T, R any] func(ctx context.Context, item T, index int) (R, error)

// Result is the outcome of a single worker invocation.
type Result[R any] struct {
	Value R
	Err   error
}

// OK reports whether the worker returned without error.
func (r Result[R]) OK() bool {
	return r.Err == nil
}

// ItemError ties a worker error to the index of the item that produced it.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// runnerCount returns how many runner loops to start for n items. Non-positive
// concurrency is treated as 1.
func runnerCount(n, concurrency int) int {
	if concurrency < 1 {
		concurrency = 1
	}
	return min(concurrency, n)
}

// Run applies w to every item with at most concurrency invocations running at
// once and returns one Result per item, in input order.
//
// Worker errors are recorded in the matching Result and do not stop the batch.
// If ctx is cancelled, items not yet claimed are not passed to w; their Result
// carries ctx.Err() instead.
func Run[T, R any](ctx context.Context, items []T, concurrency int, w Worker[T, R]) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for range runnerCount(len(items), concurrency) {
		wg.Go(func() {
			for {
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return
				}
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				v, err := w(ctx, items[i], i)
				results[i] = Result[R]{Value: v, Err: err}
			}
		})
	}
	wg.Wait()

	return results
}

// RunFailFast applies w to every item with at most concurrency invocations
// running at once and returns the values in input order.
//
// The first worker error cancels the context passed to the remaining workers,
// stops further items from being claimed and is returned as an *ItemError.
// RunFailFast does not return until all in-flight workers have returned.
func RunFailFast[T, R any](ctx context.Context, items []T, concurrency int, w Worker[T, R]) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for range runnerCount(len(items), concurrency) {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				v, err := w(gctx, items[i], i)
				if err != nil {
					return &ItemError{Index: i, Err: err}
				}
				results[i] = v
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Succeeded counts the results without an error.
func Succeeded[R any](results []Result[R]) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Errors joins the failed results into a single error, each wrapped in an
// *ItemError. It returns nil when every result succeeded.
func Errors[R any](results []Result[R]) error {
	var errs []error
	for i, r := range results {
		if r.Err != nil {
			errs = append(errs, &ItemError{Index: i, Err: r.Err})
		}
	}
	return errors.Join(errs...)
}
