// Package runner provides a concurrency-bounded fan-out executor. Every
// phase that processes a list of independent units (files, sheets, tables)
// funnels through Map so at most the configured number of items are in
// flight at once.
package runner

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when a run does not configure its own limit.
const DefaultConcurrency = 5

// Outcome is the per-item result of a fan-out. Exactly one of Value or Err
// is meaningful, discriminated by Err.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Map executes fn over every item with at most limit items in flight.
// The returned slice is index-aligned with items regardless of completion
// order, and one item's failure never aborts the others. A non-positive
// limit falls back to DefaultConcurrency. Dispatch stops early if ctx is
// cancelled; undispatched items receive the context error.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) (R, error)) []Outcome[R] {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	outcomes := make([]Outcome[R], len(items))

	g := &errgroup.Group{}
	g.SetLimit(limit)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				outcomes[j] = Outcome[R]{Index: j, Err: eris.Wrap(err, "runner: cancelled before dispatch")}
			}
			break
		}

		g.Go(func() error {
			val, err := run(ctx, item, fn)
			outcomes[i] = Outcome[R]{Index: i, Value: val, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

// run invokes fn with panic recovery so a panicking item degrades to a
// failed outcome instead of tearing down the whole phase.
func run[T, R any](ctx context.Context, item T, fn func(ctx context.Context, item T) (R, error)) (val R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("runner: task panic: %v", r))
		}
	}()
	return fn(ctx, item)
}
