// Package fanout executes a batch of independent work items under a fixed
// concurrency ceiling, collecting a per-item success or failure so one bad
// item never fails the batch. The pipeline reuses it for page fetching and
// for per-contact enrichment.
package fanout

import (
	"context"
	"fmt"
	"sync"
)

// Outcome is the result of one work item. Exactly one of Value and Err is
// meaningful; Index is the item's position in the input slice.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Execute runs fn over every item with at most limit invocations in flight at
// any instant and returns exactly len(items) outcomes, indexed by input
// position. Slots are acquired in input order on the calling goroutine, so
// whenever a slot frees the earliest pending item takes it; completion order
// is unconstrained. Once ctx is done no new item is dispatched and every
// undispatched item's outcome carries ctx.Err(); items already in flight run
// to completion with whatever ctx-awareness fn itself has. A panic inside fn
// is captured as that item's failure.
func Execute[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return out
	}
	if limit <= 0 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

dispatch:
	for i := range items {
		// Suspension point: observe cancellation before taking a slot.
		select {
		case <-ctx.Done():
			cancelRemaining(out, i, ctx.Err())
			break dispatch
		default:
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			cancelRemaining(out, i, ctx.Err())
			break dispatch
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					out[i] = Outcome[R]{Index: i, Err: fmt.Errorf("work item panicked: %v", r)}
				}
			}()
			v, err := fn(ctx, items[i])
			out[i] = Outcome[R]{Index: i, Value: v, Err: err}
		}(i)
	}

	wg.Wait()
	return out
}

func cancelRemaining[R any](out []Outcome[R], from int, err error) {
	for j := from; j < len(out); j++ {
		out[j] = Outcome[R]{Index: j, Err: err}
	}
}
