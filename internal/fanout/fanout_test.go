package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteReturnsOneOutcomePerItem(t *testing.T) {
	t.Parallel()
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	failing := errors.New("item refused")
	out := Execute(context.Background(), items, 4, func(_ context.Context, n int) (string, error) {
		if n%3 == 0 {
			return "", failing
		}
		return fmt.Sprintf("ok-%d", n), nil
	})

	if len(out) != len(items) {
		t.Fatalf("got %d outcomes for %d items", len(out), len(items))
	}
	for i, o := range out {
		if o.Index != i {
			t.Fatalf("outcome %d carries index %d", i, o.Index)
		}
		if i%3 == 0 {
			if !errors.Is(o.Err, failing) {
				t.Fatalf("item %d expected failure, got value %q err %v", i, o.Value, o.Err)
			}
		} else if o.Err != nil || o.Value != fmt.Sprintf("ok-%d", i) {
			t.Fatalf("item %d expected success, got value %q err %v", i, o.Value, o.Err)
		}
	}
}

func TestCeilingIsNeverExceeded(t *testing.T) {
	t.Parallel()
	const limit = 3
	const n = 24

	var inFlight, highWater int64
	items := make([]int, n)
	out := Execute(context.Background(), items, limit, func(_ context.Context, _ int) (struct{}, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&highWater)
			if cur <= prev || atomic.CompareAndSwapInt64(&highWater, prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	})

	if len(out) != n {
		t.Fatalf("got %d outcomes", len(out))
	}
	if hw := atomic.LoadInt64(&highWater); hw > limit {
		t.Fatalf("observed %d concurrent executions, ceiling is %d", hw, limit)
	}
	if hw := atomic.LoadInt64(&highWater); hw == 0 {
		t.Fatalf("work never ran")
	}
}

func TestDispatchFollowsInputOrder(t *testing.T) {
	t.Parallel()
	items := []int{0, 1, 2, 3, 4, 5, 6, 7}

	var mu sync.Mutex
	var started []int
	Execute(context.Background(), items, 1, func(_ context.Context, n int) (struct{}, error) {
		mu.Lock()
		started = append(started, n)
		mu.Unlock()
		return struct{}{}, nil
	})

	// With a single slot, dispatch order is fully observable.
	if len(started) != len(items) {
		t.Fatalf("started %d of %d items", len(started), len(items))
	}
	for i, n := range started {
		if n != i {
			t.Fatalf("item %d started at position %d; fairness broken: %v", n, i, started)
		}
	}
}

func TestCancelledContextSkipsAllWork(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	out := Execute(ctx, []int{1, 2, 3}, 2, func(_ context.Context, _ int) (struct{}, error) {
		atomic.AddInt64(&calls, 1)
		return struct{}{}, nil
	})

	if atomic.LoadInt64(&calls) != 0 {
		t.Fatalf("work dispatched after cancellation")
	}
	for i, o := range out {
		if !errors.Is(o.Err, context.Canceled) {
			t.Fatalf("item %d expected context.Canceled, got %v", i, o.Err)
		}
	}
}

func TestCancellationStopsNewDispatch(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int64
	out := Execute(ctx, []int{0, 1, 2, 3, 4}, 1, func(_ context.Context, n int) (int, error) {
		atomic.AddInt64(&calls, 1)
		if n == 0 {
			cancel()
		}
		return n, nil
	})

	// Item 0 runs and triggers the cancel; at most one more item can slip in
	// before the dispatch loop observes it.
	if c := atomic.LoadInt64(&calls); c > 2 {
		t.Fatalf("%d items dispatched after cancellation", c)
	}
	if out[0].Err != nil || out[0].Value != 0 {
		t.Fatalf("item 0 should have completed: %+v", out[0])
	}
	var cancelled int
	for _, o := range out {
		if errors.Is(o.Err, context.Canceled) {
			cancelled++
		}
	}
	if cancelled < 3 {
		t.Fatalf("expected at least 3 cancelled outcomes, got %d (%+v)", cancelled, out)
	}
}

func TestPanicIsCapturedAsItemFailure(t *testing.T) {
	t.Parallel()
	out := Execute(context.Background(), []int{0, 1, 2}, 2, func(_ context.Context, n int) (int, error) {
		if n == 1 {
			panic("boom")
		}
		return n * 10, nil
	})

	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("healthy items failed: %+v", out)
	}
	if out[1].Err == nil {
		t.Fatalf("panicking item reported success")
	}
	if out[0].Value != 0 || out[2].Value != 20 {
		t.Fatalf("values corrupted: %+v", out)
	}
}

func TestZeroAndNegativeLimitNormalized(t *testing.T) {
	t.Parallel()
	out := Execute(context.Background(), []int{1, 2}, 0, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if len(out) != 2 || out[0].Err != nil || out[1].Err != nil {
		t.Fatalf("zero limit should still run items: %+v", out)
	}
}
