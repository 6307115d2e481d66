// Package sched runs independent tasks with bounded concurrency while
// emitting their results strictly in submission order, and layers batch
// coordination with a consecutive-failure circuit breaker on top.
package sched

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Task produces the value for one slot. Tasks must honor ctx cancellation.
type Task[T any] func(ctx context.Context) (T, error)

// OrderedResult is one settled slot. Index is the submission index.
// Admitted reports whether the task actually started; a slot never admitted
// before cancellation settles with Admitted false and the context error.
type OrderedResult[T any] struct {
	Index    int
	Value    T
	Err      error
	Duration time.Duration
	Admitted bool
}

// Options tune an ordered run.
type Options[T any] struct {
	// Concurrency bounds how many tasks run at once. Values below one are
	// treated as one.
	Concurrency int
	// YieldEvery inserts a Yield call after every N ordered emissions; zero
	// disables yielding.
	YieldEvery int
	// Yield defaults to runtime.Gosched.
	Yield func()
	// OnResult is invoked for every slot, strictly in index order,
	// from the coordinating goroutine.
	OnResult func(OrderedResult[T])
	Logger   *zap.Logger
}

type settled[T any] struct {
	index    int
	value    T
	err      error
	duration time.Duration
	admitted bool
}

// RunOrdered executes tasks with at most opts.Concurrency in flight.
// Admission follows index order, results are emitted through OnResult in
// index order regardless of completion order, and the call returns only
// after the final slot has been emitted. On cancellation, running tasks are
// allowed to settle and every slot never admitted settles immediately with
// ctx.Err(); the context error is returned alongside the (fully settled)
// results.
func RunOrdered[T any](ctx context.Context, tasks []Task[T], opts Options[T]) ([]OrderedResult[T], error) {
	n := len(tasks)
	results := make([]OrderedResult[T], n)
	if n == 0 {
		return results, ctx.Err()
	}
	conc := opts.Concurrency
	if conc < 1 {
		conc = 1
	}
	yield := opts.Yield
	if yield == nil {
		yield = runtime.Gosched
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	sem := semaphore.NewWeighted(int64(conc))
	settleCh := make(chan settled[T], n)
	done := make([]bool, n)
	emitted := 0
	launched := 0
	settledCount := 0
	cancelled := false

	record := func(s settled[T]) {
		results[s.index] = OrderedResult[T]{Index: s.index, Value: s.value, Err: s.err, Duration: s.duration, Admitted: s.admitted}
		done[s.index] = true
		settledCount++
		for emitted < n && done[emitted] {
			if opts.OnResult != nil {
				opts.OnResult(results[emitted])
			}
			emitted++
			if opts.YieldEvery > 0 && emitted%opts.YieldEvery == 0 {
				yield()
			}
		}
	}

	abort := func() {
		if cancelled {
			return
		}
		cancelled = true
		err := ctx.Err()
		log.Debug("run cancelled", zap.Int("launched", launched), zap.Int("total", n))
		for i := launched; i < n; i++ {
			var zero T
			record(settled[T]{index: i, err: err, value: zero})
		}
		launched = n
	}

	launch := func(index int) {
		task := tasks[index]
		go func() {
			start := time.Now()
			v, err := task(ctx)
			// Release before settling so the permit is visible by the time
			// the coordinator processes this result and admits the next task.
			sem.Release(1)
			settleCh <- settled[T]{index: index, value: v, err: err, duration: time.Since(start), admitted: true}
		}()
	}

	for settledCount < n {
		if !cancelled && ctx.Err() != nil {
			abort()
			continue
		}
		if !cancelled && launched < n && sem.TryAcquire(1) {
			launch(launched)
			launched++
			continue
		}
		if cancelled {
			record(<-settleCh)
			continue
		}
		select {
		case s := <-settleCh:
			record(s)
		case <-ctx.Done():
			abort()
		}
	}
	return results, ctx.Err()
}
