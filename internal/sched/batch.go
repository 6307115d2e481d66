package sched

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAborted marks items the circuit breaker prevented from running. It is
// deliberately distinct from context cancellation so callers can tell the
// two apart.
var ErrAborted = errors.New("batch aborted: too many consecutive failures")

// ItemStatus classifies one batch item's outcome.
type ItemStatus string

const (
	StatusSucceeded    ItemStatus = "succeeded"
	StatusFailed       ItemStatus = "failed"
	StatusSkipped      ItemStatus = "skipped"
	StatusNotAttempted ItemStatus = "not-attempted"
)

// ItemResult is one batch item's settled outcome. Index is the item's
// position in the original input, including skipped items.
type ItemResult[T any] struct {
	Index    int
	Status   ItemStatus
	Value    T
	Err      error
	Duration time.Duration
}

// PrepareFunc turns one input item into a schedulable task. Returning
// skip=true excludes the item from scheduling without failing it; a
// non-nil error fails the item before it is ever scheduled.
type PrepareFunc[I, T any] func(index int, item I) (task Task[T], skip bool, err error)

// BatchOptions tune a batch run.
type BatchOptions[T any] struct {
	Concurrency int
	YieldEvery  int
	Yield       func()
	// BreakerThreshold trips the circuit breaker once this many items have
	// failed with no item having succeeded yet. Zero disables the breaker.
	BreakerThreshold int
	// OnItem fires for every item, strictly in original input order.
	OnItem func(ItemResult[T])
	Logger *zap.Logger
}

// Report summarizes a finished batch.
type Report struct {
	RunID        string
	Total        int
	Succeeded    int
	Failed       int
	Skipped      int
	NotAttempted int
	Aborted      bool
	Duration     time.Duration
}

// RunBatch prepares every item, schedules the runnable ones through
// RunOrdered, and classifies each outcome. Skipped and prepare-failed items
// keep their original indices in the returned slice. Once the breaker
// trips, items not yet started settle as not-attempted with ErrAborted;
// items already running are allowed to finish.
func RunBatch[I, T any](ctx context.Context, items []I, prepare PrepareFunc[I, T], opts BatchOptions[T]) ([]ItemResult[T], *Report, error) {
	start := time.Now()
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	report := &Report{RunID: uuid.NewString(), Total: len(items)}
	log = log.With(zap.String("run_id", report.RunID))

	yield := opts.Yield
	if yield == nil {
		yield = runtime.Gosched
	}

	results := make([]ItemResult[T], len(items))
	settled := make([]bool, len(items))
	var tasks []Task[T]
	var originals []int // compressed task index -> original item index

	var tripped atomic.Bool
	for i, item := range items {
		task, skip, err := prepare(i, item)
		switch {
		case err != nil:
			results[i] = ItemResult[T]{Index: i, Status: StatusFailed, Err: err}
			settled[i] = true
		case skip:
			results[i] = ItemResult[T]{Index: i, Status: StatusSkipped}
			settled[i] = true
		default:
			inner := task
			tasks = append(tasks, func(ctx context.Context) (T, error) {
				if tripped.Load() {
					var zero T
					return zero, ErrAborted
				}
				return inner(ctx)
			})
			originals = append(originals, i)
		}
		if opts.YieldEvery > 0 && (i+1)%opts.YieldEvery == 0 {
			yield()
		}
	}

	emitted := 0
	flush := func() {
		for emitted < len(items) && settled[emitted] {
			if opts.OnItem != nil {
				opts.OnItem(results[emitted])
			}
			emitted++
		}
	}
	flush()

	// Breaker state is only touched from the ordered-emission path, which
	// runs on a single goroutine; workers read the tripped flag.
	successes := 0
	consecutive := 0
	onResult := func(r OrderedResult[T]) {
		orig := originals[r.Index]
		item := ItemResult[T]{Index: orig, Value: r.Value, Err: r.Err, Duration: r.Duration}
		switch {
		case r.Err == nil:
			item.Status = StatusSucceeded
			successes++
			consecutive = 0
		case errors.Is(r.Err, ErrAborted):
			item.Status = StatusNotAttempted
		case !r.Admitted:
			// Never admitted before cancellation. A task that did run and
			// returned a context error counts as failed, however fast it was.
			item.Status = StatusNotAttempted
		default:
			item.Status = StatusFailed
			consecutive++
			if opts.BreakerThreshold > 0 && successes == 0 && consecutive >= opts.BreakerThreshold && !tripped.Load() {
				tripped.Store(true)
				report.Aborted = true
				log.Warn("circuit breaker tripped",
					zap.Int("consecutive_failures", consecutive),
					zap.Int("threshold", opts.BreakerThreshold))
			}
		}
		results[orig] = item
		settled[orig] = true
		flush()
	}

	_, runErr := RunOrdered(ctx, tasks, Options[T]{
		Concurrency: opts.Concurrency,
		YieldEvery:  opts.YieldEvery,
		Yield:       opts.Yield,
		OnResult:    onResult,
		Logger:      log,
	})
	flush()

	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			report.Succeeded++
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		case StatusNotAttempted:
			report.NotAttempted++
		}
	}
	report.Duration = time.Since(start)
	log.Info("batch finished",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("not_attempted", report.NotAttempted),
		zap.Bool("aborted", report.Aborted))
	return results, report, runErr
}
