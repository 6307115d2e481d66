package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingPrepare(index int, item string) (Task[string], bool, error) {
	return func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("item %d: unusable", index)
	}, false, nil
}

func upperPrepare(index int, item string) (Task[string], bool, error) {
	if strings.TrimSpace(item) == "" {
		return nil, true, nil
	}
	return func(ctx context.Context) (string, error) {
		return strings.ToUpper(item), nil
	}, false, nil
}

func TestRunBatch_AllSucceed(t *testing.T) {
	items := []string{"a", "b", "c"}
	results, report, err := RunBatch(context.Background(), items, upperPrepare, BatchOptions[string]{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Aborted)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "B", results[1].Value)
	for _, r := range results {
		assert.Equal(t, StatusSucceeded, r.Status)
	}
}

func TestRunBatch_SkippedItemsKeepTheirSlots(t *testing.T) {
	items := []string{"a", "", "c", "  ", "e"}
	var order []int
	results, report, err := RunBatch(context.Background(), items, upperPrepare, BatchOptions[string]{
		Concurrency: 3,
		OnItem:      func(r ItemResult[string]) { order = append(order, r.Index) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, StatusSkipped, results[3].Status)
	assert.Equal(t, "E", results[4].Value)
}

func TestRunBatch_PrepareErrorFailsItemUpfront(t *testing.T) {
	prepare := func(index int, item string) (Task[string], bool, error) {
		if index == 1 {
			return nil, false, errors.New("bad input shape")
		}
		return upperPrepare(index, item)
	}
	results, report, err := RunBatch(context.Background(), []string{"a", "b", "c"}, prepare, BatchOptions[string]{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.ErrorContains(t, results[1].Err, "bad input shape")
}

func TestRunBatch_BreakerTripsOnLeadingFailures(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	results, report, err := RunBatch(context.Background(), items, failingPrepare, BatchOptions[string]{
		Concurrency:      1,
		BreakerThreshold: 3,
	})
	require.NoError(t, err)
	assert.True(t, report.Aborted)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 5, report.NotAttempted)

	for i := 0; i < 3; i++ {
		assert.Equal(t, StatusFailed, results[i].Status, "item %d", i)
	}
	for i := 3; i < len(items); i++ {
		assert.Equal(t, StatusNotAttempted, results[i].Status, "item %d", i)
		// Breaker abort is reported distinctly from cancellation.
		assert.ErrorIs(t, results[i].Err, ErrAborted)
		assert.NotErrorIs(t, results[i].Err, context.Canceled)
	}
}

func TestRunBatch_OneSuccessDisarmsBreaker(t *testing.T) {
	prepare := func(index int, item string) (Task[string], bool, error) {
		return func(ctx context.Context) (string, error) {
			if index == 0 {
				return "ok", nil
			}
			return "", errors.New("nope")
		}, false, nil
	}
	items := make([]string, 10)
	_, report, err := RunBatch(context.Background(), items, prepare, BatchOptions[string]{
		Concurrency:      1,
		BreakerThreshold: 3,
	})
	require.NoError(t, err)
	assert.False(t, report.Aborted)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 9, report.Failed)
	assert.Zero(t, report.NotAttempted)
}

func TestRunBatch_BreakerDisabledByDefault(t *testing.T) {
	items := make([]string, 6)
	_, report, err := RunBatch(context.Background(), items, failingPrepare, BatchOptions[string]{Concurrency: 1})
	require.NoError(t, err)
	assert.False(t, report.Aborted)
	assert.Equal(t, 6, report.Failed)
}

func TestRunBatch_CancellationReportedAsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	prepare := func(index int, item string) (Task[string], bool, error) {
		return func(ctx context.Context) (string, error) {
			if index == 0 {
				close(started)
			}
			<-ctx.Done()
			return "", ctx.Err()
		}, false, nil
	}
	go func() {
		<-started
		cancel()
	}()
	results, report, err := RunBatch(ctx, make([]string, 5), prepare, BatchOptions[string]{Concurrency: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, report.Aborted)
	// The first item ran, so its context error is a failure, not a
	// not-attempted slot, no matter how quickly it returned.
	assert.Equal(t, StatusFailed, results[0].Status)
	for i := 1; i < 5; i++ {
		assert.Equal(t, StatusNotAttempted, results[i].Status)
		assert.ErrorIs(t, results[i].Err, context.Canceled)
		assert.NotErrorIs(t, results[i].Err, ErrAborted)
	}
}
