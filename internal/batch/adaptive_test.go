package batch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/batch"
)

func failAll(context.Context, int) (int, error) { return 0, errors.New("nope") }

func newAdaptive(cfg batch.AdaptiveConfig, opts ...batch.AdaptiveOption) *batch.AdaptiveProcessor {
	p := batch.NewProcessor(batch.Config{BatchSize: 5, MaxWorkers: 4, Timeout: time.Second})
	return batch.NewAdaptiveProcessor(p, cfg, opts...)
}

func TestAdaptive_ShrinksOnFailuresAndStaysAboveMin(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 4, InitialWorkers: 4,
		TargetSuccessRate: 0.9, AdaptationInterval: 1,
	})

	var seen []int
	for i := 0; i < 6; i++ {
		batch.ProcessAdaptive(context.Background(), a, ints(3), failAll)
		seen = append(seen, a.CurrentWorkers())
	}
	assert.Equal(t, []int{3, 2, 1, 1, 1, 1}, seen)
}

func TestAdaptive_GrowsOnSuccessAndStaysBelowMax(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 3, InitialWorkers: 1,
		TargetSuccessRate: 0.9, AdaptationInterval: 1,
	})

	var seen []int
	for i := 0; i < 4; i++ {
		batch.ProcessAdaptive(context.Background(), a, ints(3), double)
		seen = append(seen, a.CurrentWorkers())
	}
	assert.Equal(t, []int{2, 3, 3, 3}, seen)
}

func TestAdaptive_OnlyAdaptsEveryInterval(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 8, InitialWorkers: 4,
		TargetSuccessRate: 0.5, AdaptationInterval: 3,
	})

	batch.ProcessAdaptive(context.Background(), a, ints(2), double)
	batch.ProcessAdaptive(context.Background(), a, ints(2), double)
	assert.Equal(t, 4, a.CurrentWorkers())
	batch.ProcessAdaptive(context.Background(), a, ints(2), double)
	assert.Equal(t, 5, a.CurrentWorkers())
}

func TestAdaptive_UsesMeanOfHistory(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 8, InitialWorkers: 4,
		TargetSuccessRate: 0.9, AdaptationInterval: 2,
	})

	// Mean of 0.0 and 1.0 is below target even though the last call succeeded.
	batch.ProcessAdaptive(context.Background(), a, ints(2), failAll)
	batch.ProcessAdaptive(context.Background(), a, ints(2), double)
	assert.Equal(t, 3, a.CurrentWorkers())
}

type jumpStrategy struct{ to int }

func (s jumpStrategy) Next(int, []batch.HistoryEntry) int { return s.to }

func TestAdaptive_StepIsDampedAndBounded(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 2, MaxWorkers: 6, InitialWorkers: 3, AdaptationInterval: 1,
	}, batch.WithStrategy(jumpStrategy{to: 100}))

	prev := a.CurrentWorkers()
	for i := 0; i < 10; i++ {
		batch.ProcessAdaptive(context.Background(), a, ints(1), double)
		cur := a.CurrentWorkers()
		assert.LessOrEqual(t, cur-prev, 1)
		assert.GreaterOrEqual(t, cur, 2)
		assert.LessOrEqual(t, cur, 6)
		prev = cur
	}
	assert.Equal(t, 6, prev)
}

func TestAdaptive_HistoryIsBounded(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 4, InitialWorkers: 2,
		TargetSuccessRate: 0.5, AdaptationInterval: 100,
	})
	for i := 0; i < 15; i++ {
		batch.ProcessAdaptive(context.Background(), a, ints(1), double)
	}
	h := a.History()
	require.Len(t, h, 10)
	assert.Equal(t, 2, h[0].WorkersUsed)
	assert.Equal(t, 1, h[0].Items)
	assert.InDelta(t, 1.0, h[0].SuccessRate, 1e-9)
}

func TestAdaptive_CallerOverrideWins(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 4, InitialWorkers: 2,
		TargetSuccessRate: 0.5, AdaptationInterval: 100,
	})
	batch.ProcessAdaptive(context.Background(), a, ints(1), double, batch.WithMaxWorkers(7))
	assert.Equal(t, 7, a.History()[0].WorkersUsed)
}

func TestAdaptive_InitialWorkersClamped(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{MinWorkers: 2, MaxWorkers: 5, InitialWorkers: 9})
	assert.Equal(t, 5, a.CurrentWorkers())
}

func TestAdaptive_ObserverSeesWorkerChanges(t *testing.T) {
	obs := &recordingObserver{}
	p := batch.NewProcessor(batch.Config{}, batch.WithObserver(obs))
	a := batch.NewAdaptiveProcessor(p, batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 4, InitialWorkers: 2,
		TargetSuccessRate: 0.9, AdaptationInterval: 1,
	})
	batch.ProcessAdaptive(context.Background(), a, ints(2), double)
	assert.Equal(t, []int{2, 3}, obs.workers)
}

func TestAdaptive_ConcurrentRunsShareProcessor(t *testing.T) {
	a := newAdaptive(batch.AdaptiveConfig{
		MinWorkers: 1, MaxWorkers: 4, InitialWorkers: 2,
		TargetSuccessRate: 0.9, AdaptationInterval: 100,
	})

	gate := make(chan struct{})
	slow := func(_ context.Context, n int) (int, error) {
		<-gate
		return n, nil
	}

	const runs = 4
	done := make(chan []batch.Result[int, int], runs)
	for i := 0; i < runs; i++ {
		go func() {
			done <- batch.ProcessAdaptive(context.Background(), a, ints(12), slow, batch.WithBatchSize(1))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < runs; i++ {
		rs := <-done
		require.Len(t, rs, 12)
		for _, r := range rs {
			assert.NoError(t, r.Err)
		}
	}
	assert.False(t, a.Processor().Running())
	assert.Len(t, a.History(), runs)
}
