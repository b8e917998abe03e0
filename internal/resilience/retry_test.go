package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/resilience"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newRetry(policy resilience.RetryPolicy, sleeps *recordedSleeps, opts ...resilience.RetryOption) *resilience.RetryManager {
	opts = append([]resilience.RetryOption{
		resilience.WithSleeper(sleeps.sleep),
		resilience.WithRandom(func() float64 { return 0.5 }),
	}, opts...)
	return resilience.NewRetryManager("test", policy, opts...)
}

func TestRetryManager_ExhaustsRetries(t *testing.T) {
	sleeps := &recordedSleeps{}
	rm := newRetry(resilience.RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
	}, sleeps)

	calls := 0
	transient := resilience.Transient(errors.New("503"))
	_, err := rm.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, transient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 4, calls, "1 initial attempt + 3 retries")
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, sleeps.delays)

	stats := rm.Stats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(1), stats.RetriedCalls)
	assert.Equal(t, int64(3), stats.TotalRetries)
}

func TestRetryManager_SucceedsAfterTransientFailures(t *testing.T) {
	sleeps := &recordedSleeps{}
	rm := newRetry(resilience.DefaultRetryPolicy(), sleeps)

	calls := 0
	out, err := rm.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, resilience.WithKind(errors.New("timeout"), resilience.KindTimeout)
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), rm.Stats().Successes)
	assert.Equal(t, int64(2), rm.Stats().TotalRetries)
}

func TestRetryManager_PermanentErrorNotRetried(t *testing.T) {
	sleeps := &recordedSleeps{}
	rm := newRetry(resilience.DefaultRetryPolicy(), sleeps)

	calls := 0
	_, err := rm.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, resilience.WithKind(errors.New("400"), resilience.KindClient)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps.delays)
}

func TestRetryManager_AllowListRestrictsRetries(t *testing.T) {
	sleeps := &recordedSleeps{}
	policy := resilience.DefaultRetryPolicy()
	policy.RetryableKinds = []resilience.ErrorKind{resilience.KindTimeout}
	rm := newRetry(policy, sleeps)

	calls := 0
	_, err := rm.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, resilience.WithKind(errors.New("502"), resilience.KindServer)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "server errors are not in the allow-list")

	calls = 0
	_, err = rm.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, resilience.WithKind(errors.New("slow"), resilience.KindTimeout)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryManager_CircuitOpenNotRetried(t *testing.T) {
	clock := newFakeClock()
	cb := newBreaker(clock, 2, 1)
	sleeps := &recordedSleeps{}
	rm := newRetry(resilience.RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, BackoffFactor: 1}, sleeps,
		resilience.WithCircuitBreaker(cb))

	calls := 0
	_, err := rm.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, errBoom
	})

	require.Error(t, err)
	assert.True(t, resilience.IsCircuitOpen(err), "the breaker opens after 2 failures and the rejection propagates")
	assert.Equal(t, 2, calls)
	assert.Len(t, sleeps.delays, 2)
	assert.Equal(t, resilience.StateOpen, cb.State())
}

func TestRetryManager_ContextCancelledDuringBackoff(t *testing.T) {
	rm := resilience.NewRetryManager("cancel", resilience.RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     time.Hour,
		BackoffFactor: 2,
	})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := rm.Execute(ctx, func(context.Context) (any, error) {
			calls++
			return nil, errBoom
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestRetryManager_DelayRespectsCapAndJitter(t *testing.T) {
	policy := resilience.RetryPolicy{
		MaxRetries:     10,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       time.Second,
		BackoffFactor:  2,
		JitterFraction: 0.2,
	}

	low := resilience.NewRetryManager("low", policy, resilience.WithRandom(func() float64 { return 0 }))
	high := resilience.NewRetryManager("high", policy, resilience.WithRandom(func() float64 { return 0.999999 }))

	for attempt := 1; attempt <= 8; attempt++ {
		base := float64(100*time.Millisecond) * float64(int(1)<<(attempt-1))
		if base > float64(time.Second) {
			base = float64(time.Second)
		}
		lo := low.Delay(attempt)
		hi := high.Delay(attempt)
		assert.InDelta(t, base*0.8, float64(lo), float64(time.Microsecond), "attempt %d", attempt)
		assert.InDelta(t, base*1.2, float64(hi), float64(time.Millisecond), "attempt %d", attempt)
		assert.GreaterOrEqual(t, lo, time.Duration(0))
	}
}

func TestRetryManager_DelayNeverNegative(t *testing.T) {
	rm := resilience.NewRetryManager("neg", resilience.RetryPolicy{
		BaseDelay:      time.Millisecond,
		BackoffFactor:  1,
		JitterFraction: 5,
	}, resilience.WithRandom(func() float64 { return 0 }))
	assert.Equal(t, time.Duration(0), rm.Delay(1))
}

func TestRetryManager_ResetStats(t *testing.T) {
	rm := newRetry(resilience.DefaultRetryPolicy(), &recordedSleeps{})
	_, _ = rm.Execute(context.Background(), func(context.Context) (any, error) { return 1, nil })
	require.Equal(t, int64(1), rm.Stats().Calls)

	rm.ResetStats()
	assert.Equal(t, resilience.RetryStats{}, rm.Stats())
}

func TestRetryManager_DelayWithoutCapDoesNotOverflow(t *testing.T) {
	rm := resilience.NewRetryManager("uncapped", resilience.RetryPolicy{
		BaseDelay:      time.Second,
		BackoffFactor:  10,
		JitterFraction: 0.1,
	}, resilience.WithRandom(func() float64 { return 0.5 }))

	prev := time.Duration(0)
	for _, attempt := range []int{1, 10, 100, 1000, 5000} {
		d := rm.Delay(attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

type throttledErr struct{ wait time.Duration }

func (e throttledErr) Error() string                 { return "429" }
func (e throttledErr) Kind() resilience.ErrorKind    { return resilience.KindRateLimited }
func (e throttledErr) RetryAfterHint() time.Duration { return e.wait }

func TestRetryManager_HonoursRetryAfterHint(t *testing.T) {
	sleeps := &recordedSleeps{}
	rm := newRetry(resilience.RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}, sleeps)

	hints := []time.Duration{2 * time.Second, time.Millisecond, time.Minute}
	calls := 0
	_, err := rm.Execute(context.Background(), func(context.Context) (any, error) {
		if calls < len(hints) {
			calls++
			return nil, fmt.Errorf("extract: %w", throttledErr{wait: hints[calls-1]})
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		2 * time.Second,       // hint longer than the 10ms backoff
		20 * time.Millisecond, // backoff longer than the hint
		5 * time.Second,       // hint capped at MaxDelay
	}, sleeps.delays)
}
