package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/resilience"
)

func TestChain_RetryOutsideBreaker(t *testing.T) {
	clock := newFakeClock()
	cb := newBreaker(clock, 10, 1)
	rm := newRetry(resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, BackoffFactor: 1}, &recordedSleeps{})

	calls := 0
	fn := resilience.Chain(failing(&calls), resilience.WithRetry(rm), resilience.WithBreaker(cb))
	_, err := fn(context.Background())

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(3), cb.Metrics().TotalCalls, "each attempt passes the breaker")
}

func TestChain_BreakerOutsideRetry(t *testing.T) {
	clock := newFakeClock()
	cb := newBreaker(clock, 10, 1)
	rm := newRetry(resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, BackoffFactor: 1}, &recordedSleeps{})

	calls := 0
	fn := resilience.Chain(failing(&calls), resilience.WithBreaker(cb), resilience.WithRetry(rm))
	_, err := fn(context.Background())

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), cb.Metrics().TotalCalls, "the breaker sees one call per retry sequence")
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestCall_Typed(t *testing.T) {
	cb := newBreaker(newFakeClock(), 3, 1)
	n, err := resilience.Call(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = resilience.Call(context.Background(), cb, func(context.Context) (int, error) {
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want resilience.ErrorKind
	}{
		{"circuit open", &resilience.CircuitBreakerError{Name: "x", State: resilience.StateOpen}, resilience.KindCircuitOpen},
		{"wrapped circuit open", fmt.Errorf("calling: %w", &resilience.CircuitBreakerError{}), resilience.KindCircuitOpen},
		{"explicit kind", resilience.WithKind(errors.New("x"), resilience.KindServer), resilience.KindServer},
		{"permanent", resilience.Permanent(errors.New("x")), resilience.KindPermanent},
		{"deadline", context.DeadlineExceeded, resilience.KindTimeout},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), resilience.KindCanceled},
		{"net timeout", timeoutErr{}, resilience.KindTimeout},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, resilience.KindConnection},
		{"econnreset", fmt.Errorf("read: %w", syscall.ECONNRESET), resilience.KindConnection},
		{"unknown", errors.New("mystery"), resilience.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resilience.Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	for _, k := range []resilience.ErrorKind{
		resilience.KindTransient, resilience.KindTimeout, resilience.KindConnection,
		resilience.KindServer, resilience.KindRateLimited, resilience.KindUnknown,
	} {
		assert.True(t, resilience.IsRetryable(k), k)
	}
	for _, k := range []resilience.ErrorKind{
		resilience.KindClient, resilience.KindMalformed, resilience.KindPermanent,
		resilience.KindCircuitOpen, resilience.KindCanceled,
	} {
		assert.False(t, resilience.IsRetryable(k), k)
	}
}
