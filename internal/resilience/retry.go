package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"docmeta/internal/logger"
)

// maxBackoff keeps float delays well inside time.Duration's range.
const maxBackoff = float64(1 << 62)

// RetryPolicy bounds how a failing call is retried.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
	// RetryableKinds, when non-empty, is an allow-list: errors of any other
	// kind propagate without a retry.
	RetryableKinds []ErrorKind
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2,
		JitterFraction: 0.1,
	}
}

// RetryStats are lifetime counters for one RetryManager.
type RetryStats struct {
	Calls        int64 `json:"calls"`
	Successes    int64 `json:"successes"`
	Failures     int64 `json:"failures"`
	RetriedCalls int64 `json:"retried_calls"`
	TotalRetries int64 `json:"total_retries"`
}

// RetryOption customises a RetryManager.
type RetryOption func(*RetryManager)

// WithCircuitBreaker routes every attempt through cb.
func WithCircuitBreaker(cb *CircuitBreaker) RetryOption {
	return func(r *RetryManager) { r.breaker = cb }
}

// WithSleeper replaces the context-aware sleep, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryManager) { r.sleep = sleep }
}

// WithRandom replaces the jitter source; fn must return values in [0,1).
func WithRandom(fn func() float64) RetryOption {
	return func(r *RetryManager) { r.random = fn }
}

// WithRetryHook is called before each backoff sleep.
func WithRetryHook(fn func(attempt int, delay time.Duration, err error)) RetryOption {
	return func(r *RetryManager) { r.onRetry = fn }
}

// RetryManager retries transient failures with exponential backoff and jitter.
type RetryManager struct {
	name    string
	policy  RetryPolicy
	breaker *CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
	random  func() float64
	onRetry func(attempt int, delay time.Duration, err error)
	log     *zap.Logger

	mu    sync.Mutex
	stats RetryStats
}

// NewRetryManager creates a RetryManager for the given policy.
func NewRetryManager(name string, policy RetryPolicy, opts ...RetryOption) *RetryManager {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}
	r := &RetryManager{
		name:   name,
		policy: policy,
		sleep:  sleepContext,
		random: rand.Float64, // #nosec G404 -- non-cryptographic jitter
		log:    logger.Named("retry").With(zap.String("retry", name)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker returns the attached circuit breaker, or nil.
func (r *RetryManager) Breaker() *CircuitBreaker { return r.breaker }

// Policy returns the configured policy.
func (r *RetryManager) Policy() RetryPolicy { return r.policy }

// Execute runs fn, retrying failures the policy allows. Breaker rejections
// and non-retryable errors propagate immediately; otherwise the final error
// propagates once MaxRetries retries have been spent.
func (r *RetryManager) Execute(ctx context.Context, fn Func) (any, error) {
	r.update(func(s *RetryStats) { s.Calls++ })

	retries := 0
	for {
		result, err := r.attempt(ctx, fn)
		if err == nil {
			r.update(func(s *RetryStats) { s.Successes++ })
			if retries > 0 {
				r.log.Debug("call succeeded after retry", zap.Int("retries", retries))
			}
			return result, nil
		}

		kind := Classify(err)
		if !r.shouldRetry(kind) {
			r.update(func(s *RetryStats) { s.Failures++ })
			return nil, err
		}

		retries++
		if retries > r.policy.MaxRetries {
			r.update(func(s *RetryStats) { s.Failures++ })
			r.log.Warn("retries exhausted",
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return nil, err
		}

		delay := r.backoff(retries, err)
		r.update(func(s *RetryStats) {
			s.TotalRetries++
			if retries == 1 {
				s.RetriedCalls++
			}
		})
		r.log.Debug("retrying after failure",
			zap.Int("attempt", retries),
			zap.Duration("delay", delay),
			zap.String("kind", string(kind)),
			zap.Error(err))
		if r.onRetry != nil {
			r.onRetry(retries, delay, err)
		}

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			r.update(func(s *RetryStats) { s.Failures++ })
			return nil, fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", retries, sleepErr, err)
		}
	}
}

func (r *RetryManager) attempt(ctx context.Context, fn Func) (any, error) {
	if r.breaker != nil {
		return r.breaker.Execute(ctx, fn)
	}
	return fn(ctx)
}

func (r *RetryManager) shouldRetry(kind ErrorKind) bool {
	if kind == KindCircuitOpen || kind == KindCanceled {
		return false
	}
	if len(r.policy.RetryableKinds) > 0 {
		return slices.Contains(r.policy.RetryableKinds, kind)
	}
	return IsRetryable(kind)
}

// backoff is Delay(attempt), raised to the error's Retry-After hint when
// that is longer. MaxDelay still caps the result.
func (r *RetryManager) backoff(attempt int, err error) time.Duration {
	delay := r.Delay(attempt)
	if hint := RetryAfterHint(err); hint > delay {
		delay = hint
		if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	return delay
}

// Delay returns the backoff before retry number attempt (1-based):
// min(BaseDelay·BackoffFactor^(attempt-1), MaxDelay), shifted by a uniform
// jitter of up to ±JitterFraction of that value, never negative.
func (r *RetryManager) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.policy.BaseDelay <= 0 {
		return 0
	}
	delay := float64(r.policy.BaseDelay) * math.Pow(r.policy.BackoffFactor, float64(attempt-1))
	if r.policy.MaxDelay > 0 && delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	// Without MaxDelay the power overflows to +Inf on long sequences.
	delay = math.Min(delay, maxBackoff)
	if r.policy.JitterFraction > 0 {
		jitter := r.policy.JitterFraction * delay
		delay += (r.random()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	delay = math.Min(delay, maxBackoff)
	return time.Duration(delay)
}

// Stats returns a snapshot of lifetime counters.
func (r *RetryManager) Stats() RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ResetStats zeroes the lifetime counters.
func (r *RetryManager) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = RetryStats{}
}

func (r *RetryManager) update(fn func(*RetryStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
