package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"docmeta/internal/logger"
	"docmeta/internal/port"
	"docmeta/internal/resilience"
)

// Provider names one DocumentExtractor in a fallback chain.
type Provider struct {
	Name      string
	Extractor port.DocumentExtractor
}

// FallbackExtractor tries providers in order, each guarded by its own
// circuit breaker. A provider whose breaker is open, or which answered 429
// and whose Retry-After has not yet passed, is skipped without being called.
// It implements port.DocumentExtractor.
type FallbackExtractor struct {
	providers []Provider
	breakers  []*resilience.CircuitBreaker
	log       *zap.Logger

	mu           sync.Mutex
	limitedUntil []time.Time
}

// NewFallbackExtractor creates a FallbackExtractor from an ordered list of providers.
func NewFallbackExtractor(providers []Provider, cfg resilience.CircuitBreakerConfig, opts ...resilience.CircuitBreakerOption) *FallbackExtractor {
	breakers := make([]*resilience.CircuitBreaker, len(providers))
	for i, p := range providers {
		breakers[i] = resilience.NewCircuitBreaker(p.Name, cfg, opts...)
	}
	return &FallbackExtractor{
		providers:    providers,
		breakers:     breakers,
		log:          logger.Named("parser"),
		limitedUntil: make([]time.Time, len(providers)),
	}
}

// Breakers returns the per-provider breakers, in provider order.
func (f *FallbackExtractor) Breakers() []*resilience.CircuitBreaker {
	return f.breakers
}

func (f *FallbackExtractor) Categorize(ctx context.Context, input port.CategorizeInput) (*port.CategorizeOutput, error) {
	return tryEach(ctx, f, "categorize", func(ctx context.Context, e port.DocumentExtractor) (*port.CategorizeOutput, error) {
		return e.Categorize(ctx, input)
	})
}

func (f *FallbackExtractor) Extract(ctx context.Context, input port.ExtractInput) (*port.ExtractOutput, error) {
	return tryEach(ctx, f, "extract", func(ctx context.Context, e port.DocumentExtractor) (*port.ExtractOutput, error) {
		return e.Extract(ctx, input)
	})
}

// rateLimited reports whether provider i is still inside its Retry-After
// window, and until when.
func (f *FallbackExtractor) rateLimited(i int, now time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until := f.limitedUntil[i]
	return until, now.Before(until)
}

func (f *FallbackExtractor) markRateLimited(i int, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if until.After(f.limitedUntil[i]) {
		f.limitedUntil[i] = until
	}
}

// tryEach returns the first provider success. Providers behind an open
// breaker or an unexpired Retry-After are skipped. When every provider was
// skipped the caller gets a rate-limit error carrying the earliest reset if
// any provider was rate limited, else the breaker rejection, so callers fail
// fast. Otherwise the last provider error is wrapped, keeping its kind.
func tryEach[T any](ctx context.Context, f *FallbackExtractor, op string, call func(context.Context, port.DocumentExtractor) (T, error)) (T, error) {
	var zero T
	var lastErr, rejection error
	var earliestReset time.Time
	noteReset := func(at time.Time) {
		if earliestReset.IsZero() || at.Before(earliestReset) {
			earliestReset = at
		}
	}

	for i, p := range f.providers {
		now := time.Now()
		if until, limited := f.rateLimited(i, now); limited {
			f.log.Debug("skipping rate limited provider",
				zap.String("provider", p.Name),
				zap.String("op", op),
				zap.Time("until", until))
			noteReset(until)
			continue
		}

		out, err := resilience.Call(ctx, f.breakers[i], func(ctx context.Context) (T, error) {
			return call(ctx, p.Extractor)
		})
		if err == nil {
			return out, nil
		}
		if resilience.IsCircuitOpen(err) {
			f.log.Debug("skipping provider with open circuit", zap.String("provider", p.Name), zap.String("op", op))
			rejection = err
			continue
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		var rlErr *RateLimitError
		if errors.As(err, &rlErr) && rlErr.RetryAfter > 0 {
			until := now.Add(rlErr.RetryAfter)
			f.markRateLimited(i, until)
			noteReset(until)
		}
		f.log.Warn("provider failed",
			zap.String("provider", p.Name),
			zap.String("op", op),
			zap.String("kind", string(resilience.Classify(err))),
			zap.Error(err))
		lastErr = err
	}

	if lastErr != nil {
		return zero, fmt.Errorf("all providers failed to %s: %w", op, lastErr)
	}
	if !earliestReset.IsZero() {
		wait := time.Until(earliestReset)
		if wait <= 0 {
			wait = time.Second
		}
		return zero, &RateLimitError{
			Err:        fmt.Errorf("all providers rate limited for %s", op),
			RetryAfter: wait,
			Provider:   "all",
		}
	}
	if rejection != nil {
		return zero, rejection
	}
	return zero, fmt.Errorf("%s: no providers configured", op)
}
