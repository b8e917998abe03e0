package resilience

import "context"

// Func is a unit of work guarded by the resilience layer.
type Func func(ctx context.Context) (any, error)

// Middleware wraps a Func with additional behaviour.
type Middleware func(next Func) Func

// Executor is implemented by CircuitBreaker and RetryManager.
type Executor interface {
	Execute(ctx context.Context, fn Func) (any, error)
}

// WithBreaker returns a Middleware that routes calls through cb.
func WithBreaker(cb *CircuitBreaker) Middleware {
	return func(next Func) Func {
		return func(ctx context.Context) (any, error) {
			return cb.Execute(ctx, next)
		}
	}
}

// WithRetry returns a Middleware that retries calls with rm.
func WithRetry(rm *RetryManager) Middleware {
	return func(next Func) Func {
		return func(ctx context.Context) (any, error) {
			return rm.Execute(ctx, next)
		}
	}
}

// Chain wraps fn with mws; the first middleware is the outermost.
//
// Chain(fn, WithRetry(rm), WithBreaker(cb)) retries around the breaker, so
// every attempt is admitted (or rejected) individually. Chain(fn,
// WithBreaker(cb), WithRetry(rm)) lets the breaker see one call per full
// retry sequence.
func Chain(fn Func, mws ...Middleware) Func {
	for i := len(mws) - 1; i >= 0; i-- {
		fn = mws[i](fn)
	}
	return fn
}

// Call runs a typed function through an Executor.
func Call[T any](ctx context.Context, exec Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	out, err := exec.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}
