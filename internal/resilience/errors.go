// Package resilience guards calls to the remote extraction service with a
// circuit breaker and a bounded, jittered retry policy.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// ErrCircuitOpen is the sentinel wrapped by every CircuitBreakerError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrorKind classifies a failure for retry and breaker decisions.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection"
	KindServer      ErrorKind = "server"
	KindRateLimited ErrorKind = "rate_limited"
	KindClient      ErrorKind = "client"
	KindMalformed   ErrorKind = "malformed"
	KindPermanent   ErrorKind = "permanent"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindCanceled    ErrorKind = "canceled"
	KindUnknown     ErrorKind = "unknown"
)

// Kinded is implemented by errors that know their own classification.
type Kinded interface {
	Kind() ErrorKind
}

// RetryAfterHinter is implemented by errors that carry a server-provided
// wait, such as an HTTP Retry-After header.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// RetryAfterHint returns the wait requested by err, or 0.
func RetryAfterHint(err error) time.Duration {
	var h RetryAfterHinter
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}
	return 0
}

// CircuitBreakerError is returned when a breaker rejects a call without running it.
type CircuitBreakerError struct {
	Name       string
	State      CircuitState
	RetryAfter time.Duration
}

func (e *CircuitBreakerError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker %q is %s (retry after %s)", e.Name, e.State, e.RetryAfter)
	}
	return fmt.Sprintf("circuit breaker %q is %s", e.Name, e.State)
}

func (e *CircuitBreakerError) Unwrap() error { return ErrCircuitOpen }

func (e *CircuitBreakerError) Kind() ErrorKind { return KindCircuitOpen }

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}

type kindError struct {
	err  error
	kind ErrorKind
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() error   { return e.err }
func (e *kindError) Kind() ErrorKind { return e.kind }

// WithKind tags err with an explicit classification.
func WithKind(err error, kind ErrorKind) error {
	if err == nil {
		return nil
	}
	return &kindError{err: err, kind: kind}
}

// Permanent marks err as never retryable.
func Permanent(err error) error {
	return WithKind(err, KindPermanent)
}

// Transient marks err as retryable.
func Transient(err error) error {
	return WithKind(err, KindTransient)
}

// Classify determines the kind of err. Breaker rejections and self-describing
// errors win; otherwise timeouts and connection failures are recognised from
// the standard network error types.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if IsCircuitOpen(err) {
		return KindCircuitOpen
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnection
	}
	return KindUnknown
}

// IsRetryable reports whether a failure of this kind may succeed on retry.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case KindClient, KindMalformed, KindPermanent, KindCircuitOpen, KindCanceled:
		return false
	default:
		return true
	}
}

// countsAsFailure reports whether err reflects dependency health. Caller
// cancellations and permanent client-side errors do not.
func countsAsFailure(err error) bool {
	switch Classify(err) {
	case KindCanceled, KindClient, KindMalformed, KindPermanent:
		return false
	default:
		return true
	}
}
