package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"docmeta/internal/logger"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen admits a limited number of trial requests.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON snapshots.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const maxTransitionLog = 20

// CircuitBreakerConfig holds the thresholds for one breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig returns conservative defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// StateTransition is one entry in the breaker's transition log.
type StateTransition struct {
	From   CircuitState `json:"from"`
	To     CircuitState `json:"to"`
	At     time.Time    `json:"at"`
	Reason string       `json:"reason"`
}

// CircuitMetrics is a point-in-time snapshot of a breaker.
type CircuitMetrics struct {
	Name              string            `json:"name"`
	State             CircuitState      `json:"state"`
	FailureCount      int               `json:"failure_count"`
	HalfOpenSuccesses int               `json:"half_open_successes"`
	TotalCalls        int64             `json:"total_calls"`
	TotalSuccesses    int64             `json:"total_successes"`
	TotalFailures     int64             `json:"total_failures"`
	TotalRejected     int64             `json:"total_rejected"`
	LastFailureTime   time.Time         `json:"last_failure_time"`
	Transitions       []StateTransition `json:"transitions"`
}

// CircuitBreakerOption customises a breaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithStateChangeHook is called after every transition, outside the lock.
func WithStateChangeHook(fn func(name string, from, to CircuitState)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// CircuitBreaker fails fast while a dependency is unhealthy.
//
// CLOSED: failures increment a counter and successes decay it by one; reaching
// FailureThreshold opens the circuit. OPEN: calls are rejected until
// RecoveryTimeout has elapsed since the last failure, then the next call moves
// the breaker to HALF_OPEN. HALF_OPEN: at most HalfOpenMaxCalls trial calls are
// admitted; that many successes close the circuit, a single failure reopens it.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu                sync.Mutex
	state             CircuitState
	generation        uint64
	failureCount      int
	halfOpenInFlight  int
	halfOpenSuccesses int
	lastFailure       time.Time
	totalCalls        int64
	totalSuccesses    int64
	totalFailures     int64
	totalRejected     int64
	transitions       []StateTransition

	now           func() time.Time
	onStateChange func(name string, from, to CircuitState)
	log           *zap.Logger
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
		log:   logger.Named("circuit_breaker").With(zap.String("breaker", name)),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state without triggering the lazy OPEN→HALF_OPEN move.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn if the breaker admits the call. A rejection returns a
// *CircuitBreakerError and fn is not invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Func) (any, error) {
	gen, err := cb.admit()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.record(gen, fmt.Errorf("panic in protected call: %v", r))
			panic(r)
		}
	}()

	result, fnErr := fn(ctx)
	cb.record(gen, fnErr)
	return result, fnErr
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	now := cb.now()
	var changed *StateTransition

	if cb.state == StateOpen {
		if now.Sub(cb.lastFailure) > cb.cfg.RecoveryTimeout {
			changed = cb.transitionLocked(StateHalfOpen, now, "recovery timeout elapsed")
		} else {
			cb.totalRejected++
			retryAfter := cb.cfg.RecoveryTimeout - now.Sub(cb.lastFailure)
			cb.mu.Unlock()
			return 0, &CircuitBreakerError{Name: cb.name, State: StateOpen, RetryAfter: retryAfter}
		}
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenInFlight+cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.totalRejected++
			cb.mu.Unlock()
			cb.notify(changed)
			return 0, &CircuitBreakerError{Name: cb.name, State: StateHalfOpen}
		}
		cb.halfOpenInFlight++
	}

	cb.totalCalls++
	gen := cb.generation
	cb.mu.Unlock()
	cb.notify(changed)
	return gen, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	now := cb.now()
	var changed *StateTransition

	failed := err != nil && countsAsFailure(err)
	switch {
	case err == nil:
		cb.totalSuccesses++
	case failed:
		cb.totalFailures++
	}

	// Outcomes of calls admitted before the last transition no longer
	// describe the current state.
	if gen != cb.generation {
		cb.mu.Unlock()
		return
	}

	switch cb.state {
	case StateClosed:
		if err == nil {
			if cb.failureCount > 0 {
				cb.failureCount--
			}
		} else if failed {
			cb.failureCount++
			cb.lastFailure = now
			if cb.failureCount >= cb.cfg.FailureThreshold {
				changed = cb.transitionLocked(StateOpen, now, "failure threshold reached")
			}
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		switch {
		case err == nil:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
				changed = cb.transitionLocked(StateClosed, now, "half-open trial calls succeeded")
			}
		case failed:
			cb.lastFailure = now
			changed = cb.transitionLocked(StateOpen, now, "half-open trial call failed")
		}
	}
	cb.mu.Unlock()
	cb.notify(changed)
}

// transitionLocked moves to a new state and resets per-state counters.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to CircuitState, now time.Time, reason string) *StateTransition {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0
	if to == StateClosed {
		cb.failureCount = 0
	}

	t := StateTransition{From: from, To: to, At: now, Reason: reason}
	cb.transitions = append(cb.transitions, t)
	if len(cb.transitions) > maxTransitionLog {
		cb.transitions = cb.transitions[len(cb.transitions)-maxTransitionLog:]
	}
	return &t
}

func (cb *CircuitBreaker) notify(t *StateTransition) {
	if t == nil {
		return
	}
	cb.log.Info("circuit state changed",
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.String("reason", t.Reason))
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, t.From, t.To)
	}
}

// Metrics returns a snapshot of counters and recent transitions.
func (cb *CircuitBreaker) Metrics() CircuitMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	transitions := make([]StateTransition, len(cb.transitions))
	copy(transitions, cb.transitions)
	return CircuitMetrics{
		Name:              cb.name,
		State:             cb.state,
		FailureCount:      cb.failureCount,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		TotalCalls:        cb.totalCalls,
		TotalSuccesses:    cb.totalSuccesses,
		TotalFailures:     cb.totalFailures,
		TotalRejected:     cb.totalRejected,
		LastFailureTime:   cb.lastFailure,
		Transitions:       transitions,
	}
}

// Reset forces the breaker back to CLOSED and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changed *StateTransition
	if cb.state != StateClosed {
		changed = cb.transitionLocked(StateClosed, cb.now(), "manual reset")
	}
	cb.failureCount = 0
	cb.lastFailure = time.Time{}
	cb.totalCalls = 0
	cb.totalSuccesses = 0
	cb.totalFailures = 0
	cb.totalRejected = 0
	cb.mu.Unlock()
	cb.notify(changed)
}
