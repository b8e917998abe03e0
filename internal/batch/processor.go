// Package batch runs a unit of work over many items in fixed-size chunks with
// a bounded worker pool, optional dispatch throttling and adaptive sizing of
// that pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docmeta/internal/logger"
)

var (
	// ErrItemTimeout is reported for items that had not completed when the
	// chunk wait timed out. Their late outcomes are discarded.
	ErrItemTimeout = errors.New("batch: item did not complete before the batch timeout")
	// ErrCancelled is reported for items in chunks that never started because
	// the processor was stopped or the context was cancelled.
	ErrCancelled = errors.New("batch: processing stopped before the item was dispatched")
	// ErrPanic wraps a panic recovered from a unit of work.
	ErrPanic = errors.New("batch: unit of work panicked")
)

// Config holds instance defaults; every field except ThrottleRate can be
// overridden per call.
type Config struct {
	BatchSize    int
	MaxWorkers   int
	Timeout      time.Duration
	ThrottleRate time.Duration
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		BatchSize:  10,
		MaxWorkers: 4,
		Timeout:    5 * time.Minute,
	}
}

// WorkFunc processes a single item.
type WorkFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ProgressFunc is notified after each chunk.
type ProgressFunc func(done, total int, fraction float64)

// Result is the outcome for one item. Exactly one of Value and Err is
// meaningful. Index is the item's position in the input slice; results are
// returned in completion order within a chunk, so correlate by Item or Index.
type Result[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// Observer receives run-level measurements, typically for metrics export.
type Observer interface {
	ObserveRun(items, failures int, elapsed time.Duration)
	ObserveWorkers(n int)
}

// RunOption overrides instance defaults for one call.
type RunOption func(*runSettings)

type runSettings struct {
	batchSize  int
	maxWorkers int
	timeout    time.Duration
	progress   ProgressFunc
}

// WithBatchSize sets the chunk size for one call.
func WithBatchSize(n int) RunOption {
	return func(s *runSettings) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxWorkers bounds the in-flight items per chunk for one call.
func WithMaxWorkers(n int) RunOption {
	return func(s *runSettings) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithTimeout bounds the wait for each chunk.
func WithTimeout(d time.Duration) RunOption {
	return func(s *runSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProgress registers a callback invoked synchronously after each chunk.
func WithProgress(fn ProgressFunc) RunOption {
	return func(s *runSettings) { s.progress = fn }
}

// Option customises a Processor.
type Option func(*Processor)

// WithClock replaces time.Now for throttling and timing.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observer = o }
}

// Processor executes work over items chunk by chunk. It is safe for
// concurrent use; metrics accumulate across calls until ResetMetrics.
type Processor struct {
	cfg      Config
	now      func() time.Time
	observer Observer
	log      *zap.Logger

	// stopGen is bumped by Stop; a call stops once it differs from the
	// value captured when the call started.
	stopGen  atomic.Uint64
	inFlight atomic.Int64

	throttleMu   sync.Mutex
	lastDispatch time.Time

	mu      sync.Mutex
	metrics Metrics
}

// NewProcessor creates a Processor. Zero fields in cfg take DefaultConfig values.
func NewProcessor(cfg Config, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ThrottleRate < 0 {
		cfg.ThrottleRate = 0
	}
	p := &Processor{
		cfg: cfg,
		now: time.Now,
		log: logger.Named("batch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the instance defaults.
func (p *Processor) Config() Config { return p.cfg }

// Stop asks every call already in progress to stop before its next chunk.
// Items already dispatched run to completion or timeout. Calls started
// after Stop are unaffected.
func (p *Processor) Stop() {
	p.stopGen.Add(1)
	p.log.Info("stop requested", zap.Int64("in_flight", p.inFlight.Load()))
}

// Running reports whether any call is in progress.
func (p *Processor) Running() bool { return p.inFlight.Load() > 0 }

func (p *Processor) settings(opts []RunOption) runSettings {
	s := runSettings{
		batchSize:  p.cfg.BatchSize,
		maxWorkers: p.cfg.MaxWorkers,
		timeout:    p.cfg.Timeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Process runs work over items. Chunks of the configured batch size run
// strictly one after another; inside a chunk at most maxWorkers items are in
// flight. A failing or panicking item never affects its siblings. The
// returned slice holds exactly one Result per input item.
func Process[T, R any](ctx context.Context, p *Processor, items []T, work WorkFunc[T, R], opts ...RunOption) []Result[T, R] {
	out, _ := process(ctx, p, items, work, p.settings(opts))
	return out
}

func process[T, R any](ctx context.Context, p *Processor, items []T, work WorkFunc[T, R], s runSettings) ([]Result[T, R], RunSnapshot) {
	if len(items) == 0 {
		return nil, RunSnapshot{}
	}

	start := p.now()
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	gen := p.stopGen.Load()

	total := len(items)
	out := make([]Result[T, R], 0, total)
	chunks := 0

	for offset := 0; offset < total; offset += s.batchSize {
		end := min(offset+s.batchSize, total)

		if p.stopGen.Load() != gen || ctx.Err() != nil {
			cause := ErrCancelled
			if ctx.Err() != nil {
				cause = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			}
			p.log.Info("batch stopped early",
				zap.Int("remaining", total-offset),
				zap.Int("chunks_run", chunks))
			for i := offset; i < total; i++ {
				out = append(out, Result[T, R]{Index: i, Item: items[i], Err: cause})
			}
			break
		}

		out = append(out, runChunk(ctx, p, items[offset:end], offset, work, s)...)
		chunks++

		if s.progress != nil {
			s.progress(end, total, float64(end)/float64(total))
		}
	}

	failures := 0
	for _, r := range out {
		if r.Err != nil {
			failures++
		}
	}
	snap := p.record(len(out)-failures, failures, chunks, p.now().Sub(start))
	return out, snap
}

// runChunk dispatches every item of chunk and collects outcomes from a
// channel in completion order until all are in or the timeout fires.
func runChunk[T, R any](ctx context.Context, p *Processor, chunk []T, offset int, work WorkFunc[T, R], s runSettings) []Result[T, R] {
	results := make(chan Result[T, R], len(chunk))
	var abandoned atomic.Bool

	var g errgroup.Group
	g.SetLimit(s.maxWorkers)
	go func() {
		for i, item := range chunk {
			idx := offset + i
			g.Go(func() error {
				if abandoned.Load() {
					return nil
				}
				results <- runItem(ctx, p, idx, item, work)
				return nil
			})
		}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	out := make([]Result[T, R], 0, len(chunk))
	seen := make([]bool, len(chunk))
	for len(out) < len(chunk) {
		select {
		case r := <-results:
			seen[r.Index-offset] = true
			out = append(out, r)
		case <-timer.C:
			abandoned.Store(true)
			pending := 0
			for i, ok := range seen {
				if !ok {
					pending++
					out = append(out, Result[T, R]{Index: offset + i, Item: chunk[i], Err: ErrItemTimeout})
				}
			}
			p.log.Warn("batch wait timed out",
				zap.Duration("timeout", s.timeout),
				zap.Int("pending", pending))
			return out
		}
	}
	return out
}

func runItem[T, R any](ctx context.Context, p *Processor, idx int, item T, work WorkFunc[T, R]) (res Result[T, R]) {
	res = Result[T, R]{Index: idx, Item: item}
	defer func() {
		if r := recover(); r != nil {
			var zero R
			res.Value = zero
			res.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			p.log.Error("unit of work panicked", zap.Int("index", idx), zap.Any("panic", r))
		}
	}()

	if err := p.throttle(ctx); err != nil {
		res.Err = err
		return res
	}
	v, err := work(ctx, item)
	if err != nil {
		res.Err = err
		return res
	}
	res.Value = v
	return res
}

// throttle spaces dispatches across all workers by at least ThrottleRate. The
// slot is reserved under the lock; the sleep happens outside it.
func (p *Processor) throttle(ctx context.Context) error {
	rate := p.cfg.ThrottleRate
	if rate <= 0 {
		return nil
	}

	p.throttleMu.Lock()
	now := p.now()
	var wait time.Duration
	if next := p.lastDispatch.Add(rate); !p.lastDispatch.IsZero() && now.Before(next) {
		wait = next.Sub(now)
		p.lastDispatch = next
	} else {
		p.lastDispatch = now
	}
	p.throttleMu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
