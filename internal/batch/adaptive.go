package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const historyLimit = 10

// HistoryEntry records one adaptive call.
type HistoryEntry struct {
	WorkersUsed int           `json:"workers_used"`
	Items       int           `json:"items"`
	SuccessRate float64       `json:"success_rate"`
	Elapsed     time.Duration `json:"elapsed"`
}

// AdaptationStrategy proposes the next worker count from recent history.
type AdaptationStrategy interface {
	Next(current int, history []HistoryEntry) int
}

// SuccessRateStrategy shrinks the pool by one when the mean success rate of
// the history falls below Target and grows it by one otherwise, within
// [Min, Max].
type SuccessRateStrategy struct {
	Target float64
	Min    int
	Max    int
}

func (s SuccessRateStrategy) Next(current int, history []HistoryEntry) int {
	if len(history) == 0 {
		return current
	}
	var sum float64
	for _, h := range history {
		sum += h.SuccessRate
	}
	mean := sum / float64(len(history))

	if mean < s.Target {
		if current > s.Min {
			return current - 1
		}
		return current
	}
	if current < s.Max {
		return current + 1
	}
	return current
}

// AdaptiveConfig configures an AdaptiveProcessor.
type AdaptiveConfig struct {
	MinWorkers         int
	MaxWorkers         int
	InitialWorkers     int
	TargetSuccessRate  float64
	AdaptationInterval int
}

// AdaptiveProcessor wraps a Processor and retunes its worker count every
// AdaptationInterval calls.
type AdaptiveProcessor struct {
	proc     *Processor
	cfg      AdaptiveConfig
	strategy AdaptationStrategy
	log      *zap.Logger

	mu      sync.Mutex
	current int
	calls   int
	history []HistoryEntry
}

// AdaptiveOption customises an AdaptiveProcessor.
type AdaptiveOption func(*AdaptiveProcessor)

// WithStrategy replaces the default SuccessRateStrategy.
func WithStrategy(s AdaptationStrategy) AdaptiveOption {
	return func(a *AdaptiveProcessor) { a.strategy = s }
}

// NewAdaptiveProcessor creates an AdaptiveProcessor around proc.
func NewAdaptiveProcessor(proc *Processor, cfg AdaptiveConfig, opts ...AdaptiveOption) *AdaptiveProcessor {
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.AdaptationInterval < 1 {
		cfg.AdaptationInterval = 1
	}
	if cfg.InitialWorkers == 0 {
		cfg.InitialWorkers = proc.Config().MaxWorkers
	}
	cfg.InitialWorkers = clamp(cfg.InitialWorkers, cfg.MinWorkers, cfg.MaxWorkers)

	a := &AdaptiveProcessor{
		proc:    proc,
		cfg:     cfg,
		current: cfg.InitialWorkers,
		log:     proc.log.Named("adaptive"),
		strategy: SuccessRateStrategy{
			Target: cfg.TargetSuccessRate,
			Min:    cfg.MinWorkers,
			Max:    cfg.MaxWorkers,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if proc.observer != nil {
		proc.observer.ObserveWorkers(a.current)
	}
	return a
}

// Processor returns the wrapped Processor.
func (a *AdaptiveProcessor) Processor() *Processor { return a.proc }

// CurrentWorkers returns the tuned worker count.
func (a *AdaptiveProcessor) CurrentWorkers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// History returns a copy of the retained history, oldest first.
func (a *AdaptiveProcessor) History() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}

// ProcessAdaptive runs Process with max workers defaulting to the tuned
// count, then records the call and adapts when the interval is reached.
func ProcessAdaptive[T, R any](ctx context.Context, a *AdaptiveProcessor, items []T, work WorkFunc[T, R], opts ...RunOption) []Result[T, R] {
	opts = append([]RunOption{WithMaxWorkers(a.CurrentWorkers())}, opts...)
	s := a.proc.settings(opts)

	out, snap := process(ctx, a.proc, items, work, s)
	if snap.Items > 0 {
		a.observe(HistoryEntry{
			WorkersUsed: s.maxWorkers,
			Items:       snap.Items,
			SuccessRate: snap.SuccessRate,
			Elapsed:     snap.Elapsed,
		})
	}
	return out
}

func (a *AdaptiveProcessor) observe(entry HistoryEntry) {
	a.mu.Lock()
	a.history = append(a.history, entry)
	if len(a.history) > historyLimit {
		a.history = a.history[len(a.history)-historyLimit:]
	}
	a.calls++
	if a.calls%a.cfg.AdaptationInterval != 0 {
		a.mu.Unlock()
		return
	}

	prev := a.current
	next := a.strategy.Next(prev, a.history)
	// At most one step per adaptation, always within bounds.
	next = clamp(next, prev-1, prev+1)
	next = clamp(next, a.cfg.MinWorkers, a.cfg.MaxWorkers)
	a.current = next
	a.mu.Unlock()

	if next != prev {
		a.log.Info("worker count adapted",
			zap.Int("from", prev),
			zap.Int("to", next),
			zap.Float64("last_success_rate", entry.SuccessRate))
		if a.proc.observer != nil {
			a.proc.observer.ObserveWorkers(next)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
