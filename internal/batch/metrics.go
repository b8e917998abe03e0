package batch

import (
	"time"

	"go.uber.org/zap"
)

// RunSnapshot describes the most recent call.
type RunSnapshot struct {
	Items       int           `json:"items"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	Chunks      int           `json:"chunks"`
	SuccessRate float64       `json:"success_rate"`
	Elapsed     time.Duration `json:"elapsed"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Metrics are cumulative counters for a Processor.
type Metrics struct {
	Runs         int64         `json:"runs"`
	Chunks       int64         `json:"chunks"`
	Items        int64         `json:"items"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	TotalElapsed time.Duration `json:"total_elapsed"`
	LastRun      *RunSnapshot  `json:"last_run,omitempty"`
}

// SuccessRate is the lifetime fraction of successful items, 0 when no items ran.
func (m Metrics) SuccessRate() float64 {
	if m.Items == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Items)
}

// record folds one finished call into the cumulative metrics.
func (p *Processor) record(successes, failures, chunks int, elapsed time.Duration) RunSnapshot {
	snap := RunSnapshot{
		Items:      successes + failures,
		Successes:  successes,
		Failures:   failures,
		Chunks:     chunks,
		Elapsed:    elapsed,
		FinishedAt: p.now(),
	}
	if snap.Items > 0 {
		snap.SuccessRate = float64(snap.Successes) / float64(snap.Items)
	}

	p.mu.Lock()
	p.metrics.Runs++
	p.metrics.Chunks += int64(chunks)
	p.metrics.Items += int64(snap.Items)
	p.metrics.Successes += int64(snap.Successes)
	p.metrics.Failures += int64(snap.Failures)
	p.metrics.TotalElapsed += elapsed
	last := snap
	p.metrics.LastRun = &last
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveRun(snap.Items, snap.Failures, elapsed)
	}
	p.log.Info("batch completed",
		zap.Int("items", snap.Items),
		zap.Int("chunks", chunks),
		zap.Int("failures", snap.Failures),
		zap.Float64("success_rate", snap.SuccessRate),
		zap.Duration("elapsed", elapsed))
	return snap
}

// Metrics returns a snapshot of the cumulative counters.
func (p *Processor) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.metrics
	if m.LastRun != nil {
		last := *m.LastRun
		m.LastRun = &last
	}
	return m
}

// ResetMetrics zeroes the cumulative counters.
func (p *Processor) ResetMetrics() {
	p.mu.Lock()
	p.metrics = Metrics{}
	p.mu.Unlock()
}
