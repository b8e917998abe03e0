package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"docmeta/internal/resilience"
)

// Metrics holds the collectors for breakers, retries and batch runs.
type Metrics struct {
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec
	BatchRuns          prometheus.Counter
	BatchItems         *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	BatchWorkers       prometheus.Gauge
}

// New registers the collectors with reg. A nil reg creates unregistered
// collectors, which tests use to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docmeta_circuit_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		}, []string{"breaker", "to"}),
		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_retry_attempts_total",
			Help: "Total number of retries scheduled after a failed attempt",
		}, []string{"retry"}),
		BatchRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "docmeta_batch_runs_total",
			Help: "Total number of batch runs completed",
		}),
		BatchItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docmeta_batch_items_total",
			Help: "Total number of batch items processed by outcome",
		}, []string{"outcome"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docmeta_batch_run_duration_seconds",
			Help:    "Wall-clock duration of batch runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		BatchWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "docmeta_batch_workers",
			Help: "Current worker count chosen by the adaptive processor",
		}),
	}
}

// ObserveRun implements batch.Observer.
func (m *Metrics) ObserveRun(items, failures int, elapsed time.Duration) {
	m.BatchRuns.Inc()
	m.BatchItems.WithLabelValues("success").Add(float64(items - failures))
	m.BatchItems.WithLabelValues("failure").Add(float64(failures))
	m.BatchDuration.Observe(elapsed.Seconds())
}

// ObserveWorkers implements batch.Observer.
func (m *Metrics) ObserveWorkers(n int) {
	m.BatchWorkers.Set(float64(n))
}

// BreakerHook returns a state-change hook for resilience.WithStateChangeHook.
func (m *Metrics) BreakerHook() func(name string, from, to resilience.CircuitState) {
	return func(name string, _, to resilience.CircuitState) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		m.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
	}
}

// RetryHook returns a hook for resilience.WithRetryHook.
func (m *Metrics) RetryHook(name string) func(attempt int, delay time.Duration, err error) {
	counter := m.RetryAttempts.WithLabelValues(name)
	return func(int, time.Duration, error) {
		counter.Inc()
	}
}
