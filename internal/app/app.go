// Package app assembles the extraction pipeline from configuration. Both
// the HTTP server and the command-line tool build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"docmeta/internal/batch"
	"docmeta/internal/config"
	"docmeta/internal/logger"
	"docmeta/internal/metrics"
	"docmeta/internal/parser"
	"docmeta/internal/port"
	"docmeta/internal/resilience"
	"docmeta/internal/service"
	s3storage "docmeta/internal/storage/s3"
	"docmeta/internal/validator"

	// Register AI providers with the parser factory.
	_ "docmeta/internal/parser/claude"
	_ "docmeta/internal/parser/gemini"
	_ "docmeta/internal/parser/openai"
)

// ErrExtractorUnavailable is reported by the readiness check when every
// provider's circuit is open.
var ErrExtractorUnavailable = errors.New("all extraction providers are unavailable")

// App holds the wired components.
type App struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	Storage   port.ObjectStorage
	Rules     *validator.Loader
	Adjuster  *validator.ConfidenceAdjuster
	Extractor *parser.FallbackExtractor
	Batch     *batch.AdaptiveProcessor
	Service   service.ExtractionService
}

// NewStorage creates the S3 client from cfg.
func NewStorage(ctx context.Context, cfg *config.Config) (port.ObjectStorage, error) {
	storage, err := s3storage.NewS3Client(ctx, &cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	return storage, nil
}

// NewRules loads the configured rule source. A source that cannot be read
// leaves the loader empty, so every document falls back to no rules.
func NewRules(ctx context.Context, cfg *config.Config, storage port.ObjectStorage) *validator.Loader {
	return validator.NewLoader(ctx, cfg.Validation.RulesSource, storage)
}

// NewAdjuster creates the confidence adjuster from the validation settings.
func NewAdjuster(cfg *config.Config) *validator.ConfidenceAdjuster {
	return validator.NewConfidenceAdjuster(validator.Thresholds{
		High:   cfg.Validation.HighThreshold,
		Medium: cfg.Validation.MediumThreshold,
	}, cfg.Validation.FailurePenalty, cfg.Validation.DefaultConfidence)
}

// New wires storage, rules, AI providers, resilience and batching into an
// ExtractionService. Metrics are registered with reg; nil leaves them
// unregistered.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	log := logger.Named("app")
	m := metrics.New(reg)

	storage, err := NewStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rules := NewRules(ctx, cfg, storage)

	extractor, err := newExtractor(cfg, m)
	if err != nil {
		return nil, err
	}

	breakerCfg := circuitConfig(cfg.Circuit)
	storageBreaker := resilience.NewCircuitBreaker("storage", breakerCfg,
		resilience.WithStateChangeHook(m.BreakerHook()))
	policy := retryPolicy(cfg.Retry)
	storageRetry := resilience.NewRetryManager("storage", policy,
		resilience.WithCircuitBreaker(storageBreaker),
		resilience.WithRetryHook(m.RetryHook("storage")))
	aiRetry := resilience.NewRetryManager("ai", policy,
		resilience.WithRetryHook(m.RetryHook("ai")))

	proc := batch.NewProcessor(batch.Config{
		BatchSize:    cfg.Batch.Size,
		MaxWorkers:   cfg.Batch.MaxWorkers,
		Timeout:      cfg.Batch.Timeout,
		ThrottleRate: cfg.Batch.ThrottleRate,
	}, batch.WithObserver(m))
	adaptive := batch.NewAdaptiveProcessor(proc, batch.AdaptiveConfig{
		MinWorkers:         cfg.Batch.MinWorkers,
		MaxWorkers:         cfg.Batch.MaxWorkers,
		InitialWorkers:     cfg.Batch.InitialWorkers,
		TargetSuccessRate:  cfg.Batch.TargetSuccessRate,
		AdaptationInterval: cfg.Batch.AdaptationInterval,
	})

	adjuster := NewAdjuster(cfg)
	breakers := append([]*resilience.CircuitBreaker{storageBreaker}, extractor.Breakers()...)
	svc := service.NewExtractionService(service.Dependencies{
		Storage:       storage,
		Extractor:     extractor,
		Rules:         rules,
		Validator:     validator.New(nil),
		Adjuster:      adjuster,
		Batch:         adaptive,
		StorageRetry:  storageRetry,
		AIRetry:       aiRetry,
		Breakers:      breakers,
		DefaultBucket: cfg.S3.Bucket,
		RunHistory:    service.DefaultRunHistory,
	})

	log.Info("pipeline ready",
		zap.String("bucket", cfg.S3.Bucket),
		zap.String("rules_source", rules.Source()),
		zap.Strings("document_types", rules.DocumentTypes()),
		zap.Int("providers", len(extractor.Breakers())))

	return &App{
		Config:    cfg,
		Metrics:   m,
		Storage:   storage,
		Rules:     rules,
		Adjuster:  adjuster,
		Extractor: extractor,
		Batch:     adaptive,
		Service:   svc,
	}, nil
}

// StopRuns asks runs in progress to stop before their next chunk. Items
// already dispatched still finish.
func (a *App) StopRuns() {
	a.Batch.Processor().Stop()
}

// ExtractorReady fails when every provider breaker is open.
func (a *App) ExtractorReady(context.Context) error {
	for _, cb := range a.Extractor.Breakers() {
		if cb.State() != resilience.StateOpen {
			return nil
		}
	}
	return ErrExtractorUnavailable
}

func newExtractor(cfg *config.Config, m *metrics.Metrics) (*parser.FallbackExtractor, error) {
	primary, err := parser.NewExtractor(&cfg.Parser.Primary)
	if err != nil {
		return nil, fmt.Errorf("primary parser: %w", err)
	}
	providers := []parser.Provider{{Name: cfg.Parser.Primary.Provider, Extractor: primary}}

	fallbacks := []struct {
		slot string
		cfg  *config.ParserProviderConfig
	}{
		{"secondary", cfg.Parser.SecondaryConfig()},
		{"tertiary", cfg.Parser.TertiaryConfig()},
	}
	for _, fb := range fallbacks {
		if fb.cfg == nil {
			continue
		}
		ext, err := parser.NewExtractor(fb.cfg)
		if err != nil {
			return nil, fmt.Errorf("%s parser: %w", fb.slot, err)
		}
		providers = append(providers, parser.Provider{Name: fb.cfg.Provider, Extractor: ext})
	}

	return parser.NewFallbackExtractor(providers, circuitConfig(cfg.Circuit),
		resilience.WithStateChangeHook(m.BreakerHook())), nil
}

func circuitConfig(c config.CircuitConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
		HalfOpenMaxCalls: c.HalfOpenMaxCalls,
	}
}

func retryPolicy(c config.RetryConfig) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:     c.MaxRetries,
		BaseDelay:      c.BaseDelay,
		MaxDelay:       c.MaxDelay,
		BackoffFactor:  c.BackoffFactor,
		JitterFraction: c.JitterFraction,
	}
}
