package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docmeta/internal/batch"
	"docmeta/internal/domain"
	"docmeta/internal/logger"
	"docmeta/internal/port"
	"docmeta/internal/resilience"
	"docmeta/internal/validator"
)

// ExtractionService defines the extraction pipeline contract.
type ExtractionService interface {
	Run(ctx context.Context, input *RunInput) (*Run, error)
	GetRun(id uuid.UUID) (*Run, error)
	ListRuns() []*Run
	ValidateOnly(docType string, extracted map[string]domain.FieldValue) *Evaluation
	Status() Status
}

// Dependencies wires an ExtractionService. Breakers are only reported by
// Status; the extractor is expected to route calls through them already.
type Dependencies struct {
	Storage   port.ObjectStorage
	Extractor port.DocumentExtractor
	Rules     *validator.Loader
	Validator *validator.Validator
	Adjuster  *validator.ConfidenceAdjuster
	Batch     *batch.AdaptiveProcessor

	// StorageRetry guards downloads, listings and write-backs; AIRetry
	// guards categorize and extract calls.
	StorageRetry *resilience.RetryManager
	AIRetry      *resilience.RetryManager
	Breakers     []*resilience.CircuitBreaker

	DefaultBucket string
	RunHistory    int
}

type extractionService struct {
	deps Dependencies
	runs *runRegistry
	log  *zap.Logger
}

// NewExtractionService creates a new ExtractionService implementation.
func NewExtractionService(deps Dependencies) ExtractionService {
	if deps.Validator == nil {
		deps.Validator = validator.New(nil)
	}
	if deps.Adjuster == nil {
		deps.Adjuster = validator.NewConfidenceAdjuster(validator.DefaultThresholds(),
			validator.DefaultFailurePenalty, validator.DefaultConfidence)
	}
	if deps.StorageRetry == nil {
		deps.StorageRetry = resilience.NewRetryManager("storage", resilience.DefaultRetryPolicy())
	}
	if deps.AIRetry == nil {
		deps.AIRetry = resilience.NewRetryManager("ai", resilience.DefaultRetryPolicy())
	}
	return &extractionService{
		deps: deps,
		runs: newRunRegistry(deps.RunHistory),
		log:  logger.Named("extraction"),
	}
}

func (s *extractionService) Run(ctx context.Context, input *RunInput) (*Run, error) {
	rc, err := s.runContext(input)
	if err != nil {
		return nil, err
	}

	keys, err := s.resolveKeys(ctx, rc.Bucket, input)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:           uuid.New(),
		Bucket:       rc.Bucket,
		DocumentType: rc.DocumentType,
		StartedAt:    time.Now().UTC(),
	}
	s.log.Info("run started",
		zap.String("run_id", run.ID.String()),
		zap.String("bucket", rc.Bucket),
		zap.Int("items", len(keys)),
		zap.String("document_type", rc.DocumentType),
		zap.Bool("write_back", rc.WriteBack))

	results := batch.ProcessAdaptive(ctx, s.deps.Batch, keys, func(ctx context.Context, key string) (*ItemResult, error) {
		return s.processItem(ctx, rc, key)
	}, rc.batchOptions()...)

	run.Items = make([]ItemResult, len(results))
	for _, r := range results {
		if r.Err != nil {
			run.Items[r.Index] = ItemResult{Key: r.Item, Status: domain.ItemStatusFailed, Error: r.Err.Error()}
			continue
		}
		run.Items[r.Index] = *r.Value
	}
	run.FinishedAt = time.Now().UTC()
	run.Summary, run.Status = summarize(run.Items)
	s.runs.add(run)

	s.log.Info("run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("completed", run.Summary.Completed),
		zap.Int("failed", run.Summary.Failed),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return run, nil
}

func (s *extractionService) runContext(input *RunInput) (RunContext, error) {
	if input == nil {
		return RunContext{}, fmt.Errorf("%w: run input is required", domain.ErrInvalidInput)
	}
	bucket := input.Bucket
	if bucket == "" {
		bucket = s.deps.DefaultBucket
	}
	if bucket == "" {
		return RunContext{}, fmt.Errorf("%w: bucket is required", domain.ErrInvalidInput)
	}
	if len(input.Keys) == 0 && input.Prefix == "" {
		return RunContext{}, fmt.Errorf("%w: keys or prefix is required", domain.ErrInvalidInput)
	}
	return RunContext{
		Bucket:       bucket,
		DocumentType: strings.TrimSpace(input.DocumentType),
		Model:        input.Model,
		Categories:   s.deps.Rules.DocumentTypes(),
		WriteBack:    input.WriteBack,
		BatchSize:    input.BatchSize,
		MaxWorkers:   input.MaxWorkers,
		Timeout:      input.Timeout,
	}, nil
}

func (s *extractionService) resolveKeys(ctx context.Context, bucket string, input *RunInput) ([]string, error) {
	var keys []string
	if len(input.Keys) > 0 {
		for _, k := range input.Keys {
			if k = strings.TrimSpace(k); isSourceKey(k) {
				keys = append(keys, k)
			}
		}
	} else {
		objects, err := resilience.Call(ctx, s.deps.StorageRetry, func(ctx context.Context) ([]port.ObjectInfo, error) {
			return s.deps.Storage.List(ctx, bucket, input.Prefix)
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s/%s: %w", bucket, input.Prefix, err)
		}
		for _, obj := range objects {
			if isSourceKey(obj.Key) {
				keys = append(keys, obj.Key)
			}
		}
	}
	if len(keys) == 0 {
		return nil, domain.ErrNoItems
	}
	return keys, nil
}

// processItem is the unit of work for one file: download, categorize when
// no document type was given, extract, validate, adjust and optionally
// write the metadata document back next to the source.
func (s *extractionService) processItem(ctx context.Context, rc RunContext, key string) (*ItemResult, error) {
	log := s.log.With(zap.String("key", key))

	data, err := resilience.Call(ctx, s.deps.StorageRetry, func(ctx context.Context) ([]byte, error) {
		return s.deps.Storage.Download(ctx, rc.Bucket, key)
	})
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}
	contentType := contentTypeFor(key, data)
	fileName := key[strings.LastIndex(key, "/")+1:]

	result := &ItemResult{Key: key}
	docType := rc.DocumentType
	if rc.categorize() {
		cat, err := resilience.Call(ctx, s.deps.AIRetry, func(ctx context.Context) (*port.CategorizeOutput, error) {
			return s.deps.Extractor.Categorize(ctx, port.CategorizeInput{
				FileBytes:   data,
				ContentType: contentType,
				FileName:    fileName,
				Categories:  rc.Categories,
				Model:       rc.Model,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("categorizing: %w", err)
		}
		docType = cat.DocumentType
		confidence := cat.Confidence
		result.CategoryConfidence = &confidence
		log.Debug("categorized", zap.String("document_type", docType), zap.Float64("confidence", confidence))
	}
	if docType == "" {
		docType = validator.DefaultDocumentType
	}

	rules := s.deps.Rules.RulesFor(docType)
	extracted, err := resilience.Call(ctx, s.deps.AIRetry, func(ctx context.Context) (*port.ExtractOutput, error) {
		return s.deps.Extractor.Extract(ctx, port.ExtractInput{
			FileBytes:    data,
			ContentType:  contentType,
			FileName:     fileName,
			DocumentType: docType,
			Fields:       rules.FieldKeys(),
			Model:        rc.Model,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("extracting: %w", err)
	}
	fields, err := domain.ParseExtracted(extracted.Fields)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	result.ModelUsed = extracted.ModelUsed
	result.Evaluation = s.evaluate(docType, rules, fields)
	result.Status = domain.ItemStatusCompleted

	if rc.WriteBack {
		metaKey, err := s.writeBack(ctx, rc.Bucket, result)
		if err != nil {
			return nil, fmt.Errorf("writing metadata: %w", err)
		}
		result.MetadataKey = metaKey
	}

	log.Info("item processed",
		zap.String("document_type", docType),
		zap.String("overall", string(result.Overall.Status)),
		zap.Int("fields", len(fields)))
	return result, nil
}

func (s *extractionService) evaluate(docType string, rules validator.RuleSet, fields map[string]domain.FieldValue) *Evaluation {
	out := s.deps.Validator.Validate(fields, rules, docType)
	records := s.deps.Adjuster.AdjustConfidence(fields, out)
	return &Evaluation{
		DocumentType:  docType,
		Fields:        fields,
		Validation:    out,
		Confidence:    records,
		FieldStatuses: validator.ComputeFieldStatuses(out, records),
		Overall:       s.deps.Adjuster.OverallStatus(records, out),
	}
}

// metadataDocument is what gets written next to each processed file.
type metadataDocument struct {
	SourceKey   string    `json:"source_key"`
	ModelUsed   string    `json:"model_used"`
	ProcessedAt time.Time `json:"processed_at"`
	*Evaluation
}

func (s *extractionService) writeBack(ctx context.Context, bucket string, item *ItemResult) (string, error) {
	body, err := json.MarshalIndent(metadataDocument{
		SourceKey:   item.Key,
		ModelUsed:   item.ModelUsed,
		ProcessedAt: time.Now().UTC(),
		Evaluation:  item.Evaluation,
	}, "", "  ")
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("encoding metadata: %w", err))
	}

	key := MetadataKey(item.Key)
	_, err = resilience.Call(ctx, s.deps.StorageRetry, func(ctx context.Context) (*port.UploadOutput, error) {
		return s.deps.Storage.Upload(ctx, port.UploadInput{
			Bucket:      bucket,
			Key:         key,
			Body:        bytes.NewReader(body),
			ContentType: "application/json",
			Size:        int64(len(body)),
		})
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *extractionService) GetRun(id uuid.UUID) (*Run, error) {
	return s.runs.get(id)
}

func (s *extractionService) ListRuns() []*Run {
	return s.runs.list()
}

// ValidateOnly runs validation and confidence adjustment over already
// extracted values, without touching storage or the remote service.
func (s *extractionService) ValidateOnly(docType string, extracted map[string]domain.FieldValue) *Evaluation {
	if docType == "" {
		docType = validator.DefaultDocumentType
	}
	if extracted == nil {
		extracted = map[string]domain.FieldValue{}
	}
	return s.evaluate(docType, s.deps.Rules.RulesFor(docType), extracted)
}

// Status is a point-in-time view of the resilience and batch layers.
type Status struct {
	Breakers       []resilience.CircuitMetrics      `json:"breakers"`
	Retries        map[string]resilience.RetryStats `json:"retries"`
	Batch          batch.Metrics                    `json:"batch"`
	CurrentWorkers int                              `json:"current_workers"`
	History        []batch.HistoryEntry             `json:"history"`
	Running        bool                             `json:"running"`
	RulesSource    string                           `json:"rules_source"`
	DocumentTypes  []string                         `json:"document_types"`
	Runs           int                              `json:"runs"`
}

func (s *extractionService) Status() Status {
	st := Status{
		Retries: map[string]resilience.RetryStats{
			"storage": s.deps.StorageRetry.Stats(),
			"ai":      s.deps.AIRetry.Stats(),
		},
		Batch:          s.deps.Batch.Processor().Metrics(),
		CurrentWorkers: s.deps.Batch.CurrentWorkers(),
		History:        s.deps.Batch.History(),
		Running:        s.deps.Batch.Processor().Running(),
		RulesSource:    s.deps.Rules.Source(),
		DocumentTypes:  s.deps.Rules.DocumentTypes(),
		Runs:           len(s.runs.list()),
	}
	for _, cb := range s.deps.Breakers {
		st.Breakers = append(st.Breakers, cb.Metrics())
	}
	return st
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
