package parser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docmeta/internal/parser"
	"docmeta/internal/port"
	"docmeta/internal/resilience"
	"docmeta/mocks"
)

var breakerCfg = resilience.CircuitBreakerConfig{
	FailureThreshold: 1,
	RecoveryTimeout:  time.Hour,
	HalfOpenMaxCalls: 1,
}

func categorizeInput() port.CategorizeInput {
	return port.CategorizeInput{FileBytes: []byte("x"), ContentType: "application/pdf", Categories: []string{"Invoice"}}
}

func newFallback(extractors ...*mocks.MockDocumentExtractor) *parser.FallbackExtractor {
	names := []string{"claude", "openai", "third"}
	providers := make([]parser.Provider, len(extractors))
	for i, e := range extractors {
		providers[i] = parser.Provider{Name: names[i], Extractor: e}
	}
	return parser.NewFallbackExtractor(providers, breakerCfg)
}

func TestFallbackExtractor_FirstSucceeds(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(&port.CategorizeOutput{DocumentType: "Invoice", ModelUsed: "claude"}, nil)

	out, err := newFallback(p1, p2).Categorize(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "claude", out.ModelUsed)
	p2.AssertNotCalled(t, "Categorize", mock.Anything, mock.Anything)
}

func TestFallbackExtractor_FirstFails_SecondSucceeds(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := port.ExtractInput{FileBytes: []byte("x"), ContentType: "application/pdf", DocumentType: "Invoice"}
	p1.On("Extract", mock.Anything, input).Return(nil, parser.NewRateLimitError("claude", errors.New("429"), 10))
	p2.On("Extract", mock.Anything, input).Return(&port.ExtractOutput{ModelUsed: "openai"}, nil)

	out, err := newFallback(p1, p2).Extract(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "openai", out.ModelUsed)
}

func TestFallbackExtractor_AllFail_KeepsLastKind(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(nil, errors.New("generic"))
	p2.On("Categorize", mock.Anything, input).Return(nil, &parser.StatusError{Provider: "openai", StatusCode: 503})

	_, err := newFallback(p1, p2).Categorize(context.Background(), input)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed to categorize")
	assert.Equal(t, resilience.KindServer, resilience.Classify(err))
}

func TestFallbackExtractor_SkipsOpenBreaker(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(nil, errors.New("down")).Once()
	p2.On("Categorize", mock.Anything, input).Return(&port.CategorizeOutput{ModelUsed: "openai"}, nil)

	fb := newFallback(p1, p2)
	_, err := fb.Categorize(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, resilience.StateOpen, fb.Breakers()[0].State())

	_, err = fb.Categorize(context.Background(), input)
	require.NoError(t, err)
	p1.AssertNumberOfCalls(t, "Categorize", 1)
	p2.AssertNumberOfCalls(t, "Categorize", 2)
}

func TestFallbackExtractor_AllOpenReturnsRejection(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(nil, errors.New("down")).Once()

	fb := newFallback(p1)
	_, err := fb.Categorize(context.Background(), input)
	require.Error(t, err)

	_, err = fb.Categorize(context.Background(), input)
	require.Error(t, err)
	assert.True(t, resilience.IsCircuitOpen(err))
	p1.AssertNumberOfCalls(t, "Categorize", 1)
}

func TestFallbackExtractor_CanceledStopsChain(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(nil, context.Canceled)

	_, err := newFallback(p1, p2).Categorize(context.Background(), input)

	assert.ErrorIs(t, err, context.Canceled)
	p2.AssertNotCalled(t, "Categorize", mock.Anything, mock.Anything)
}

func TestFallbackExtractor_NoProviders(t *testing.T) {
	_, err := parser.NewFallbackExtractor(nil, breakerCfg).Categorize(context.Background(), categorizeInput())
	assert.ErrorContains(t, err, "no providers configured")
}

func newTolerantFallback(extractors ...*mocks.MockDocumentExtractor) *parser.FallbackExtractor {
	names := []string{"claude", "openai"}
	providers := make([]parser.Provider, len(extractors))
	for i, e := range extractors {
		providers[i] = parser.Provider{Name: names[i], Extractor: e}
	}
	return parser.NewFallbackExtractor(providers, resilience.CircuitBreakerConfig{
		FailureThreshold: 100,
		RecoveryTimeout:  time.Hour,
		HalfOpenMaxCalls: 1,
	})
}

func throttled(provider string, after time.Duration) *parser.RateLimitError {
	return &parser.RateLimitError{Provider: provider, Err: errors.New("429"), RetryAfter: after}
}

func TestFallbackExtractor_SkipsProviderUntilRetryAfter(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(nil, throttled("claude", time.Hour))
	p2.On("Categorize", mock.Anything, input).Return(&port.CategorizeOutput{DocumentType: "Invoice", ModelUsed: "openai"}, nil)

	fb := newTolerantFallback(p1, p2)
	for range 3 {
		out, err := fb.Categorize(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, "openai", out.ModelUsed)
	}

	p1.AssertNumberOfCalls(t, "Categorize", 1)
	p2.AssertNumberOfCalls(t, "Categorize", 3)
	assert.Equal(t, resilience.StateClosed, fb.Breakers()[0].State())
}

func TestFallbackExtractor_AllRateLimitedReturnsEarliestReset(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	p2 := new(mocks.MockDocumentExtractor)
	input := port.ExtractInput{FileBytes: []byte("x"), ContentType: "application/pdf", DocumentType: "Invoice"}
	p1.On("Extract", mock.Anything, input).Return(nil, throttled("claude", time.Hour))
	p2.On("Extract", mock.Anything, input).Return(nil, throttled("openai", 2*time.Minute))

	fb := newTolerantFallback(p1, p2)
	_, err := fb.Extract(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed to extract")

	_, err = fb.Extract(context.Background(), input)
	require.Error(t, err)
	var rl *parser.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "all", rl.Provider)
	assert.LessOrEqual(t, rl.RetryAfter, 2*time.Minute)
	assert.Greater(t, rl.RetryAfter, time.Minute)
	assert.Equal(t, resilience.KindRateLimited, resilience.Classify(err))
	assert.Equal(t, rl.RetryAfter, resilience.RetryAfterHint(err))

	p1.AssertNumberOfCalls(t, "Extract", 1)
	p2.AssertNumberOfCalls(t, "Extract", 1)
}

func TestFallbackExtractor_ProviderReturnsAfterRetryAfterExpires(t *testing.T) {
	p1 := new(mocks.MockDocumentExtractor)
	input := categorizeInput()
	p1.On("Categorize", mock.Anything, input).Return(nil, throttled("claude", 200*time.Millisecond)).Once()
	p1.On("Categorize", mock.Anything, input).Return(&port.CategorizeOutput{DocumentType: "Invoice", ModelUsed: "claude"}, nil)

	fb := newTolerantFallback(p1)
	_, err := fb.Categorize(context.Background(), input)
	require.Error(t, err)

	_, err = fb.Categorize(context.Background(), input)
	var rl *parser.RateLimitError
	require.ErrorAs(t, err, &rl)
	p1.AssertNumberOfCalls(t, "Categorize", 1)

	time.Sleep(250 * time.Millisecond)

	out, err := fb.Categorize(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "claude", out.ModelUsed)
	p1.AssertNumberOfCalls(t, "Categorize", 2)
}
