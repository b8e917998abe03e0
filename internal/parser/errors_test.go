package parser_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docmeta/internal/parser"
	"docmeta/internal/resilience"
)

func TestNewRateLimitError_DefaultRetryAfter(t *testing.T) {
	err := parser.NewRateLimitError("claude", errors.New("429"), 0)
	assert.Equal(t, 60*time.Second, err.RetryAfter)
	assert.Equal(t, resilience.KindRateLimited, resilience.Classify(err))
	assert.Contains(t, err.Error(), "claude rate limited")
	assert.Equal(t, 60*time.Second, resilience.RetryAfterHint(fmt.Errorf("extract: %w", err)))
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		want   resilience.ErrorKind
	}{
		{"ok", http.StatusOK, "", ""},
		{"rate limited", http.StatusTooManyRequests, "12", resilience.KindRateLimited},
		{"server", http.StatusBadGateway, "", resilience.KindServer},
		{"client", http.StatusBadRequest, "", resilience.KindClient},
		{"unauthorized", http.StatusUnauthorized, "", resilience.KindClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			err := parser.CheckResponse("openai", resp, []byte("body"))
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, resilience.Classify(err))
		})
	}
}

func TestCheckResponse_RetryAfterHeader(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"7"}}}
	err := parser.CheckResponse("claude", resp, nil)

	var rl *parser.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	var se *parser.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 0, parser.ParseRetryAfterHeader(""))
	assert.Equal(t, 0, parser.ParseRetryAfterHeader("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, 30, parser.ParseRetryAfterHeader("30"))
}

func TestMalformedError_NotRetryable(t *testing.T) {
	err := &parser.MalformedError{Provider: "claude", Err: errors.New("bad json")}
	assert.False(t, resilience.IsRetryable(resilience.Classify(err)))
	assert.Contains(t, err.Error(), "malformed")
}
