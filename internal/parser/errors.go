package parser

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"docmeta/internal/resilience"
)

// RateLimitError indicates a provider returned HTTP 429.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
	Provider   string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func (e *RateLimitError) Kind() resilience.ErrorKind { return resilience.KindRateLimited }

// RetryAfterHint implements resilience.RetryAfterHinter.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// NewRateLimitError creates a RateLimitError. If retryAfterSecs is 0, defaults to 60s.
func NewRateLimitError(provider string, err error, retryAfterSecs int) *RateLimitError {
	if retryAfterSecs <= 0 {
		retryAfterSecs = 60
	}
	return &RateLimitError{
		Err:        err,
		RetryAfter: time.Duration(retryAfterSecs) * time.Second,
		Provider:   provider,
	}
}

// StatusError is a non-2xx response other than 429. 5xx responses are
// transient; everything else is a client error and is never retried.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, truncate(e.Body, 500))
}

func (e *StatusError) Kind() resilience.ErrorKind {
	if e.StatusCode >= 500 {
		return resilience.KindServer
	}
	return resilience.KindClient
}

// MalformedError is a successful response whose payload could not be decoded.
type MalformedError struct {
	Provider string
	Err      error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s returned a malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Kind() resilience.ErrorKind { return resilience.KindMalformed }

// CheckResponse converts a non-200 response into a typed error.
func CheckResponse(provider string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	statusErr := &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
		return NewRateLimitError(provider, statusErr, retryAfter)
	}
	return statusErr
}

// ParseRetryAfterHeader parses a Retry-After header value into seconds.
// Returns 0 if the value is empty or not a valid integer.
func ParseRetryAfterHeader(val string) int {
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return secs
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
