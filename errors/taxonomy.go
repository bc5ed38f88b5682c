package errors

import (
	"fmt"
	"strings"
)

// ProviderError is the base type for failures reported by a model backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	// RetryAfter is the provider-supplied backoff hint in seconds, when the
	// response carried one. Nil means no hint.
	RetryAfter *float64
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// RateLimitError is returned on HTTP 429 and rate-limit signatures.
type RateLimitError struct{ ProviderError }

// ServerError is returned on HTTP 5xx.
type ServerError struct{ ProviderError }

// RegionBlockedError terminates the session outright: the provider refuses
// to serve this region and no retry or fallback can change that.
type RegionBlockedError struct{ ProviderError }

// MalformedResponseError marks a streamed payload that could not be repaired.
// Adapters tag tool calls with it instead of failing the stream.
type MalformedResponseError struct {
	Detail string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed provider response: %s", e.Detail)
}

// CompressionInProgressError rejects a structural history rewrite requested
// while another one holds the session guard.
type CompressionInProgressError struct{}

func (e *CompressionInProgressError) Error() string {
	return "compression already in progress for this session"
}

// ErrCompressionSkipped signals that compression found no safe work to do.
// Callers proceed with the uncompressed history.
var ErrCompressionSkipped = New("compression skipped: not enough conversation to compress")

// FromStatusCode classifies an HTTP response status into the taxonomy.
func FromStatusCode(provider string, status int, message string, retryAfter *float64) error {
	pe := ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		RetryAfter: retryAfter,
	}
	switch {
	case status == 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case status == 403 && looksRegionBlocked(message):
		return &RegionBlockedError{ProviderError: pe}
	case status >= 500 && status <= 599:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		return &pe
	}
}

// IsRetryable reports whether the error is safe to retry: classified 429/5xx
// errors and unclassified errors carrying a rate-limit signature.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var region *RegionBlockedError
	if As(err, &region) {
		return false
	}
	var rl *RateLimitError
	if As(err, &rl) {
		return true
	}
	var srv *ServerError
	if As(err, &srv) {
		return true
	}
	var pe *ProviderError
	if As(err, &pe) {
		return pe.Retryable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "overloaded")
}

// RetryAfterHint extracts a provider backoff hint in seconds, if the error
// carries one.
func RetryAfterHint(err error) (float64, bool) {
	// errors.As does not see through struct embedding, so each concrete
	// taxonomy type is checked explicitly.
	var rl *RateLimitError
	if As(err, &rl) && rl.RetryAfter != nil {
		return *rl.RetryAfter, true
	}
	var srv *ServerError
	if As(err, &srv) && srv.RetryAfter != nil {
		return *srv.RetryAfter, true
	}
	var pe *ProviderError
	if As(err, &pe) && pe.RetryAfter != nil {
		return *pe.RetryAfter, true
	}
	return 0, false
}

func looksRegionBlocked(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "region") &&
		(strings.Contains(msg, "not supported") || strings.Contains(msg, "blocked") || strings.Contains(msg, "unavailable"))
}
