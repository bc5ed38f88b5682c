package errors

import (
	"testing"
)

func TestFromStatusCodeClassification(t *testing.T) {
	var rl *RateLimitError
	if err := FromStatusCode("openai", 429, "too many requests", nil); !As(err, &rl) {
		t.Errorf("429 should classify as RateLimitError, got %T", err)
	}

	var srv *ServerError
	if err := FromStatusCode("openai", 503, "service unavailable", nil); !As(err, &srv) {
		t.Errorf("503 should classify as ServerError, got %T", err)
	}

	var region *RegionBlockedError
	if err := FromStatusCode("gemini", 403, "this region is not supported", nil); !As(err, &region) {
		t.Errorf("403 with region text should classify as RegionBlockedError, got %T", err)
	}

	var pe *ProviderError
	err := FromStatusCode("anthropic", 400, "bad request", nil)
	if !As(err, &pe) {
		t.Fatalf("400 should classify as plain ProviderError, got %T", err)
	}
	if pe.Retryable {
		t.Error("400 must not be retryable")
	}
}

func TestForbiddenWithoutRegionTextIsNotRegionBlocked(t *testing.T) {
	var region *RegionBlockedError
	err := FromStatusCode("openai", 403, "invalid api key", nil)
	if As(err, &region) {
		t.Error("plain 403 must not classify as region blocked")
	}
	if IsRetryable(err) {
		t.Error("plain 403 must not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{FromStatusCode("p", 429, "slow down", nil), true},
		{FromStatusCode("p", 500, "boom", nil), true},
		{FromStatusCode("p", 599, "edge", nil), true},
		{FromStatusCode("p", 400, "nope", nil), false},
		{FromStatusCode("p", 403, "region blocked here", nil), false},
		{New("rate limit exceeded"), true},
		{New("Too Many Requests"), true},
		{New("server is overloaded right now"), true},
		{New("file not found"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryAfterHintThroughEmbedding(t *testing.T) {
	hint := 12.5
	err := FromStatusCode("p", 429, "slow down", &hint)
	got, ok := RetryAfterHint(err)
	if !ok || got != 12.5 {
		t.Errorf("RetryAfterHint = (%v, %v), want (12.5, true)", got, ok)
	}

	err = FromStatusCode("p", 503, "busy", &hint)
	if got, ok := RetryAfterHint(err); !ok || got != 12.5 {
		t.Errorf("ServerError hint = (%v, %v), want (12.5, true)", got, ok)
	}

	if _, ok := RetryAfterHint(FromStatusCode("p", 429, "slow down", nil)); ok {
		t.Error("missing hint must report ok=false")
	}
	if _, ok := RetryAfterHint(New("plain error")); ok {
		t.Error("plain error must carry no hint")
	}
}

func TestWrapfPreservesCause(t *testing.T) {
	base := FromStatusCode("p", 429, "slow down", nil)
	wrapped := Wrapf(base, "request failed")
	if !IsRetryable(wrapped) {
		t.Error("wrapping must preserve retryability")
	}
	var rl *RateLimitError
	if !As(wrapped, &rl) {
		t.Error("wrapping must preserve the concrete type")
	}
}
