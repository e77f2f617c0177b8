package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	ollama "github.com/ollama/ollama/api"
	"google.golang.org/genai"
)

type assertErr string

func anthropicStatusErr(code int) *anthropic.Error {
	return &anthropic.Error{
		StatusCode: code,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: code},
	}
}

func (e assertErr) Error() string { return string(e) }

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want Class
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ClassTimeout},
		{name: "timeout text", err: assertErr("request timed out"), want: ClassTimeout},
		{name: "rate limit text", err: assertErr("Rate limit exceeded, slow down"), want: ClassRateLimit},
		{name: "auth text", err: assertErr("authentication failed"), want: ClassAuth},
		{name: "quota text", err: assertErr("You exceeded your current quota"), want: ClassQuota},
		{name: "generic", err: assertErr("connection refused"), want: ClassGeneric},
		{name: "anthropic 401", err: anthropicStatusErr(401), want: ClassAuth},
		{name: "anthropic 402", err: anthropicStatusErr(402), want: ClassQuota},
		{name: "ollama 403", err: ollama.StatusError{StatusCode: 403, ErrorMessage: "forbidden"}, want: ClassAuth},
		{name: "gemini 429", err: genai.APIError{Code: 429, Message: "slow down", Status: "UNAVAILABLE"}, want: ClassRateLimit},
		{name: "gemini 429 quota", err: genai.APIError{Code: 429, Message: "Quota exceeded", Status: "RESOURCE_EXHAUSTED"}, want: ClassQuota},
		{name: "wrapped gateway error", err: fmt.Errorf("round 1: %w", &Error{Class: ClassEmpty}), want: ClassEmpty},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassRetryable(t *testing.T) {
	retryable := map[Class]bool{
		ClassTimeout: true, ClassRateLimit: true, ClassEmpty: true, ClassGeneric: true,
		ClassAuth: false, ClassQuota: false, ClassInput: false, ClassCancelled: false,
	}
	for class, want := range retryable {
		if class.Retryable() != want {
			t.Fatalf("%s retryable = %v, want %v", class, class.Retryable(), want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := &Error{Class: ClassGeneric, Message: "failed", Err: base}
	if !errors.Is(err, base) {
		t.Fatal("expected Unwrap to expose root cause")
	}
}
