package stt

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		msg    string
		want   ErrorKind
	}{
		{"payment required", 402, "", ErrorQuota},
		{"unauthorized", 401, "Incorrect API key provided", ErrorAuth},
		{"forbidden with quota body", 403, "Quota exceeded for project", ErrorQuota},
		{"rate limited", 429, "Rate limit reached for requests", ErrorTransient},
		{"429 quota", 429, "You exceeded your current quota, please check your plan and billing details", ErrorQuota},
		{"gemini resource exhausted", 429, "RESOURCE_EXHAUSTED: Quota exceeded for metric", ErrorQuota},
		{"request timeout", 408, "", ErrorTransient},
		{"server error", 500, "internal", ErrorTransient},
		{"bad gateway", 502, "", ErrorTransient},
		{"overloaded", 503, "The model is overloaded", ErrorTransient},
		{"gateway timeout", 504, "", ErrorTransient},
		{"bad request", 400, "Invalid file format", ErrorUnknown},
		{"bad request mentioning api key", 400, "API key not valid. Please pass a valid API key.", ErrorAuth},
		{"ok status", 200, "", ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.status, tt.msg); got != tt.want {
				t.Errorf("ClassifyStatus(%d, %q) = %s, want %s", tt.status, tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"", ErrorUnknown},
		{"insufficient_quota", ErrorQuota},
		{"Your credit balance is too low", ErrorQuota},
		{"invalid_api_key", ErrorAuth},
		{"PERMISSION_DENIED: caller lacks permission", ErrorAuth},
		{"dial tcp: connection refused", ErrorTransient},
		{"unexpected EOF", ErrorTransient},
		{"something odd happened", ErrorUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyMessage(tt.msg); got != tt.want {
			t.Errorf("ClassifyMessage(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	pe := &ProviderError{Provider: "groq", Kind: ErrorQuota, Err: errors.New("x")}

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorUnknown},
		{"provider error", pe, ErrorQuota},
		{"wrapped provider error", fmt.Errorf("attempt 2: %w", pe), ErrorQuota},
		{"deadline", fmt.Errorf("send request: %w", context.DeadlineExceeded), ErrorTransient},
		{"plain", errors.New("boom"), ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWrapErrorKeepsProviderError(t *testing.T) {
	pe := &ProviderError{Provider: "openai", Kind: ErrorAuth, StatusCode: 401, Err: errors.New("bad key")}
	got := wrapError("gemini", fmt.Errorf("outer: %w", pe))
	if got != pe {
		t.Fatalf("wrapError should return the inner *ProviderError, got %v", got)
	}
	if got.Provider != "openai" {
		t.Errorf("provider = %s, want openai", got.Provider)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := newProviderError("gemini", 429, "slow down")
	want := "stt: gemini: transient (status 429): slow down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
