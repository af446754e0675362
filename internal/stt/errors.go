package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind drives the orchestrator's retry policy.
type ErrorKind string

const (
	// ErrorTransient: rate limits, overload, timeouts. Retry the same provider.
	ErrorTransient ErrorKind = "transient"
	// ErrorQuota: allowance or billing exhausted. Move to the next provider.
	ErrorQuota ErrorKind = "quota"
	// ErrorAuth: bad or missing credentials. Move to the next provider.
	ErrorAuth ErrorKind = "auth"
	// ErrorUnknown: anything else. One retry, then move on.
	ErrorUnknown ErrorKind = "unknown"
)

// ProviderError is the error every adapter returns.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("stt: %s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("stt: %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// newProviderError classifies an HTTP failure.
func newProviderError(provider string, status int, msg string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       ClassifyStatus(status, msg),
		StatusCode: status,
		Err:        errors.New(msg),
	}
}

// wrapError classifies a transport-level error (no HTTP status).
func wrapError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Kind: KindOf(err), Err: err}
}

// ClassifyStatus maps an HTTP status and error body to a kind.
// The body decides between quota and rate limit on 429, since Gemini and
// OpenAI both use 429 for "slow down" and for "allowance exhausted".
func ClassifyStatus(status int, msg string) ErrorKind {
	switch {
	case status == 402:
		return ErrorQuota
	case status == 401 || status == 403:
		if IsQuotaMessage(msg) {
			return ErrorQuota
		}
		return ErrorAuth
	case status == 429:
		if IsQuotaMessage(msg) {
			return ErrorQuota
		}
		return ErrorTransient
	case status == 408 || status == 500 || status == 502 || status == 503 || status == 504:
		return ErrorTransient
	case status >= 200 && status < 300:
		return ErrorUnknown
	}
	return ClassifyMessage(msg)
}

// ClassifyMessage maps an error message to a kind.
func ClassifyMessage(msg string) ErrorKind {
	switch {
	case msg == "":
		return ErrorUnknown
	case IsQuotaMessage(msg):
		return ErrorQuota
	case IsAuthMessage(msg):
		return ErrorAuth
	case IsTransientMessage(msg):
		return ErrorTransient
	}
	return ErrorUnknown
}

// KindOf classifies any error. Context deadlines and network timeouts are
// transient; a *ProviderError keeps its own kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTransient
	}
	return ClassifyMessage(err.Error())
}

// IsQuotaMessage checks for exhausted allowance or billing problems.
func IsQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "payment required") ||
		strings.Contains(lower, "credit balance")
}

// IsAuthMessage checks for credential failures.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid_api_key") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "api key not valid") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "permission_denied") ||
		strings.Contains(lower, "unauthenticated")
}

// IsTransientMessage checks for rate limits, overload and timeouts.
func IsTransientMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "capacity") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "unexpected eof")
}
