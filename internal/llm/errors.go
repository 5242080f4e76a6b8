package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// UpstreamError is what the Gateway returns once every attempt for a role
// has failed. Transient reports whether the last failure was retryable,
// i.e. the caller may try the whole operation again later.
type UpstreamError struct {
	Role      string
	Model     string
	Attempts  int
	Transient bool
	Err       error
}

func (e *UpstreamError) Error() string {
	kind := "upstream"
	if e.Transient {
		kind = "transient upstream"
	}
	return fmt.Sprintf("%s error for role %s (model %s) after %d attempt(s): %v",
		kind, e.Role, e.Model, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an UpstreamError marked transient.
func IsTransient(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up) && up.Transient
}

// isRetryable checks if the error suggests retrying or trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}
