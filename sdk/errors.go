package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrStreamDisconnected signals that the live event feed ended without a
// terminal event. It is not user-facing; the orchestrator reacts to it by
// falling back to polling exactly once.
var ErrStreamDisconnected = errors.New("stream disconnected")

type ErrorKind string

const (
	ErrorKindAuth             ErrorKind = "auth"
	ErrorKindRateLimit        ErrorKind = "rate_limit"
	ErrorKindModelUnavailable ErrorKind = "model_unavailable"
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindInvalidRequest   ErrorKind = "invalid_request"
)

// APIError is the single translation boundary for remote failures. Callers
// branch on Kind, never on raw status codes or message strings.
type APIError struct {
	StatusCode int
	Kind       ErrorKind
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status: %d (%s)", e.StatusCode, e.Kind)
}

// Retryable reports whether the error may clear on its own. Only transient
// service errors qualify; auth, rate limit and bad-model failures are
// terminal from this client's perspective.
func (e *APIError) Retryable() bool {
	return e.Kind == ErrorKindTransient
}

// Retryable classifies an arbitrary error from a client call. Transport
// failures count as transient; context cancellation never does.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrStreamDisconnected) {
		return false
	}
	// Anything else that reached us is a transport-level failure.
	return true
}

func classifyStatus(statusCode int, code string) ErrorKind {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorKindAuth
	case statusCode == 429:
		return ErrorKindRateLimit
	case strings.HasPrefix(code, "model"):
		return ErrorKindModelUnavailable
	case statusCode >= 500:
		return ErrorKindTransient
	default:
		return ErrorKindInvalidRequest
	}
}
