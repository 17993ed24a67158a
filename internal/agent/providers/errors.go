package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/devanshuguptaa/Converge-AI/internal/agent"
)

// Reason categorizes why a provider request failed.
type Reason string

const (
	ReasonBilling          Reason = "billing"
	ReasonRateLimit        Reason = "rate_limit"
	ReasonAuth             Reason = "auth"
	ReasonTimeout          Reason = "timeout"
	ReasonServerError      Reason = "server_error"
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonContentFilter    Reason = "content_filter"
	ReasonCancelled        Reason = "cancelled"
	ReasonUnknown          Reason = "unknown"
)

// IsRetryable reports whether another attempt may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ClassifyError inspects an error message and returns the matching Reason.
func ClassifyError(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "timeout", "deadline exceeded", "etimedout", "connection reset", "eof"):
		return ReasonTimeout
	case containsAny(errStr, "rate limit", "rate_limit", "too many requests", "429", "throttl", "resource exhausted", "overloaded"):
		return ReasonRateLimit
	case containsAny(errStr, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return ReasonAuth
	case containsAny(errStr, "billing", "payment", "quota", "insufficient", "402"):
		return ReasonBilling
	case containsAny(errStr, "content_filter", "content policy", "safety", "blocked"):
		return ReasonContentFilter
	case containsAny(errStr, "model not found", "model_not_found", "does not exist"):
		return ReasonModelUnavailable
	case containsAny(errStr, "internal server", "server error", "unavailable", "500", "502", "503", "504", "529"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// classifyStatusCode returns a Reason based on an HTTP status code.
func classifyStatusCode(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyErrorCode returns a Reason based on provider-specific error codes.
func classifyErrorCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "throttlingexception", "toomanyrequestsexception", "resource_exhausted":
		return ReasonRateLimit
	case "overloaded_error", "server_error", "internal_error", "api_error", "serviceunavailableexception", "internalserverexception", "modelnotreadyexception", "unavailable":
		return ReasonServerError
	case "authentication_error", "permission_error", "invalid_api_key", "accessdeniedexception", "unauthenticated", "permission_denied":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "not_found_error", "model_not_found", "model_not_available", "resourcenotfoundexception":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "invalid_request_error", "validationexception", "invalid_argument":
		return ReasonInvalidRequest
	case "modeltimeoutexception", "deadline_exceeded":
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}

// classify combines the status, the provider code and the error text. A
// known code wins over the status; the status wins over the text.
func classify(status int, code string, cause error) Reason {
	if errors.Is(cause, context.Canceled) {
		return ReasonCancelled
	}
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		return reason
	}
	if status != 0 {
		if reason := classifyStatusCode(status); reason != ReasonUnknown {
			return reason
		}
	}
	return ClassifyError(cause)
}

// newEngineError wraps a provider failure for the agent loop.
func newEngineError(provider string, status int, code string, cause error) *agent.EngineError {
	return &agent.EngineError{
		Provider:  provider,
		Status:    status,
		Transient: classify(status, code, cause).IsRetryable(),
		Cause:     cause,
	}
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var ee *agent.EngineError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return ClassifyError(err).IsRetryable()
}

// errEmptyResponse is reported when a provider returns no usable content.
var errEmptyResponse = errors.New("empty response")
