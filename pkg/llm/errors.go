package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeNone     ErrorType = ""
	ErrorTypeQuota    ErrorType = "quota" // rate limit, exhausted quota, overloaded provider
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
	Model      string    // Model name if known
	Endpoint   string    // Endpoint URL if known
}

// Error implements the error interface. The endpoint is reduced to its host.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", endpointHost(e.Endpoint)))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

// ClassifyError categorizes an error and returns a structured Error.
// Typed provider errors are inspected first; anything else falls back to
// matching on the error text.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if classified := classifyProviderError(err); classified != nil {
		return classified
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	// The caller went away; retrying on its behalf is pointless.
	if errors.Is(err, context.Canceled) || strings.Contains(lower, "context canceled") {
		return NewError(ErrorTypeEndpoint, "request cancelled", false, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeEndpoint, "request timeout", true, err)
	}

	statusCode := extractStatusCode(errStr)

	classified := func(t ErrorType, msg string, retryable bool) *Error {
		e := NewError(t, msg, retryable, err)
		e.StatusCode = statusCode
		return e
	}

	switch {
	case statusCode == 429 || strings.Contains(lower, "too many requests") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "quota") || strings.Contains(lower, "resource exhausted") ||
		strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "overloaded"):
		return classified(ErrorTypeQuota, "quota or rate limit exceeded", true)

	case statusCode == 401 || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "incorrect api key"):
		return classified(ErrorTypeAuth, "authentication failed", false)

	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")):
		return classified(ErrorTypeModel, "model not found", false)

	case statusCode == 404:
		return classified(ErrorTypeEndpoint, "endpoint not found", false)

	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return classified(ErrorTypeEndpoint, "connection failed", true)

	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return classified(ErrorTypeEndpoint, "request timeout", true)

	case statusCode >= 500:
		return classified(ErrorTypeEndpoint, "server error", true)
	}

	return classified(ErrorTypeUnknown, "llm error", false)
}

// classifyProviderError handles the typed errors returned by the SDKs.
// Returns nil when err is not one of them.
func classifyProviderError(err error) *Error {
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		code := fmt.Sprint(oaiErr.Code)
		switch {
		case oaiErr.HTTPStatusCode == 429, code == "insufficient_quota", oaiErr.Type == "insufficient_quota":
			return withStatus(NewError(ErrorTypeQuota, "quota or rate limit exceeded", true, err), oaiErr.HTTPStatusCode)
		case oaiErr.HTTPStatusCode == 401 || oaiErr.HTTPStatusCode == 403:
			return withStatus(NewError(ErrorTypeAuth, "authentication failed", false, err), oaiErr.HTTPStatusCode)
		case code == "model_not_found":
			return withStatus(NewError(ErrorTypeModel, "model not found", false, err), oaiErr.HTTPStatusCode)
		case oaiErr.HTTPStatusCode >= 500:
			return withStatus(NewError(ErrorTypeEndpoint, "server error", true, err), oaiErr.HTTPStatusCode)
		}
		return withStatus(NewError(ErrorTypeUnknown, "llm error", false, err), oaiErr.HTTPStatusCode)
	}

	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		switch {
		case oaiReqErr.HTTPStatusCode == 429:
			return withStatus(NewError(ErrorTypeQuota, "quota or rate limit exceeded", true, err), 429)
		case oaiReqErr.HTTPStatusCode == 404:
			return withStatus(NewError(ErrorTypeEndpoint, "endpoint not found", false, err), 404)
		case oaiReqErr.HTTPStatusCode >= 500:
			return withStatus(NewError(ErrorTypeEndpoint, "server error", true, err), oaiReqErr.HTTPStatusCode)
		}
		return nil
	}

	var anthErr *anthropic.APIError
	if errors.As(err, &anthErr) {
		switch string(anthErr.Type) {
		case "rate_limit_error", "overloaded_error":
			return NewError(ErrorTypeQuota, "quota or rate limit exceeded", true, err)
		case "authentication_error", "permission_error":
			return NewError(ErrorTypeAuth, "authentication failed", false, err)
		case "not_found_error":
			return NewError(ErrorTypeModel, "model not found", false, err)
		case "api_error":
			return NewError(ErrorTypeEndpoint, "server error", true, err)
		}
		return NewError(ErrorTypeUnknown, "llm error", false, err)
	}

	return nil
}

var statusCodePattern = regexp.MustCompile(`(?i)\b(?:http|status|code)\s*:?\s*([1-5]\d{2})\b`)

// extractStatusCode finds an HTTP status that is labelled as one, so numbers
// like row counts or ports are not mistaken for it.
func extractStatusCode(errStr string) int {
	m := statusCodePattern.FindStringSubmatch(errStr)
	if len(m) < 2 {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

func withStatus(e *Error, status int) *Error {
	e.StatusCode = status
	return e
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// IsQuota reports whether the provider refused the call for quota or rate reasons.
func IsQuota(err error) bool {
	return GetErrorType(err) == ErrorTypeQuota
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
