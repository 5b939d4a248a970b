package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
)

func TestError_Error_Context(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Model:      "gpt-4o",
		Endpoint:   "https://api.openai.com/v1",
	}

	result := err.Error()
	for _, want := range []string{"endpoint", "HTTP 503", "model=gpt-4o", "endpoint=api.openai.com", "server error"} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in error message, got: %s", want, result)
		}
	}
	// Endpoint is reduced to its host.
	if strings.Contains(result, "/v1") {
		t.Errorf("endpoint should be host only, got: %s", result)
	}
}

func TestError_Error_WithCause(t *testing.T) {
	err := NewError(ErrorTypeUnknown, "llm error", false, errors.New("boom"))

	if got := err.Error(); got != "unknown llm error: boom" {
		t.Errorf("unexpected message: %s", got)
	}
	if !errors.Is(err, err.Cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if ClassifyError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	original := &Error{Type: ErrorTypeQuota, Message: "quota", Retryable: true}
	wrapped := fmt.Errorf("translate: %w", original)

	if result := ClassifyError(wrapped); result != original {
		t.Error("expected ClassifyError to return the wrapped *Error instance")
	}
}

func TestClassifyError_Text(t *testing.T) {
	tests := []struct {
		name      string
		errStr    string
		wantType  ErrorType
		retryable bool
	}{
		{"HTTP 429", "HTTP 429 Too Many Requests", ErrorTypeQuota, true},
		{"rate limit text", "rate limit exceeded", ErrorTypeQuota, true},
		{"too many requests", "too many requests", ErrorTypeQuota, true},
		{"resource exhausted", "rpc error: code = ResourceExhausted desc = Resource exhausted", ErrorTypeQuota, true},
		{"quota", "You exceeded your current quota", ErrorTypeQuota, true},
		{"anthropic overloaded", "anthropic api error type: overloaded_error", ErrorTypeQuota, true},
		{"unauthorized", "status 401 Unauthorized", ErrorTypeAuth, false},
		{"incorrect key", "Incorrect API key provided", ErrorTypeAuth, false},
		{"model missing", "The model `gpt-9` does not exist", ErrorTypeModel, false},
		{"endpoint missing", "status: 404 page missing", ErrorTypeEndpoint, false},
		{"connection refused", "dial tcp 127.0.0.1:8080: connection refused", ErrorTypeEndpoint, true},
		{"timeout", "i/o timeout", ErrorTypeEndpoint, true},
		{"server error", "HTTP 502 Bad Gateway", ErrorTypeEndpoint, true},
		{"unknown", "something odd happened", ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyError(errors.New(tt.errStr))
			if result.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, result.Type)
			}
			if result.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, result.Retryable)
			}
		})
	}
}

func TestClassifyError_ContextErrors(t *testing.T) {
	canceled := ClassifyError(context.Canceled)
	if canceled.Retryable {
		t.Error("context canceled should not be retryable")
	}
	if canceled.Message != "request cancelled" {
		t.Errorf("expected 'request cancelled', got %s", canceled.Message)
	}

	deadline := ClassifyError(fmt.Errorf("call: %w", context.DeadlineExceeded))
	if !deadline.Retryable || deadline.Message != "request timeout" {
		t.Errorf("expected retryable timeout, got %+v", deadline)
	}
}

func TestClassifyError_OpenAITypedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, ErrorTypeQuota},
		{"insufficient quota", &openai.APIError{HTTPStatusCode: 400, Code: "insufficient_quota", Message: "pay up"}, ErrorTypeQuota},
		{"auth", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, ErrorTypeAuth},
		{"model", &openai.APIError{HTTPStatusCode: 404, Code: "model_not_found", Message: "no model"}, ErrorTypeModel},
		{"server", &openai.APIError{HTTPStatusCode: 500, Message: "oops"}, ErrorTypeEndpoint},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad"}, ErrorTypeUnknown},
		{"request error 429", &openai.RequestError{HTTPStatusCode: 429, Err: errors.New("x")}, ErrorTypeQuota},
		{"request error 503", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("x")}, ErrorTypeEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyError(fmt.Errorf("wrapped: %w", tt.err))
			if result.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, result.Type)
			}
		})
	}
}

func TestClassifyError_AnthropicTypedErrors(t *testing.T) {
	tests := []struct {
		errType  string
		wantType ErrorType
	}{
		{"rate_limit_error", ErrorTypeQuota},
		{"overloaded_error", ErrorTypeQuota},
		{"authentication_error", ErrorTypeAuth},
		{"not_found_error", ErrorTypeModel},
		{"api_error", ErrorTypeEndpoint},
		{"invalid_request_error", ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.errType, func(t *testing.T) {
			err := &anthropic.APIError{Type: anthropic.ErrType(tt.errType), Message: "m"}
			if got := ClassifyError(err).Type; got != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, got)
			}
		})
	}
}

func TestExtractStatusCode_Precision(t *testing.T) {
	tests := []struct {
		name         string
		errStr       string
		expectedCode int
	}{
		{"HTTP prefix", "HTTP 503 Service Unavailable", 503},
		{"status prefix", "status 429 rate limited", 429},
		{"status colon", "status: 500", 500},
		{"code colon", "code: 504 timeout", 504},
		{"openai style", "error, status code: 429, status: 429 Too Many Requests", 429},
		{"no false positive - processed records", "processed 503 records", 0},
		{"no false positive - port number", "port 5432 connection failed", 0},
		{"no false positive - random number", "error after 429 seconds", 0},
		{"case insensitive status", "Status: 404 Not Found", 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractStatusCode(tt.errStr); got != tt.expectedCode {
				t.Errorf("extractStatusCode(%q) = %d, expected %d", tt.errStr, got, tt.expectedCode)
			}
		})
	}
}

func TestIsRetryableAndGetErrorType(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewError(ErrorTypeQuota, "quota", true, nil))

	if !IsRetryable(err) {
		t.Error("expected wrapped retryable error to be retryable")
	}
	if GetErrorType(err) != ErrorTypeQuota || !IsQuota(err) {
		t.Error("expected quota type")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if GetErrorType(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("plain errors are unknown")
	}
}
