// Package errors defines the typed errors raised by the cache store and the
// embedding pipeline. Provider-specific failures are mapped to EmbeddingError.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// StoreError is raised by the cache store when the remote tier fails.
type StoreError struct {
	Op  string // get, set, delete, invalidate_tag, invalidate_pattern, clear
	Key string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s failed for key %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the transport error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps a transport failure for op on key.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// Code classifies an embedding failure.
type Code string

const (
	CodeRateLimit      Code = "RATE_LIMIT"
	CodeInvalidAPIKey  Code = "INVALID_API_KEY" // #nosec G101 -- error code, not a credential.
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeGeneric        Code = "GENERIC"
)

// EmbeddingError represents a failure of the embedding pipeline.
// It is raised immediately for input validation failures and after
// retry exhaustion for provider failures.
type EmbeddingError struct {
	Code       Code   `json:"code"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Provider != "" || e.Model != "" {
		msg += fmt.Sprintf(" (provider=%s, model=%s)", e.Provider, e.Model)
	}
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" code=%d", e.StatusCode)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code to surface to HTTP callers.
func (e *EmbeddingError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Code {
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeInvalidAPIKey:
		return http.StatusUnauthorized
	case CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether another attempt could succeed.
// Credential and request-shape failures are permanent.
func (e *EmbeddingError) Retryable() bool {
	switch e.Code {
	case CodeInvalidAPIKey, CodeInvalidRequest:
		return false
	default:
		return true
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *EmbeddingError {
	return &EmbeddingError{
		Code:       CodeRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewAuthenticationError creates an invalid credentials error (401).
func NewAuthenticationError(provider, model, message string) *EmbeddingError {
	return &EmbeddingError{
		Code:       CodeInvalidAPIKey,
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *EmbeddingError {
	return &EmbeddingError{
		Code:       CodeInvalidRequest,
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewGenericError creates an error for any other provider failure.
func NewGenericError(provider, model, message string, statusCode int) *EmbeddingError {
	return &EmbeddingError{
		Code:       CodeGeneric,
		StatusCode: statusCode,
		Message:    message,
		Provider:   provider,
		Model:      model,
	}
}

// NewValidationError creates an input validation error. No provider was called.
func NewValidationError(message string) *EmbeddingError {
	return &EmbeddingError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// FromHTTPStatus maps a provider HTTP status to an EmbeddingError.
// The original status is kept.
func FromHTTPStatus(provider, model string, statusCode int, message string) *EmbeddingError {
	var e *EmbeddingError
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e = NewAuthenticationError(provider, model, message)
	case http.StatusTooManyRequests:
		e = NewRateLimitError(provider, model, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e = NewInvalidRequestError(provider, model, message)
	default:
		return NewGenericError(provider, model, message, statusCode)
	}
	e.StatusCode = statusCode
	return e
}

// Classify translates any error into an EmbeddingError.
// Errors that are already typed are returned unchanged.
func Classify(err error, provider, model string) *EmbeddingError {
	if err == nil {
		return nil
	}
	var embErr *EmbeddingError
	if stderrors.As(err, &embErr) {
		return embErr
	}
	e := NewGenericError(provider, model, err.Error(), 0)
	e.Err = err
	return e
}

// IsRetryable reports whether err should be retried.
// Untyped errors (transport failures) are retryable.
func IsRetryable(err error) bool {
	var embErr *EmbeddingError
	if stderrors.As(err, &embErr) {
		return embErr.Retryable()
	}
	return err != nil
}

// IsStoreError reports whether err is a StoreError.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return stderrors.As(err, &storeErr)
}
