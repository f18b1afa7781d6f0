// Package apperr defines structured errors shared by the pipeline and
// the HTTP API. Every error carries a stable code, a category, and an
// optional recovery suggestion; HTTP handlers map codes to status codes
// and never leak internals to callers.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Category classifies the origin of an error.
type Category string

const (
	// ClientError indicates the error was caused by the caller (4xx).
	ClientError Category = "CLIENT_ERROR"
	// ServerError indicates the error was caused by this service (5xx).
	ServerError Category = "SERVER_ERROR"
	// ExternalError indicates an external dependency failed (DB, LLM, backup process).
	ExternalError Category = "EXTERNAL_ERROR"
)

// Code is a structured error code.
type Code string

const (
	// Client errors
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeMissingParameter Code = "MISSING_PARAMETER"
	CodeNotFound         Code = "RESOURCE_NOT_FOUND"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeConflict         Code = "CONFLICT"

	// Server errors
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeTimeout     Code = "TIMEOUT"

	// External errors
	CodeLLMError     Code = "LLM_ERROR"
	CodeDeferred     Code = "DEFERRED"
	CodeDataError    Code = "DATA_INTEGRITY"
	CodeProcessError Code = "EXTERNAL_PROCESS"
)

// Error is a structured error with category, code, and recovery suggestion.
type Error struct {
	Code       Code        `json:"code"`
	Category   Category    `json:"category"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
	wrapped    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// ToJSON converts the error to a JSON string.
func (e *Error) ToJSON() string {
	bytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":%q,"category":%q,"message":%q}`, e.Code, e.Category, e.Message)
	}
	return string(bytes)
}

// HTTPStatus maps the error code to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput, CodeMissingParameter:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable, CodeDeferred:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new structured error.
func New(code Code, category Category, message string) *Error {
	return &Error{Code: code, Category: category, Message: message}
}

// Wrap attaches a cause to the error without exposing it in the message.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

// WithDetails adds structured details to the error.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// NewInvalidInput creates an invalid input error.
func NewInvalidInput(message string) *Error {
	return New(CodeInvalidInput, ClientError, message).
		WithSuggestion("Check the input parameters and try again")
}

// NewMissingParameter creates a missing parameter error.
func NewMissingParameter(param string) *Error {
	return New(CodeMissingParameter, ClientError, fmt.Sprintf("Required parameter '%s' is missing", param)).
		WithSuggestion(fmt.Sprintf("Provide the '%s' parameter", param))
}

// NewNotFound creates a resource not found error.
func NewNotFound(resourceType, id string) *Error {
	return New(CodeNotFound, ClientError, fmt.Sprintf("%s with ID '%s' not found", resourceType, id)).
		WithSuggestion("Verify the ID and try again")
}

// NewUnauthorized creates an unauthorized error.
func NewUnauthorized() *Error {
	return New(CodeUnauthorized, ClientError, "Authentication required or credentials invalid")
}

// NewForbidden creates a forbidden error.
func NewForbidden() *Error {
	return New(CodeForbidden, ClientError, "Access forbidden")
}

// NewInternal creates an internal server error.
func NewInternal(message string) *Error {
	return New(CodeInternal, ServerError, message).
		WithSuggestion("Try again later or check the service logs")
}

// NewUnavailable creates a service unavailable error.
func NewUnavailable(message string) *Error {
	return New(CodeUnavailable, ServerError, message).
		WithSuggestion("Try again in a few moments")
}

// NewTimeout creates a timeout error.
func NewTimeout(operation string) *Error {
	return New(CodeTimeout, ServerError, fmt.Sprintf("Operation '%s' timed out", operation)).
		WithSuggestion("Try again or adjust timeout settings")
}

// NewDeferred marks pipeline work that failed transiently and will be
// retried on the next tick. The batch or window is not consumed.
func NewDeferred(stage string, err error) *Error {
	return New(CodeDeferred, ExternalError, fmt.Sprintf("%s deferred after retries", stage)).
		Wrap(err).
		WithSuggestion("The pipeline retries deferred work on its next tick")
}

// NewLLMError creates an LLM backend error.
func NewLLMError(message string) *Error {
	return New(CodeLLMError, ExternalError, message).
		WithSuggestion("Check the AI configuration and backend status")
}

// NewDataError flags a data integrity problem (missing expected row,
// cascade failure). Fatal for the operation, logged with context.
func NewDataError(message string) *Error {
	return New(CodeDataError, ExternalError, message)
}

// NewProcessError creates an external-process error (backup).
func NewProcessError(message string) *Error {
	return New(CodeProcessError, ExternalError, message)
}

// IsDeferred reports whether err is (or wraps) a deferred pipeline error.
func IsDeferred(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeDeferred
}

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeNotFound
}
