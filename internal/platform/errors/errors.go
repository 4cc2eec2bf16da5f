// Package errors provides the closed error taxonomy of the service:
// structured errors with a type tag, HTTP status mapping, contextual fields,
// and troubleshooting hints carried as associated data.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType is the category of an error, used for metrics and response
// formatting.
type ErrorType string

const (
	// TypeValidation indicates rejected input (HTTP 400).
	TypeValidation ErrorType = "validation"
	// TypeRateLimited indicates sliding-window denial (HTTP 429).
	TypeRateLimited ErrorType = "rate_limited"
	// TypeConflict indicates the session's single job slot is occupied (HTTP 409).
	TypeConflict ErrorType = "conflict"
	// TypeNotFound indicates an absent or expired resource (HTTP 404).
	TypeNotFound ErrorType = "not_found"
	// TypeInternal indicates a server-side failure (HTTP 500).
	TypeInternal ErrorType = "internal"
	// TypeExternal indicates a failure of the inference collaborator (HTTP 502).
	TypeExternal ErrorType = "external"
)

// Error is a structured error with type, message, hint, and context.
type Error struct {
	Type       ErrorType
	Message    string
	Hint       string
	Cause      error
	RetryAfter time.Duration
	Context    map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeConflict:
		return http.StatusConflict
	case TypeNotFound:
		return http.StatusNotFound
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message, Context: make(map[string]any)}
}

// RateLimitedError creates a rate-limit denial carrying the retry-after
// duration (HTTP 429).
func RateLimitedError(message string, retryAfter time.Duration) *Error {
	return &Error{
		Type:       TypeRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
		Hint:       "Wait before submitting more uploads.",
		Context:    make(map[string]any),
	}
}

// ConflictError creates a conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return &Error{Type: TypeConflict, Message: message, Context: make(map[string]any)}
}

// NotFoundError creates a not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message, Context: make(map[string]any)}
}

// InternalError creates an internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ExternalError creates an external collaborator error (HTTP 502).
func ExternalError(message string, cause error) *Error {
	return &Error{Type: TypeExternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// WithHint attaches troubleshooting text (chainable).
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithField adds a context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON structure sent to clients.
type ErrorResponse struct {
	Error             string         `json:"error"`
	Type              ErrorType      `json:"type"`
	Hint              string         `json:"hint,omitempty"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to its JSON representation.
func (e *Error) ToResponse() ErrorResponse {
	resp := ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Hint:    e.Hint,
		Context: e.Context,
	}
	if e.RetryAfter > 0 {
		secs := int(e.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		resp.RetryAfterSeconds = secs
	}
	return resp
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, it is returned unchanged; otherwise it is
// wrapped as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}
