// Package errors defines the service error type shared by services and the
// HTTP layer. A ServiceError carries a stable code, the HTTP status it maps to
// and optional structured details.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeSlotUnavailable   ErrorCode = "SLOT_UNAVAILABLE"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type returned by application services.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns e with key set in its details map.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New builds a ServiceError.
func New(code ErrorCode, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: cause}
}

// InvalidInput reports a validation failure.
func InvalidInput(format string, args ...any) *ServiceError {
	return New(CodeInvalidInput, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *ServiceError {
	return New(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %s not found", resource, id), nil).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a credential that failed verification.
func InvalidToken(cause error) *ServiceError {
	return New(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", cause)
}

// Forbidden reports an authenticated caller acting outside its rights.
func Forbidden(format string, args ...any) *ServiceError {
	return New(CodeForbidden, http.StatusForbidden, fmt.Sprintf(format, args...), nil)
}

// Conflict reports a uniqueness or concurrent modification failure.
func Conflict(format string, args ...any) *ServiceError {
	return New(CodeConflict, http.StatusConflict, fmt.Sprintf(format, args...), nil)
}

// SlotUnavailable reports an overlapping appointment for the requested slot.
func SlotUnavailable(vetID string, cause error) *ServiceError {
	return New(CodeSlotUnavailable, http.StatusConflict, "requested time slot is not available", cause).
		WithDetails("vet_id", vetID)
}

// InvalidTransition reports a scheduling status change that is not allowed.
func InvalidTransition(from, to string) *ServiceError {
	return New(CodeInvalidTransition, http.StatusConflict, fmt.Sprintf("cannot move appointment from %s to %s", from, to), nil).
		WithDetails("from", from).
		WithDetails("to", to)
}

// InsufficientStock reports a stock adjustment that would go negative.
func InsufficientStock(productID string, available int) *ServiceError {
	return New(CodeInsufficientStock, http.StatusConflict, "insufficient stock", nil).
		WithDetails("product_id", productID).
		WithDetails("available", available)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimitExceeded, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Unavailable reports a dependency that cannot be reached.
func Unavailable(message string, cause error) *ServiceError {
	return New(CodeUnavailable, http.StatusServiceUnavailable, message, cause)
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return New(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// Is and As are re-exported so callers importing this package under the name
// "errors" keep access to the standard helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

// As mirrors errors.As.
func As(err error, target any) bool { return errors.As(err, target) }
