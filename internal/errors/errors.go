// FilePath: server/meterhub/internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Error types
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypePayloadTooLarge ErrorType = "payload_too_large"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeUnavailable     ErrorType = "service_unavailable"
)

// APIError represents a structured API error
type APIError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Details   any       `json:"details,omitempty"`
	err       error     // Internal error for logging
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the internal error to errors.Is / errors.As
func (e *APIError) Unwrap() error {
	return e.err
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(id string) *APIError {
	e.RequestID = id
	return e
}

// WithDetails adds additional details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

func newError(t ErrorType, code int, msg string, err error) *APIError {
	return &APIError{
		Type:    t,
		Message: msg,
		Code:    code,
		err:     err,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string, err error) *APIError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, msg, err)
}

// NewDatabaseError creates a new database error
func NewDatabaseError(msg string, err error) *APIError {
	return newError(ErrorTypeDatabase, http.StatusInternalServerError, msg, err)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(msg string, err error) *APIError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, msg, err)
}

// NewConflictError reports a request that is valid but out of order for the
// current protocol state (late ack, upload for a token that is not ACKED).
func NewConflictError(msg string, err error) *APIError {
	return newError(ErrorTypeConflict, http.StatusConflict, msg, err)
}

// NewPayloadTooLargeError creates a new payload too large error
func NewPayloadTooLargeError(msg string, err error) *APIError {
	return newError(ErrorTypePayloadTooLarge, http.StatusRequestEntityTooLarge, msg, err)
}

// NewInternalError creates a new internal server error
func NewInternalError(msg string, err error) *APIError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, msg, err)
}

// NewUnavailableError creates a new service unavailable error
func NewUnavailableError(msg string, err error) *APIError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, msg, err)
}

// IsNotFound checks if an error is a NotFound error
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a Validation error
func IsValidation(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// AsAPIError returns err as an *APIError, wrapping unknown errors as internal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError("unexpected error", err)
}

func isType(err error, t ErrorType) bool {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Type == t
	}
	return false
}
