// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes following domain-driven design
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule           = "BUSINESS_RULE_VIOLATION"
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Transaction lifecycle errors
	CodeTransactionState     = "TRANSACTION_STATE"
	CodeUnknownSavepoint     = "UNKNOWN_SAVEPOINT"
	CodeCommitPartialFailure = "COMMIT_PARTIAL_FAILURE"

	// Dispatch errors
	CodeNoHandler = "NO_HANDLER"

	// Availability gate (503, retryable later)
	CodeSalesDisabled = "SALES_DISABLED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"
)

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewInsufficientStock creates a stock shortage error
func NewInsufficientStock(productID string, requested, available float64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another user. Please refresh and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewTransactionState creates error for an operation invoked in the wrong
// transaction state (begin on active, commit without active, etc.)
func NewTransactionState(operation, state string) *AppError {
	return &AppError{
		Code:       CodeTransactionState,
		Message:    fmt.Sprintf("cannot %s in state %s", operation, state),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"operation": operation, "state": state},
	}
}

// NewUnknownSavepoint creates error for rollback/release of a savepoint
// that was never created in the current transaction
func NewUnknownSavepoint(name string) *AppError {
	return &AppError{
		Code:       CodeUnknownSavepoint,
		Message:    fmt.Sprintf("savepoint %q does not exist in this transaction", name),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"savepoint": name},
	}
}

// NewCommitPartialFailure creates error for commits where the storage write
// became durable but a post-commit step (cache invalidation, event handoff)
// failed. Distinct from pre-commit failures: reconciliation may be required.
func NewCommitPartialFailure(stage string, err error) *AppError {
	return &AppError{
		Code:       CodeCommitPartialFailure,
		Message:    "Transaction committed but post-commit coordination failed",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"failed_stage": stage},
		Err:        err,
	}
}

// NewNoHandler creates error for a dispatch with no registered handler
func NewNoHandler(requestType string) *AppError {
	return &AppError{
		Code:       CodeNoHandler,
		Message:    fmt.Sprintf("no handler registered for %s", requestType),
		HTTPStatus: http.StatusNotImplemented,
		Details:    map[string]any{"request_type": requestType},
	}
}

// NewSalesDisabled creates the availability-gate refusal for a protected
// operation class. This is a business-visible condition, retryable once the
// cache recovers or an operator forces the gate open.
func NewSalesDisabled(class string, staleFor, threshold time.Duration) *AppError {
	return &AppError{
		Code:       CodeSalesDisabled,
		Message:    fmt.Sprintf("operation class %q is temporarily disabled: cache data is stale", class),
		HTTPStatus: http.StatusServiceUnavailable,
		Details: map[string]any{
			"class":     class,
			"stale_for": staleFor.String(),
			"threshold": threshold.String(),
		},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode checks whether err carries the given apperror code
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}

// IsCommitPartialFailure checks if error is CodeCommitPartialFailure
func IsCommitPartialFailure(err error) bool {
	return HasCode(err, CodeCommitPartialFailure)
}

// IsSalesDisabled checks if error is CodeSalesDisabled
func IsSalesDisabled(err error) bool {
	return HasCode(err, CodeSalesDisabled)
}
