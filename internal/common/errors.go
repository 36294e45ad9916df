package common

import (
	"errors"
	"net/http"
)

// Error codes shared across the API surface. Validation and stock errors are
// recoverable by the caller; timeout and persistence errors are surfaced
// verbatim for operator visibility and never retried by the engine itself.
const (
	CodeValidation         = "VALIDATION"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeInvalidState       = "INVALID_STATE"
	CodeConcurrencyTimeout = "CONCURRENCY_TIMEOUT"
	CodePersistence        = "PERSISTENCE"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
)

// AppError carries an error code, a caller-facing message and the HTTP status
// the handler layer should respond with.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NewValidation reports malformed input. Validation happens before any lock
// is taken, so a validation failure has no side effects.
func NewValidation(message string, details any) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details}
}

// NewInsufficientStock names every product that failed the stock check, not
// just the first one.
func NewInsufficientStock(productIDs []string) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "insufficient stock",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"productIds": productIDs},
	}
}

// NewInvalidState reports an illegal state transition, e.g. canceling a sale
// that is not finalized.
func NewInvalidState(message string) *AppError {
	return &AppError{Code: CodeInvalidState, Message: message, HTTPStatus: http.StatusConflict}
}

// NewConcurrencyTimeout wraps a lock-wait timeout. No mutation occurred, so
// the operation is safely retryable by the caller.
func NewConcurrencyTimeout(err error) *AppError {
	return &AppError{Code: CodeConcurrencyTimeout, Message: "lock wait timed out, retry the operation", HTTPStatus: http.StatusServiceUnavailable, Err: err}
}

// NewPersistence wraps a storage failure. The store's own transaction
// guarantees rolled everything back; no transaction id was durably created.
func NewPersistence(err error) *AppError {
	return &AppError{Code: CodePersistence, Message: "storage failure", HTTPStatus: http.StatusInternalServerError, Err: err}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// WriteError renders err through the canonical error body, mapping AppError
// codes and statuses and falling back to a 500 for anything untyped.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}
