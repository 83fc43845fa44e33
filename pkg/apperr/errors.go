// Package apperr provides the structured error taxonomy shared by every
// tier of the cache core: a tier absorbs or surfaces an error based on its
// Code, never on string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes — the kinds enumerated in the error handling design, not names.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeAlreadyInitialized  = "ALREADY_INITIALIZED"
	CodeNotInitialized      = "NOT_INITIALIZED"
	CodeFull                = "FULL"
	CodeTimeout             = "TIMEOUT"
	CodeRemoteUnavailable   = "REMOTE_UNAVAILABLE"
	CodeStorageError        = "STORAGE_ERROR"
	CodeInvalidFormat       = "INVALID_FORMAT"
	CodeSchemaTooNew        = "SCHEMA_TOO_NEW"
	CodeLowConfidence       = "LOW_CONFIDENCE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// AppError is a structured application error: a stable Code a caller can
// switch on, a human Message, the HTTP Status it maps to, and an optional
// wrapped cause.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code this error maps to.
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Is allows errors.Is(err, apperr.ErrNotFound) style checks by code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// InvalidInput — missing text, invalid language code, out-of-range confidence.
func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// NotFound — entry absent or expired (also the outcome of a cache miss).
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// AlreadyInitialized — lifecycle misuse: double-init of a store/coordinator.
func AlreadyInitialized(component string) *AppError {
	return &AppError{
		Code:    CodeAlreadyInitialized,
		Message: fmt.Sprintf("%s already initialized", component),
		Status:  http.StatusConflict,
	}
}

// NotInitialized — lifecycle misuse: use before init.
func NotInitialized(component string) *AppError {
	return &AppError{
		Code:    CodeNotInitialized,
		Message: fmt.Sprintf("%s not initialized", component),
		Status:  http.StatusInternalServerError,
	}
}

// Full — L1 capacity reached and eviction disabled or batch failed.
func Full(component string) *AppError {
	return &AppError{
		Code:    CodeFull,
		Message: fmt.Sprintf("%s is full", component),
		Status:  http.StatusServiceUnavailable,
	}
}

// Timeout — deadline exceeded at any tier.
func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusServiceUnavailable,
	}
}

// RemoteUnavailable — connection pool exhausted or all connections retired.
func RemoteUnavailable(reason string, err error) *AppError {
	return &AppError{
		Code:    CodeRemoteUnavailable,
		Message: fmt.Sprintf("remote cache unavailable: %s", reason),
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// StorageError — disk I/O failure in the durable store.
func StorageError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStorageError,
		Message: fmt.Sprintf("storage error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// InvalidFormat — magic/version/length mismatch in a batch file or wire value.
func InvalidFormat(reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidFormat,
		Message: fmt.Sprintf("invalid format: %s", reason),
		Status:  http.StatusInternalServerError,
	}
}

// SchemaTooNew — durable store has a version unknown to this binary.
func SchemaTooNew(stored, current int) *AppError {
	return &AppError{
		Code:    CodeSchemaTooNew,
		Message: fmt.Sprintf("durable store schema v%d is newer than supported v%d", stored, current),
		Status:  http.StatusInternalServerError,
		Details: map[string]any{"stored_version": stored, "code_version": current},
	}
}

// LowConfidence — LDE result below the caller's minimum confidence.
func LowConfidence(confidence, threshold float64) *AppError {
	return &AppError{
		Code:    CodeLowConfidence,
		Message: fmt.Sprintf("detection confidence %.2f below threshold %.2f", confidence, threshold),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"confidence": confidence, "threshold": threshold},
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{Code: CodeInternalError, Message: message, Status: http.StatusInternalServerError}
}

func InternalWithError(err error) *AppError {
	return &AppError{Code: CodeInternalError, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// Common error instances usable with errors.Is.
var (
	ErrNotFound          = NotFound("entry")
	ErrFull              = Full("entry store")
	ErrRemoteUnavailable = RemoteUnavailable("pool exhausted", nil)
	ErrSchemaTooNew      = &AppError{Code: CodeSchemaTooNew}
	ErrLowConfidence     = &AppError{Code: CodeLowConfidence}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
