package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes for the daemon
const (
	// General errors
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeBadRequest   = "BAD_REQUEST"

	// Adapter errors
	ErrCodeAdapterUnregistered = "ADAPTER_UNREGISTERED"
	ErrCodeAdapterUnreachable  = "ADAPTER_UNREACHABLE"

	// Job errors
	ErrCodeJobNotFound     = "JOB_NOT_FOUND"
	ErrCodeJobAlreadyQueued = "JOB_ALREADY_QUEUED"
	ErrCodeJobAlreadyActive = "JOB_ALREADY_ACTIVE"
	ErrCodeInvalidSchedule = "INVALID_SCHEDULE"

	// Gating errors
	ErrCodeConstraintNotMet = "CONSTRAINT_NOT_MET"
	ErrCodeSyncNotPermitted = "SYNC_NOT_PERMITTED"
	ErrCodeBackoffActive   = "BACKOFF_ACTIVE"

	// Dispatch errors
	ErrCodeDispatchFailed  = "DISPATCH_FAILED"
	ErrCodeWatchdogTimeout = "WATCHDOG_TIMEOUT"
)

// AppError represents a daemon error with additional context
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    string            `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithError adds the underlying error
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// WithDetails adds additional details
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *AppError) ToJSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// New creates a new AppError
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now().UTC(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
		Timestamp:  time.Now().UTC(),
	}
}

// Common error constructors

// ErrInternal creates an internal server error
func ErrInternal(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return New(ErrCodeValidation, message, http.StatusBadRequest)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// ErrForbidden creates a forbidden error
func ErrForbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// ErrConflict creates a conflict error
func ErrConflict(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// ErrBadRequest creates a bad request error
func ErrBadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, message, http.StatusBadRequest)
}

// ErrJobNotFound creates a job-not-found error keyed by job key
func ErrJobNotFound(jobKey string) *AppError {
	return New(ErrCodeJobNotFound, fmt.Sprintf("no sync job matching key %q", jobKey), http.StatusNotFound)
}

// ErrAdapterUnregistered creates an error for an unregistered package/authority pair
func ErrAdapterUnregistered(packageID string) *AppError {
	return New(ErrCodeAdapterUnregistered, fmt.Sprintf("package %q has no registered sync adapter", packageID), http.StatusUnprocessableEntity)
}

// RetryableError represents an error that can be retried under backoff
type RetryableError struct {
	*AppError
	RetryAfter  time.Duration
	RetryCount  int
	MaxRetries  int
	ShouldRetry bool
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err *AppError, retryAfter time.Duration, maxRetries int) *RetryableError {
	return &RetryableError{
		AppError:    err,
		RetryAfter:  retryAfter,
		RetryCount:  0,
		MaxRetries:  maxRetries,
		ShouldRetry: true,
	}
}

// CanRetry checks if the error can be retried
func (e *RetryableError) CanRetry() bool {
	return e.ShouldRetry && e.RetryCount < e.MaxRetries
}

// IncrementRetry increments the retry count
func (e *RetryableError) IncrementRetry() {
	e.RetryCount++
}

// ConstraintError represents a failure of the constraint oracle to admit a job
type ConstraintError struct {
	*AppError
	Unmet []string // e.g. "network", "storage_low", "sync_not_permitted"
}

// NewConstraintError creates a new constraint-not-met error
func NewConstraintError(unmet []string) *ConstraintError {
	return &ConstraintError{
		AppError: New(
			ErrCodeConstraintNotMet,
			fmt.Sprintf("required constraints not met: %v", unmet),
			http.StatusPreconditionFailed,
		),
		Unmet: unmet,
	}
}

// BackoffError represents a job held back by the backoff engine
type BackoffError struct {
	*AppError
	PackageID string
	NotBefore time.Time
}

// NewBackoffError creates a new backoff-active error
func NewBackoffError(packageID string, notBefore time.Time) *BackoffError {
	return &BackoffError{
		AppError: New(
			ErrCodeBackoffActive,
			fmt.Sprintf("package %q is backed off until %s", packageID, notBefore.Format(time.RFC3339)),
			http.StatusTooManyRequests,
		),
		PackageID: packageID,
		NotBefore: notBefore,
	}
}

// DispatchError wraps a failure reported by an adapter while running a job
type DispatchError struct {
	*AppError
	PackageID string
	JobKey    string
}

// NewDispatchError creates a new dispatch error
func NewDispatchError(packageID, jobKey string, cause error) *DispatchError {
	return &DispatchError{
		AppError: Wrap(
			cause,
			ErrCodeDispatchFailed,
			fmt.Sprintf("sync job %s for package %q failed", jobKey, packageID),
			http.StatusBadGateway,
		),
		PackageID: packageID,
		JobKey:    jobKey,
	}
}

// Error type checking helpers

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr.CanRetry()
	}

	var dispatchErr *DispatchError
	return errors.As(err, &dispatchErr)
}

// IsConstraintNotMet checks if an error originates from the constraint oracle
func IsConstraintNotMet(err error) bool {
	var constraintErr *ConstraintError
	return errors.As(err, &constraintErr)
}

// IsBackoffActive checks if an error originates from the backoff engine
func IsBackoffActive(err error) bool {
	var backoffErr *BackoffError
	return errors.As(err, &backoffErr)
}

// GetRetryAfter gets the retry-after duration from an error
func GetRetryAfter(err error) time.Duration {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr.RetryAfter
	}

	var backoffErr *BackoffError
	if errors.As(err, &backoffErr) {
		return time.Until(backoffErr.NotBefore)
	}

	return 0
}

// GetHTTPStatus gets the HTTP status code from an error
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	var backoffErr *BackoffError
	var constraintErr *ConstraintError
	var dispatchErr *DispatchError
	var retryErr *RetryableError
	switch {
	case errors.As(err, &backoffErr):
		return backoffErr.HTTPStatus
	case errors.As(err, &constraintErr):
		return constraintErr.HTTPStatus
	case errors.As(err, &dispatchErr):
		return dispatchErr.HTTPStatus
	case errors.As(err, &retryErr):
		return retryErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
