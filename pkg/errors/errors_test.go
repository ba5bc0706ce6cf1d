package errors

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeNotFound, "job not found", http.StatusNotFound)
	if got := err.Error(); got != "[NOT_FOUND] job not found" {
		t.Errorf("Error() = %q, want %q", got, "[NOT_FOUND] job not found")
	}

	wrapped := err.WithError(errors.New("underlying"))
	if got := wrapped.Error(); got != "[NOT_FOUND] job not found: underlying" {
		t.Errorf("Error() with cause = %q", got)
	}
}

func TestAppError_WithMetadata(t *testing.T) {
	err := ErrInternal("boom").WithMetadata("package_id", "pkg-a")
	if err.Metadata["package_id"] != "pkg-a" {
		t.Errorf("WithMetadata() did not set package_id, got %v", err.Metadata)
	}
}

func TestIsAppError(t *testing.T) {
	if !IsAppError(ErrBadRequest("bad")) {
		t.Errorf("IsAppError() = false for an *AppError")
	}
	if IsAppError(errors.New("plain")) {
		t.Errorf("IsAppError() = true for a plain error")
	}
}

func TestConstraintError(t *testing.T) {
	err := NewConstraintError([]string{"network", "storage_low"})
	if err.HTTPStatus != http.StatusPreconditionFailed {
		t.Errorf("HTTPStatus = %d, want 412", err.HTTPStatus)
	}
	if !IsConstraintNotMet(err) {
		t.Errorf("IsConstraintNotMet() = false for a ConstraintError")
	}
	if len(err.Unmet) != 2 {
		t.Errorf("Unmet = %v, want 2 entries", err.Unmet)
	}
}

func TestBackoffError_RetryAfter(t *testing.T) {
	notBefore := time.Now().Add(90 * time.Second)
	err := NewBackoffError("pkg-a", notBefore)

	if !IsBackoffActive(err) {
		t.Fatalf("IsBackoffActive() = false for a BackoffError")
	}
	retryAfter := GetRetryAfter(err)
	if retryAfter <= 0 || retryAfter > 91*time.Second {
		t.Errorf("GetRetryAfter() = %v, want roughly 90s", retryAfter)
	}
	if GetHTTPStatus(err) != http.StatusTooManyRequests {
		t.Errorf("GetHTTPStatus() = %d, want 429", GetHTTPStatus(err))
	}
}

func TestDispatchError_Unwrap(t *testing.T) {
	cause := errors.New("adapter exploded")
	err := NewDispatchError("pkg-a", "cap|on_demand|", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is() did not find the wrapped cause")
	}
	if IsRetryable(err) == false {
		t.Errorf("IsRetryable() = false for a DispatchError, want true")
	}
	if err.PackageID != "pkg-a" {
		t.Errorf("PackageID = %q, want pkg-a", err.PackageID)
	}
}

func TestRetryableError_CanRetry(t *testing.T) {
	err := NewRetryableError(ErrInternal("transient"), time.Second, 3)

	for i := 0; i < 3; i++ {
		if !err.CanRetry() {
			t.Fatalf("CanRetry() = false before exhausting MaxRetries (attempt %d)", i)
		}
		err.IncrementRetry()
	}
	if err.CanRetry() {
		t.Errorf("CanRetry() = true after exhausting MaxRetries")
	}
}

func TestGetHTTPStatus_DefaultsOnPlainError(t *testing.T) {
	if got := GetHTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("GetHTTPStatus() for a plain error = %d, want 500", got)
	}
}
