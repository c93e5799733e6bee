package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error")
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error")

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see the cause through Unwrap")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error")
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestTaxonomyConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
	}{
		{"connectivity", NewConnectivityError("relay unreachable", cause), ErrCodeConnectivity},
		{"history", NewHistoryFetchError("history failed", cause), ErrCodeHistoryFetch},
		{"media", NewMediaAcquisitionError("camera busy", cause), ErrCodeMediaAcquisition},
		{"signaling", NewSignalingError("bad answer", cause), ErrCodeSignaling},
		{"unauthorized", NewUnauthorizedError("please login", cause), ErrCodeUnauthorized},
		{"internal", NewInternalError("unexpected"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if !IsCode(tt.err, tt.code) {
				t.Errorf("IsCode(%v) = false", tt.code)
			}
		})
	}
}

func TestGetAppError_ThroughFmtWrap(t *testing.T) {
	appErr := NewMediaAcquisitionError("no camera", nil)
	wrapped := fmt.Errorf("start call: %w", appErr)

	if got := GetAppError(wrapped); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}
	if !IsAppError(wrapped) {
		t.Error("IsAppError should be true for wrapped AppError")
	}
	if IsCode(wrapped, ErrCodeSignaling) {
		t.Error("IsCode should not match a different code")
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Error("GetAppError should return nil for plain errors")
	}
	if GetAppError(nil) != nil {
		t.Error("GetAppError should return nil for nil")
	}
}
