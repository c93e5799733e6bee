package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeConnectivity     ErrorCode = "CONNECTIVITY"
	ErrCodeHistoryFetch     ErrorCode = "HISTORY_FETCH"
	ErrCodeMediaAcquisition ErrorCode = "MEDIA_ACQUISITION"
	ErrCodeSignaling        ErrorCode = "SIGNALING"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// NewConnectivityError reports a relay open/send failure. The user recovers by
// reloading the session.
func NewConnectivityError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeConnectivity, message)
}

// NewHistoryFetchError reports a failed or timed out history request.
func NewHistoryFetchError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeHistoryFetch, message)
}

// NewMediaAcquisitionError reports a missing device or denied permission.
func NewMediaAcquisitionError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeMediaAcquisition, message)
}

// NewSignalingError reports an offer/answer/candidate failure.
func NewSignalingError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeSignaling, message)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message)
}

// NewUnauthorizedError reports a missing or expired login.
func NewUnauthorizedError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeUnauthorized, message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether any AppError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
