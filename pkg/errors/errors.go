package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication / authorization errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Call lifecycle errors
	ErrCodeInvalidTarget     ErrorCode = "INVALID_TARGET"
	ErrCodeCallNotFound      ErrorCode = "CALL_NOT_FOUND"
	ErrCodeAlreadyTerminal   ErrorCode = "ALREADY_TERMINAL"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeAlreadyPresent    ErrorCode = "ALREADY_PRESENT"
	ErrCodeDuplicateCallID   ErrorCode = "DUPLICATE_CALL_ID"

	// Not found errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication / authorization errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

// Call lifecycle errors

// InvalidTargetError indicates the call target could not be resolved
// (unknown recipient, or the initiator may not call the group)
func InvalidTargetError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidTarget, message, http.StatusBadRequest)
}

// CallNotFoundError indicates no call exists for the given identity
func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

// AlreadyTerminalError indicates a transition was attempted on a call whose
// durable record already reached ended, missed, or declined
func AlreadyTerminalError(status string) *AppError {
	return NewWithStatus(ErrCodeAlreadyTerminal,
		fmt.Sprintf("Call is already in terminal state %q", status), http.StatusConflict)
}

// InvalidTransitionError indicates a lifecycle transition that would move a
// call backward, such as marking a call missed after the callee accepted
func InvalidTransitionError(from, to string) *AppError {
	return NewWithStatus(ErrCodeInvalidTransition,
		fmt.Sprintf("Call in state %q cannot transition to %q", from, to), http.StatusConflict)
}

// AlreadyPresentError indicates the participant is already in the call.
// Soft: callers generally treat this as a no-op rather than a failure.
func AlreadyPresentError() *AppError {
	return NewWithStatus(ErrCodeAlreadyPresent, "Participant already in call", http.StatusConflict)
}

// DuplicateCallIDError indicates a generated call identity collided with a
// live session. Should never happen with random UUIDs.
func DuplicateCallIDError(callID string) *AppError {
	return NewWithStatus(ErrCodeDuplicateCallID,
		fmt.Sprintf("Call ID %s already exists", callID), http.StatusConflict)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func UserNotFoundError() *AppError {
	return NewWithStatus(ErrCodeUserNotFound, "User not found", http.StatusNotFound)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return &AppError{
		Code:       ErrCodeDatabase,
		Message:    "Database error",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err is an AppError with the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}
