package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Authentication errors
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenInvalid       ErrorCode = "TOKEN_INVALID"
	ErrCodeSessionExpired     ErrorCode = "SESSION_EXPIRED"

	// User/Account errors
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"
	ErrCodeUserInactive ErrorCode = "USER_INACTIVE"

	// MFA errors
	ErrCode2FARequired          ErrorCode = "TWO_FA_REQUIRED"
	ErrCode2FAInvalid           ErrorCode = "TWO_FA_INVALID"
	ErrCodeBackupCodeInvalid    ErrorCode = "BACKUP_CODE_INVALID"
	ErrCodeMFANotConfigured     ErrorCode = "MFA_NOT_CONFIGURED"
	ErrCodeConfirmationRequired ErrorCode = "CONFIRMATION_REQUIRED"
)

// GenericMessage is shown to clients for anything that is not a structured Error.
const GenericMessage = "Something went wrong"

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // User-safe message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error, never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
// Returns ErrCodeInternal if the error is not a structured Error.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// UserMessage returns the message that may be shown to an end user.
// Internal errors and unstructured errors collapse to GenericMessage.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != ErrCodeInternal && e.Message != "" {
		return e.Message
	}
	return GenericMessage
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeConfirmationRequired:
		return http.StatusBadRequest

	case ErrCodeInvalidCredentials, ErrCodeTokenInvalid, ErrCodeSessionExpired,
		ErrCode2FARequired, ErrCode2FAInvalid, ErrCodeBackupCodeInvalid,
		ErrCodeMFANotConfigured, ErrCodeUserNotFound:
		return http.StatusUnauthorized

	case ErrCodeUserInactive:
		return http.StatusForbidden

	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON body written by WriteError.
type ErrorResponse struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteError renders err as JSON. Anything that is not a structured Error
// is logged and reported as a generic internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) || e.Code == ErrCodeInternal {
		slog.Error("Request failed", "err", err, "path", r.URL.Path)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: ErrCodeInternal, Message: GenericMessage})
		return
	}

	render.Status(r, e.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{Code: e.Code, Message: e.Message, Details: e.Details})
}

// Common constructors

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// RateLimitExceeded creates a "rate limit exceeded" error
func RateLimitExceeded(retryAfter string) *Error {
	err := New(ErrCodeRateLimitExceeded, "rate limit exceeded")
	if retryAfter != "" {
		err.WithDetail("retry_after", retryAfter)
	}
	return err
}
