// Package errors provides custom error types for the application.
// It defines domain-specific errors with error codes for better error handling and API responses.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

// Error codes for different error categories
const (
	// General errors (1xxx)
	ErrCodeInternal   ErrorCode = "E1000"
	ErrCodeValidation ErrorCode = "E1001"
	ErrCodeNotFound   ErrorCode = "E1002"
	ErrCodeConflict   ErrorCode = "E1003"

	// Git and remote host errors (2xxx)
	ErrCodeGitCommand   ErrorCode = "E2001"
	ErrCodeGitTimeout   ErrorCode = "E2002"
	ErrCodeNotGitRepo   ErrorCode = "E2003"
	ErrCodeRemoteAPI    ErrorCode = "E2004"

	// Provider errors (3xxx)
	ErrCodeProviderNotFound ErrorCode = "E3001"
	ErrCodeProviderFailed   ErrorCode = "E3002"
	ErrCodeProviderSpawn    ErrorCode = "E3003"

	// Analysis errors (4xxx)
	ErrCodeAnalysisRunning   ErrorCode = "E4001"
	ErrCodeAnalysisCancelled ErrorCode = "E4002"
	ErrCodeReviewNotFound    ErrorCode = "E4003"

	// Database errors (5xxx)
	ErrCodeDBConnection ErrorCode = "E5001"
	ErrCodeDBQuery      ErrorCode = "E5002"
	ErrCodeDBMigration  ErrorCode = "E5003"

	// Configuration errors (6xxx)
	ErrCodeConfigInvalid ErrorCode = "E6001"
	ErrCodeConfigParse   ErrorCode = "E6002"
)

// AppError represents an application-level error with code and context
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	Details any       `json:"details,omitempty"`
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

// HTTPStatus returns the HTTP status code for the error
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeReviewNotFound, ErrCodeProviderNotFound:
		return http.StatusNotFound
	case ErrCodeValidation, ErrCodeNotGitRepo, ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeAnalysisRunning:
		return http.StatusConflict
	case ErrCodeGitTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRemoteAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Common error constructors for convenience

// ErrInternal creates an internal server error
func ErrInternal(message string, err error) *AppError {
	return Wrap(ErrCodeInternal, message, err)
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// ErrConflict creates a conflict error
func ErrConflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// ErrStorage creates a database write/read error
func ErrStorage(message string, err error) *AppError {
	return Wrap(ErrCodeDBQuery, message, err)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// AsAppError attempts to convert an error to AppError
func AsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// IsCode reports whether err is an AppError with the given code
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}
