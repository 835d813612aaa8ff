package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Pairing
	ErrCodeNotFound               ErrorCode = "CODE_NOT_FOUND"
	ErrCodeExpired                ErrorCode = "CODE_EXPIRED"
	ErrCodeAlreadyUsed            ErrorCode = "CODE_ALREADY_USED"
	ErrCodeAlreadyPaired          ErrorCode = "ALREADY_PAIRED"
	ErrCodeInvalidState           ErrorCode = "INVALID_STATE"
	ErrCodeCounterpartUnreachable ErrorCode = "COUNTERPART_UNREACHABLE"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFoundResource ErrorCode = "NOT_FOUND"

	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors. The pairing rejections carry the user-facing
// messages shown to the operator at the checkout.

func CodeNotFound() *AppError {
	return New(ErrCodeNotFound, "Código inválido ou expirado")
}

func CodeExpired() *AppError {
	return New(ErrCodeExpired, "Código inválido ou expirado")
}

func CodeAlreadyUsed() *AppError {
	return New(ErrCodeAlreadyUsed, "Código já está em uso")
}

func AlreadyPaired() *AppError {
	return New(ErrCodeAlreadyPaired, "Dispositivo já está pareado")
}

func CounterpartUnreachable() *AppError {
	return New(ErrCodeCounterpartUnreachable, "Dispositivo móvel desconectado")
}

func InvalidState(event string, role string) *AppError {
	return New(ErrCodeInvalidState, fmt.Sprintf("Event %s not allowed in state %s", event, role))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFoundResource, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
