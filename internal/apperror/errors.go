package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal server error")
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPlanLimit          = errors.New("plan limit reached")
	ErrUnavailable        = errors.New("service temporarily unavailable")
	ErrReauthenticate     = errors.New("session expired")
)

// AppError wraps errors with HTTP status and user-friendly message
type AppError struct {
	Err        error  // Original error (for logging)
	Message    string // User-friendly message
	StatusCode int    // HTTP status code
	Field      string // Optional field name for validation errors
	Kind       Kind   // User-facing category, derived from Err when empty
}

func (e *AppError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Constructor functions for common errors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Kind:       KindUnknown,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Kind:       KindValidation,
	}
}

func ValidationError(field, message string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Field:      field,
		Kind:       KindValidation,
	}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Kind:       KindPermission,
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Kind:       KindPermission,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
		Kind:       KindValidation,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
}

func Wrap(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// PlanLimit reports that the free plan does not allow the operation.
func PlanLimit(limit int) *AppError {
	return &AppError{
		Err:        ErrPlanLimit,
		Message:    fmt.Sprintf("free plan limit of %d buckets reached, upgrade to add more buckets", limit),
		StatusCode: http.StatusPaymentRequired,
		Kind:       KindEntitlement,
	}
}

// Reauthenticate reports that the session can no longer produce a token.
func Reauthenticate(err error) *AppError {
	if err == nil {
		err = ErrReauthenticate
	} else {
		err = fmt.Errorf("%w: %w", ErrReauthenticate, err)
	}
	return &AppError{
		Err:        err,
		Message:    "please sign in again",
		StatusCode: http.StatusUnauthorized,
		Kind:       KindPermission,
	}
}

// Unavailable reports a transient failure of a remote dependency.
func Unavailable(err error) *AppError {
	if err == nil {
		err = ErrUnavailable
	} else if !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &AppError{
		Err:        err,
		Message:    "changes couldn't be saved, we'll keep trying",
		StatusCode: http.StatusServiceUnavailable,
		Kind:       KindNetwork,
	}
}

// GetStatusCode extracts HTTP status from error, defaults to 500
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	// Check sentinel errors
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrReauthenticate),
		errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrPlanLimit):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetMessage extracts user message from error. Errors that are not an
// AppError are reduced to the message of their category so that transport
// details never reach a client.
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return Classify(err).Message()
}
