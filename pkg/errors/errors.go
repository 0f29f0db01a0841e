package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
)

// Machine-readable reason codes returned to API callers.
const (
	ReasonValidation             = "VALIDATION_FAILED"
	ReasonInvalidAction          = "INVALID_ACTION"
	ReasonUnauthorized           = "UNAUTHORIZED"
	ReasonForbidden              = "FORBIDDEN"
	ReasonNotFound               = "NOT_FOUND"
	ReasonIllegalTransition      = "ILLEGAL_TRANSITION"
	ReasonActiveConsultation     = "ACTIVE_CONSULTATION_EXISTS"
	ReasonConcurrentModification = "CONCURRENT_MODIFICATION"
	ReasonNoToken                = "NO_TOKEN_ASSIGNED"
	ReasonNotInQueue             = "NOT_IN_TODAYS_QUEUE"
	ReasonInternal               = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Reason  string                 `json:"reason"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithDetail attaches a key/value pair to the error details and returns the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Reason:  ReasonNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Reason:  ReasonValidation,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Reason:  ReasonInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// NewConflict builds a 409-class error with the given reason code.
func NewConflict(reason, message string) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Reason:  reason,
		Message: message,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Conflict(reason, message string) *AppError {
	return NewConflict(reason, message)
}

// InvalidAction is returned for unrecognised queue actions.
func InvalidAction(action string) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Reason:  ReasonInvalidAction,
		Message: fmt.Sprintf("unknown action %q", action),
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Reason:  ReasonUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Reason:  ReasonForbidden,
		Message: message,
	}
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
