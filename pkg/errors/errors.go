package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Admission errors cover every way a registration attempt can be rejected.
// ErrConcurrencyConflict is the only retryable one: it means a storage
// constraint fired at commit time even though the in-process checks passed.
var (
	ErrDuplicateActiveRegistration = New("DUPLICATE_ACTIVE_REGISTRATION", http.StatusConflict, "student already holds an active registration")
	ErrCapacityExceeded            = New("CAPACITY_EXCEEDED", http.StatusConflict, "batch has no remaining seats")
	ErrBatchInactive               = New("BATCH_INACTIVE", http.StatusUnprocessableEntity, "batch is not accepting registrations")
	ErrEnrollmentWindowClosed      = New("ENROLLMENT_WINDOW_CLOSED", http.StatusUnprocessableEntity, "enrollment window is closed")
	ErrCouponInvalid               = New("COUPON_INVALID", http.StatusUnprocessableEntity, "coupon is not valid for this registration")
	ErrCouponLimitReached          = New("COUPON_LIMIT_REACHED", http.StatusConflict, "coupon usage limit reached")
	ErrConcurrencyConflict         = New("CONCURRENCY_CONFLICT", http.StatusConflict, "registration conflicted with a concurrent attempt, retry may succeed")
	ErrInvalidStateTransition      = New("INVALID_STATE_TRANSITION", http.StatusConflict, "registration status does not permit this transition")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
