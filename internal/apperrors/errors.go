package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class. It is stable and safe to expose to clients.
type Code string

const (
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeDuplicateSubmission Code = "DUPLICATE_SUBMISSION"
	CodeMalformedPayload    Code = "MALFORMED_PAYLOAD"
	CodeResourceUnavailable Code = "RESOURCE_UNAVAILABLE"
	CodeStorage             Code = "UNEXPECTED_STORAGE_ERROR"
	CodeInvalidSubmission   Code = "INVALID_SUBMISSION"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeCooldownActive      Code = "COOLDOWN_ACTIVE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
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

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a cause to a copy of base.
func Wrap(base *Error, err error) *Error {
	clone := *base
	clone.Err = err
	return &clone
}

// WithMessage returns a copy of base with a different message.
func WithMessage(base *Error, message string) *Error {
	clone := *base
	clone.Message = message
	return &clone
}

var (
	ErrSessionNotFound     = New(CodeSessionNotFound, http.StatusBadRequest, "Invalid or expired QR code.")
	ErrDuplicateSubmission = New(CodeDuplicateSubmission, http.StatusConflict, "Attendance already marked for this session.")
	ErrMalformedPayload    = New(CodeMalformedPayload, http.StatusUnprocessableEntity, "Invalid QR code format. Expected JSON.")
	ErrResourceUnavailable = New(CodeResourceUnavailable, http.StatusServiceUnavailable, "Camera unavailable or permission denied.")
	ErrStorage             = New(CodeStorage, http.StatusInternalServerError, "An unexpected database error occurred.")
	ErrInvalidSubmission   = New(CodeInvalidSubmission, http.StatusUnprocessableEntity, "Invalid attendance submission.")
	ErrValidation          = New(CodeValidation, http.StatusBadRequest, "validation failed")
	ErrUnauthorized        = New(CodeUnauthorized, http.StatusUnauthorized, "unauthorized")
	ErrForbidden           = New(CodeForbidden, http.StatusForbidden, "forbidden")
	ErrNotFound            = New(CodeNotFound, http.StatusNotFound, "resource not found")
	ErrCooldownActive      = New(CodeCooldownActive, http.StatusTooManyRequests, "Please wait before logging in again.")
	ErrRateLimited         = New(CodeRateLimited, http.StatusTooManyRequests, "Too many requests. Please slow down.")
	ErrInternal            = New(CodeInternal, http.StatusInternalServerError, "internal server error")
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
	return Wrap(ErrInternal, err)
}

// StatusFor returns the HTTP status associated with code.
func StatusFor(code Code) int {
	for _, e := range []*Error{
		ErrSessionNotFound, ErrDuplicateSubmission, ErrMalformedPayload, ErrResourceUnavailable,
		ErrStorage, ErrInvalidSubmission, ErrValidation, ErrUnauthorized, ErrForbidden,
		ErrNotFound, ErrCooldownActive, ErrRateLimited,
	} {
		if e.Code == code {
			return e.Status
		}
	}
	return http.StatusInternalServerError
}

// Response is the JSON body of a failed request.
type Response struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Response renders e for clients. The wrapped cause is never exposed.
func (e *Error) Response() Response {
	return Response{Success: false, Code: e.Code, Message: e.Message}
}
