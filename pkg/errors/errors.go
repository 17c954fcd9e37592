// Package errors defines the application error taxonomy shared by the
// realtime gateway, the HTTP handlers and the background dispatcher.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an AppError.
type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeNotMember        Code = "NOT_MEMBER"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodePersistence      Code = "PERSISTENCE"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL"
)

// AppError carries a code, a client-safe message and an optional cause.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches an AppError with the same code and message. Category sentinels
// (ErrPersistence, ErrAuth, ...) match any error of their code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e.Code != t.Code {
		return false
	}
	return t.Message == e.Message || isCategory(target)
}

func isCategory(target error) bool {
	switch target {
	case ErrAuth, ErrNotMember, ErrForbidden, ErrNotFound, ErrPersistence:
		return true
	}
	return false
}

// New creates an AppError.
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError around cause.
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

// Persistence wraps a storage collaborator failure.
func Persistence(op string, cause error) error {
	return Wrap(CodePersistence, op, cause)
}

// CodeOf extracts the code of err, CodeUnknown when err carries none.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
