package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// Common error codes
const (
	ErrBadRequest ErrorCode = iota + 1000
	// ErrComplianceWrite marks a durable blacklist write failure. It must
	// always propagate: losing an opt-out is the one unrecoverable fault.
	ErrComplianceWrite
	// ErrCollaboratorUnavailable marks an external collaborator (prediction,
	// synthesis, telephony) that could not serve the request.
	ErrCollaboratorUnavailable
)

// Error constructors
func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewComplianceWrite(err error) *AppError {
	return &AppError{
		Code:    ErrComplianceWrite,
		Message: "durable blacklist write failed",
		Err:     err,
	}
}

func NewCollaboratorUnavailable(name string, err error) *AppError {
	return &AppError{
		Code:    ErrCollaboratorUnavailable,
		Message: fmt.Sprintf("%s collaborator unavailable", name),
		Err:     err,
	}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
