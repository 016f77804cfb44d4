// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-relay.

package api

import (
	"errors"
	"fmt"
)

// Relay error taxonomy.
var (
	ErrBindFailure   = errors.New("listen address unavailable")
	ErrConnectFailed = errors.New("connect failed")
	ErrPeerGone      = errors.New("peer gone")
	ErrLoopCancelled = errors.New("event loop cancelled")
	ErrLineTooLong   = errors.New("input line too long")
)

// Common errors used across the library.
var (
	ErrWouldBlock      = errors.New("operation would block")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrNotFound        = errors.New("resource not found")
	ErrNotSupported    = errors.New("operation not supported")
	ErrExecutorClosed  = errors.New("executor is closed")
	ErrExecutorFull    = errors.New("executor queue is full")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeBindFailure
	ErrCodeConnectFailed
	ErrCodePeerGone
	ErrCodeLoopCancelled
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeInternal
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeBindFailure:     ErrBindFailure,
	ErrCodeConnectFailed:   ErrConnectFailed,
	ErrCodePeerGone:        ErrPeerGone,
	ErrCodeLoopCancelled:   ErrLoopCancelled,
	ErrCodeInvalidArgument: ErrInvalidArgument,
	ErrCodeNotSupported:    ErrNotSupported,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel registered for the error code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}
