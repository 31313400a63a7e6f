// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for the message layer.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrConnectionClosed  = fmt.Errorf("connection closed")
	ErrListenerClosed    = fmt.Errorf("listener closed")
	ErrNotListening      = fmt.Errorf("endpoint is not listening")
	ErrMalformedMessage  = fmt.Errorf("malformed message")
	ErrMessageTooLarge   = fmt.Errorf("message too large")
	ErrAssemblyTimeout   = fmt.Errorf("fragmented message assembly timed out")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrHandshakeFailed   = fmt.Errorf("handshake failed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeMalformed
	ErrCodeClosed
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel the error was built from.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around a sentinel, keeping errors.Is working.
func Wrap(code ErrorCode, err error, message string) *Error {
	e := NewError(code, message)
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
