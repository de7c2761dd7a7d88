// File: api/errors.go
// Package api
// License: Apache-2.0
//
// Error taxonomy shared by the engine, the resolver and the socket layer.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeResource
	CodeInvalidArgument
	CodeNotConnected
	CodeTimedOut
	CodePeerClosed
	CodeProtocol
	CodeOS
	CodeNotSupported
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeResource:
		return "resource"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotConnected:
		return "not_connected"
	case CodeTimedOut:
		return "timed_out"
	case CodePeerClosed:
		return "peer_closed"
	case CodeProtocol:
		return "protocol"
	case CodeOS:
		return "os"
	case CodeNotSupported:
		return "not_supported"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Common errors used across the library. Any *Error carrying the same code
// matches them with errors.Is.
var (
	ErrResource        = &Error{Code: CodeResource, Message: "resource unavailable"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrNotConnected    = &Error{Code: CodeNotConnected, Message: "not connected"}
	ErrTimedOut        = &Error{Code: CodeTimedOut, Message: "operation timed out"}
	ErrPeerClosed      = &Error{Code: CodePeerClosed, Message: "peer closed connection"}
	ErrProtocol        = &Error{Code: CodeProtocol, Message: "protocol violation"}
	ErrNotSupported    = &Error{Code: CodeNotSupported, Message: "operation not supported"}
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error with the given code around err.
func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// OSError wraps a platform error reported by op. The errno stays reachable
// through errors.Is/As.
func OSError(op string, err error) *Error {
	return &Error{Code: CodeOS, Message: op, Err: err}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode carried by err, CodeOS for foreign errors
// and CodeOK for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOS
}
