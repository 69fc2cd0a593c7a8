package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess             Code = 0
	CodeInternal            Code = 1
	CodeUsage               Code = 2
	CodeTokenNotFound       Code = 10
	CodeInsufficientBalance Code = 12
	CodeInvalidSchema       Code = 13
	CodeTxReverted          Code = 14
	CodeUnavailable         Code = 15
	CodeCapability          Code = 16
	CodeRateLimited         Code = 17
	CodeSigner              Code = 18
	CodeTimeout             Code = 19
)

// Error is a typed pipeline error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the typed code for err, or CodeInternal when untyped.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}
