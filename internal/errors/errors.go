package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeBlocked     Code = 16

	CodeInvalidAddress      Code = 20
	CodePathLength          Code = 21
	CodeNonRevertible       Code = 22
	CodeStaleNonce          Code = 23
	CodeEstimationFailed    Code = 24
	CodeInsufficientBalance Code = 25
	CodeSubmissionFailed    Code = 26
	CodeInvalidCommand      Code = 27
	CodeSigner              Code = 28
)

var codeNames = map[Code]string{
	CodeInternal:            "internal_error",
	CodeUsage:               "usage_error",
	CodeAuth:                "auth_error",
	CodeUnavailable:         "unavailable",
	CodeUnsupported:         "unsupported",
	CodeBlocked:             "command_blocked",
	CodeInvalidAddress:      "invalid_address_format",
	CodePathLength:          "path_length_mismatch",
	CodeNonRevertible:       "non_revertible_command",
	CodeStaleNonce:          "stale_nonce",
	CodeEstimationFailed:    "estimation_failed",
	CodeInsufficientBalance: "insufficient_balance",
	CodeSubmissionFailed:    "submission_failed",
	CodeInvalidCommand:      "invalid_command",
	CodeSigner:              "signer_error",
}

// String returns the snake_case name used in error envelopes.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "internal_error"
}

// Error is a typed CLI error that carries a stable error code.
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

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// Is reports whether any error in err's chain is a typed error with code.
func Is(err error, code Code) bool {
	cliErr, ok := As(err)
	return ok && cliErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
