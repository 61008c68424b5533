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
	CodeConfig      Code = 3
	CodeSigner      Code = 4
	CodeBuild       Code = 5
	CodeSubmission  Code = 6
	CodeRejected    Code = 7
	CodePersistence Code = 8
	CodeUnavailable Code = 12
)

var (
	ErrProfileNotFound       = errors.New("profile not found")
	ErrSignerNotFound        = errors.New("signer not found")
	ErrAmbiguousSignerSource = errors.New("ambiguous signer source")
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountExists         = errors.New("account already exists")
)

// Error is a typed CLI error that carries a stable error code.
// Data, when set, is rendered alongside the error (for example a transaction
// hash that was obtained before the failure).
type Error struct {
	Code    Code
	Message string
	Cause   error
	Data    any
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithData attaches a result payload to the error and returns it.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

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

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeConfig:
		return "config_error"
	case CodeSigner:
		return "signer_error"
	case CodeBuild:
		return "build_error"
	case CodeSubmission:
		return "submission_error"
	case CodeRejected:
		return "transaction_rejected"
	case CodePersistence:
		return "persistence_error"
	case CodeUnavailable:
		return "provider_unavailable"
	default:
		return "internal_error"
	}
}
