package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorForbidden    ErrorCode = "FORBIDDEN"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorEmptyResult  ErrorCode = "EMPTY_RESULT"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is a domain failure. Message is shown to the caller as-is; Code is
// what code should branch on.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Message)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// upstream builds an upstream failure whose message carries the cause text.
func upstream(prefix string, err error) *Error {
	return newError(ErrorUpstream, fmt.Sprintf("%s: %v", prefix, err), err)
}
