package transport

import (
	"errors"
	"fmt"
)

// Code is a machine-readable transport error code.
type Code string

const (
	CodeStdinUnavailable Code = "STDIN_UNAVAILABLE"
	CodeNotStarted       Code = "NOT_STARTED"
	CodeSendError        Code = "SEND_ERROR"
	CodeStdinClosed      Code = "STDIN_CLOSED"
)

// Error is a coded transport failure, optionally wrapping the cause.
type Error struct {
	Code Code
	Op   string // "start", "send", "receive"
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, which lets the sentinel
// values below be used with errors.Is regardless of Op or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrStdinUnavailable = &Error{Code: CodeStdinUnavailable}
	ErrNotStarted       = &Error{Code: CodeNotStarted}
	ErrSend             = &Error{Code: CodeSendError}
	ErrStdinClosed      = &Error{Code: CodeStdinClosed}
)

// NewError builds an *Error for op with the given code and cause.
func NewError(op string, code Code, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// Errorf builds an *Error whose cause is a formatted error.
func Errorf(op string, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
