package errs

import (
	"errors"
)

// Code is a verification error code.
type Code string

const (
	InvalidArgument   Code = "invalid_argument"
	NavigationTimeout Code = "navigation_timeout"
	ElementNotFound   Code = "element_not_found"
	AssertionFailed   Code = "assertion_failed"
	Unavailable       Code = "unavailable"
	Internal          Code = "internal"
)

// Error is a coded verification error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// MessageOf returns the outermost coded message.
// Untyped errors report "internal error" so raw driver output stays out of summaries.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// ExitCode maps error code to a process exit status.
func ExitCode(code Code) int {
	switch code {
	case InvalidArgument:
		return 2
	case NavigationTimeout:
		return 3
	case ElementNotFound:
		return 4
	case AssertionFailed:
		return 5
	case Unavailable:
		return 6
	default:
		return 1
	}
}
