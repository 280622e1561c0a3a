// Package apierror defines the error value returned by every public entry
// point of the SDK.
//
// An Error carries a closed Code, a message and an optional inner error. The
// inner error forms a cause chain that works with errors.Is / errors.As, so the
// leaf code and the full chain are both available for diagnostics.
package apierror

import (
	"errors"
	"fmt"
	"strings"
)

type Error struct {
	Code    Code
	Message string
	Inner   error
}

// New creates an Error. An empty message falls back to the code's default
// description.
func New(code Code, message ...string) *Error {
	msg := strings.TrimSpace(strings.Join(message, " "))
	if msg == "" {
		msg = code.DefaultMessage()
	}
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an Error whose cause is inner.
func Wrap(inner error, code Code, message ...string) *Error {
	e := New(code, message...)
	e.Inner = inner
	return e
}

// WrapWith returns a new Error with the given code that wraps e.
func (e *Error) WrapWith(code Code, message ...string) *Error {
	return Wrap(e, code, message...)
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches any *Error with the same code, so errors.Is(err, New(NetworkError))
// finds a network error anywhere in the chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or None.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return None
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// Root returns the innermost *Error in err's chain, or nil.
func Root(err error) *Error {
	var root *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			root = e
		}
		err = errors.Unwrap(err)
	}
	return root
}

// FromStatus maps an HTTP status and body to an Error. 2xx yields nil.
func FromStatus(status int, body []byte) *Error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status < 400 || status >= 600 {
		if len(body) == 0 {
			return New(Code(status))
		}
		return New(Code(status), "Unknown error: "+string(body))
	}
	return New(Code(status))
}
