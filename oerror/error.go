package oerror

import (
	"errors"
	"fmt"
)

// Error is the error type produced by netmove when an operation is rejected or an internal
// invariant is broken. The formatted message is kept as-is, and any error wrapped with %w is
// still reachable through errors.Is and errors.As.
type Error struct {
	Err   string
	cause error
}

// New formats an Error the same way fmt.Errorf would.
func New(format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Err: err.Error(), cause: errors.Unwrap(err)}
}

func (e *Error) Error() string {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.cause
}
