// Package status defines the result taxonomy shared by every stage of the
// engine: model loading, operator validation, kernel dispatch and release.
package status

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure.
type Code int

// Result codes.
const (
	Success      Code = iota
	Fail              // catch-all
	Empty             // missing required entity (unregistered type, absent node, nil pointer)
	ErrorShape        // arity or shape mismatch
	ErrorContext      // missing compute pool at dispatch time
	Unsupported       // recognized but unimplemented dtype/shape/attribute combination
)

// String returns a human-readable name for the code.
func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case Fail:
		return "fail"
	case Empty:
		return "empty"
	case ErrorShape:
		return "error shape"
	case ErrorContext:
		return "error context"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per failure code. They match with errors.Is against
// any *Error carrying the same code.
var (
	ErrFail        = &Error{Code: Fail, Msg: "fail"}
	ErrEmpty       = &Error{Code: Empty, Msg: "empty"}
	ErrShape       = &Error{Code: ErrorShape, Msg: "error shape"}
	ErrContext     = &Error{Code: ErrorContext, Msg: "error context"}
	ErrUnsupported = &Error{Code: Unsupported, Msg: "unsupported"}
)

// Error is a failure tagged with its Code.
type Error struct {
	Code Code
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Errorf returns an error with the given code and a formatted message.
// The result carries a stack trace.
func Errorf(code Code, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// Wrap annotates err with a message, keeping its code.
// Wrap returns nil if err is nil.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// CodeOf extracts the Code from err. Nil maps to Success and errors that
// carry no code map to Fail.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return Fail
}
