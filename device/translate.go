package device

import (
	"errors"
	"regexp"

	"github.com/anchorageoss/devicehandle/native"
)

// exceptionPattern matches "[CATEGORY] message". The category is any non-empty bracket-free
// text; the message may be empty or span lines.
var exceptionPattern = regexp.MustCompile(`(?s)^\[([^\[\]]+)\][ \t]*(.*)$`)

// Translate converts an error raised by the native library into the façade's error taxonomy.
//
// Exceptions are classified by their "[CATEGORY]" prefix; errors that are not
// *native.Exception are classified by their message text. Anything that does not follow the
// convention becomes an unhandled NativeExceptionError. A nil error translates to nil.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	what := err.Error()
	var exc *native.Exception
	if errors.As(err, &exc) {
		what = exc.What
	}

	m := exceptionPattern.FindStringSubmatch(what)
	if m == nil {
		return &NativeExceptionError{Msg: "unhandled error: " + what}
	}

	category, msg := m[1], m[2]
	switch category {
	case native.CategoryRuntime:
		return &NativeRuntimeError{Msg: msg}
	case native.CategoryStd:
		return &NativeExceptionError{Msg: msg}
	case native.CategoryUnknown:
		return &NativeExceptionError{Msg: "unknown error"}
	default:
		return &NativeExceptionError{Msg: "unhandled error: " + msg}
	}
}
