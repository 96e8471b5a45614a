package native

import "fmt"

// Exception categories used in the "[CATEGORY] text" message convention
const (
	CategoryRuntime = "RUNTIME"
	CategoryStd     = "STD"
	CategoryUnknown = "UNKNOWN"
)

// Exception is the error every native call fails with.
//
// What carries the structured message, e.g. "[RUNTIME] key not found". The boundary does not
// interpret it; the device package translates it into typed errors.
type Exception struct {
	What string
}

func (e *Exception) Error() string {
	return e.What
}

// Throw builds an exception in the given category
func Throw(category, msg string) *Exception {
	if msg == "" {
		return &Exception{What: "[" + category + "]"}
	}
	return &Exception{What: "[" + category + "] " + msg}
}

// RuntimeError builds a "[RUNTIME]" exception
func RuntimeError(format string, args ...any) *Exception {
	return Throw(CategoryRuntime, fmt.Sprintf(format, args...))
}

// Guard runs fn and converts anything escaping it into an *Exception.
//
// Errors returned by fn that are already exceptions pass through unchanged, other errors
// become "[STD]" exceptions, and panics become "[STD]" (when the value is an error) or
// "[UNKNOWN]" exceptions.
func Guard(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			err = Throw(CategoryStd, e.Error())
			return
		}
		err = Throw(CategoryUnknown, "")
	}()

	if ferr := fn(); ferr != nil {
		if exc, ok := ferr.(*Exception); ok {
			return exc
		}
		return Throw(CategoryStd, ferr.Error())
	}
	return nil
}
