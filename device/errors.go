package device

import (
	"fmt"

	"github.com/anchorageoss/devicehandle/native"
)

// Error is implemented by every error the façade returns. The set is closed:
//   - *InvalidDeviceNumError
//   - *DeviceNotFoundError
//   - *WrongOSError
//   - *NativeRuntimeError
//   - *NativeExceptionError
//   - *ClosedHandleError, returned when a closed handle is used
type Error interface {
	error
	deviceError()
}

// InvalidDeviceNumError is returned when a device number is below one
type InvalidDeviceNumError struct {
	Num int
}

func (e *InvalidDeviceNumError) Error() string {
	return fmt.Sprintf("invalid device number %d", e.Num)
}

// DeviceNotFoundError is returned when the native fetch yielded a null handle
type DeviceNotFoundError struct {
	KindLabel string
	Num       int
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("%s device %d not found", e.KindLabel, e.Num)
}

// WrongOSError is returned by narrowing when the device runs a different OS
type WrongOSError struct {
	KindLabel string
	Num       int
	Actual    native.OS
	Expected  native.OS
}

func (e *WrongOSError) Error() string {
	return fmt.Sprintf("%s device %d has wrong OS: %s instead of %s", e.KindLabel, e.Num, e.Actual, e.Expected)
}

// NativeRuntimeError is translated from a "[RUNTIME]" exception
type NativeRuntimeError struct {
	Msg string
}

func (e *NativeRuntimeError) Error() string {
	return "native runtime error: " + e.Msg
}

// NativeExceptionError is translated from "[STD]", "[UNKNOWN]" and unrecognised exceptions
type NativeExceptionError struct {
	Msg string
}

func (e *NativeExceptionError) Error() string {
	return "native exception: " + e.Msg
}

// ClosedHandleError is returned by fallible operations on a handle that was closed or moved
// out by Narrow. It reports a caller bug, never a native failure.
type ClosedHandleError struct {
	KindLabel string
	Num       int
}

func (e *ClosedHandleError) Error() string {
	return fmt.Sprintf("%s device %d is closed", e.KindLabel, e.Num)
}

func (*InvalidDeviceNumError) deviceError() {}
func (*DeviceNotFoundError) deviceError()   {}
func (*WrongOSError) deviceError()          {}
func (*NativeRuntimeError) deviceError()    {}
func (*NativeExceptionError) deviceError()  {}
func (*ClosedHandleError) deviceError()     {}
