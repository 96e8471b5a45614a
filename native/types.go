// Package native describes the surface imported from the native device library.
//
// The native library owns the actual device enumeration and cryptographic operations.
// This package only declares what crosses the boundary:
//   - the OS and Kind enumerations
//   - the Library entry points FetchDevice and FetchHSM (zero-based indices)
//   - the Device and HSM objects returned by them
//   - Shared, the reference-counted handle wrapping every returned object
//   - Exception, the error value a native call fails with
//
// # Null handles
//
// A fetch that finds nothing at the requested index returns a nil *Shared and a nil error.
// A fetch that fails returns an *Exception whose message has the shape "[CATEGORY] text".
//
// # Implementations
//
// The sim subpackage simulates the native device inventory in-process, nativetest provides a
// programmable stub for tests, and pkg/pkcs11hsm binds a PKCS#11 module.
package native

import (
	"fmt"
	"strings"
)

// OS identifies the operating system a device runs
type OS uint8

const (
	OSBareMetal OS = iota
	OSLinux
	OSWinDoof
)

// Valid reports whether o is a discriminant known to the boundary
func (o OS) Valid() bool {
	return o <= OSWinDoof
}

func (o OS) String() string {
	switch o {
	case OSBareMetal:
		return "BareMetal"
	case OSLinux:
		return "Linux"
	case OSWinDoof:
		return "WinDoof"
	default:
		return fmt.Sprintf("OS(%d)", uint8(o))
	}
}

// ParseOS converts a case-insensitive OS name into its discriminant
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "baremetal", "bare-metal":
		return OSBareMetal, nil
	case "linux":
		return OSLinux, nil
	case "windoof", "windows":
		return OSWinDoof, nil
	default:
		return 0, fmt.Errorf("unknown OS %q", s)
	}
}

// Kind identifies the device family
type Kind uint8

const (
	KindHSM Kind = iota
	KindFIDO
)

// Valid reports whether k is a discriminant known to the boundary
func (k Kind) Valid() bool {
	return k <= KindFIDO
}

func (k Kind) String() string {
	switch k {
	case KindHSM:
		return "HSM"
	case KindFIDO:
		return "FIDO"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Library is the set of free functions exported by the native library.
//
// Indices are zero-based. Every returned handle carries one reference that the caller must
// release.
type Library interface {
	FetchDevice(index uint) (*Shared[Device], error)
	FetchHSM(index uint) (*Shared[HSM], error)
}

// Device is the common view of every native device
type Device interface {
	OS() OS
	Kind() Kind
	// Name is borrowed from the native object; an unnamed device returns "".
	Name() string
}

// HSM is a native hardware security module.
//
// Sign and CreateKey may fail with an *Exception. CreateKey mutates device-side state.
type HSM interface {
	OS() OS
	Kind() Kind
	MaxSlots() uint
	Sign(slot uint) ([]byte, error)
	CreateKey(slot uint) error
	// AsDevice returns the same native object viewed as a Device.
	AsDevice() Device
}
