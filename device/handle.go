// Package device is a typestate façade over the native device library.
//
// A Handle is parametrised by a device family tag and an OS tag. Both are phantom: they carry
// no data, they only decide which operations type-check.
//
// # Fetching
//
// Device numbers are one-based:
//
//	dev, err := device.FetchDevice(lib, 1) // *Handle[AnyDevice, AnyOS]
//	hsm, err := device.FetchHSM(lib, 2)    // *Handle[HSM, AnyOS]
//
// # Narrowing
//
// A narrowing constructor checks the runtime OS once and returns a handle whose OS tag is
// fixed, unlocking operations that only make sense on that OS:
//
//	tux, err := device.FetchHSMWith[device.Linux](lib, 2) // *Handle[HSM, Linux]
//	name := device.Name(tux)
//
// Narrow does the same for a handle already in hand.
//
// # Conditional operations
//
// Operations available on every handle are methods. Operations restricted to some families
// or OSes are generic functions whose parameter type names the required tag, so calling them
// with any other handle is a compile error:
//
//	device.Name(dev)           // does not compile: dev is not tagged Linux
//	device.Sign(dev, 1)        // does not compile: dev is not an HSM
//	sig, err := device.SignSlot(hsm, 1)
//
// # Ownership
//
// A handle owns one reference to its native object and must be closed. Device handles may be
// cloned with Clone; HSM handles may not, since CreateKey mutates the device and expects a
// single owner. Handles must not be copied by value.
//
// A closed handle, including one emptied by a successful Narrow, stays safe to Close again,
// to print and to pass to Narrow, Sign, SignSlot and CreateKey, which report
// *ClosedHandleError. OS, Kind, Name, MaxSlots and Clone have no error return and panic with
// "device: use of closed handle", like misuse of a sync.WaitGroup. Device returns nil.
//
// # Errors
//
// Every failure is one of the types listed on Error. Native exceptions are translated by
// Translate.
package device

import (
	"fmt"
	"strings"

	"github.com/anchorageoss/devicehandle/native"
)

// noCopy makes go vet's copylocks check flag copies of Handle
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle is a typestate-tagged device handle.
//
// The constraints exclude UnknownKind and UnknownOS, so a handle with an unestablished tag is
// not a valid type.
type Handle[K ConcreteKind, O KnownOS] struct {
	noCopy noCopy
	num    int
	p      payload
}

// FetchDevice fetches device num (one-based) of any family
func FetchDevice(lib native.Library, num int) (*Handle[AnyDevice, AnyOS], error) {
	return fetch[AnyDevice, AnyOS](lib, num)
}

// FetchHSM fetches HSM num (one-based)
func FetchHSM(lib native.Library, num int) (*Handle[HSM, AnyOS], error) {
	return fetch[HSM, AnyOS](lib, num)
}

// FetchHSMWith fetches HSM num and narrows it to OS O.
//
// A device running another OS yields *WrongOSError and its native handle is released.
func FetchHSMWith[O ConcreteOS](lib native.Library, num int) (*Handle[HSM, O], error) {
	return fetchWith[HSM, O](lib, num)
}

// FetchDeviceWith fetches device num and narrows it to OS O
func FetchDeviceWith[O ConcreteOS](lib native.Library, num int) (*Handle[AnyDevice, O], error) {
	return fetchWith[AnyDevice, O](lib, num)
}

// Narrow refines a handle of unestablished OS without another native fetch.
//
// On success the payload moves into the returned handle and h is left closed. On mismatch h is
// untouched and remains usable.
func Narrow[O ConcreteOS, K ConcreteKind](h *Handle[K, AnyOS]) (*Handle[K, O], error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkOS[K, O](h.num, &h.p); err != nil {
		return nil, err
	}
	out := &Handle[K, O]{num: h.num, p: h.p}
	h.p = payload{}
	return out, nil
}

func fetch[K fetchable, O KnownOS](lib native.Library, num int) (*Handle[K, O], error) {
	var k K
	if num < 1 {
		return nil, &InvalidDeviceNumError{Num: num}
	}

	p, err := k.fetch(lib, uint(num-1))
	if err != nil {
		return nil, Translate(err)
	}
	if p.isNull() {
		return nil, &DeviceNotFoundError{KindLabel: k.label(), Num: num}
	}

	return &Handle[K, O]{num: num, p: p}, nil
}

func fetchWith[K fetchable, O ConcreteOS](lib native.Library, num int) (*Handle[K, O], error) {
	h, err := fetch[K, AnyOS](lib, num)
	if err != nil {
		return nil, err
	}
	if err := checkOS[K, O](num, &h.p); err != nil {
		h.Close()
		return nil, err
	}
	return &Handle[K, O]{num: num, p: h.p}, nil
}

func checkOS[K ConcreteKind, O ConcreteOS](num int, p *payload) error {
	var (
		k K
		o O
	)
	actual := mustOS(k.os(p))
	if actual != o.Value() {
		return &WrongOSError{
			KindLabel: k.label(),
			Num:       num,
			Actual:    actual,
			Expected:  o.Value(),
		}
	}
	return nil
}

// Num returns the one-based number the handle was fetched with
func (h *Handle[K, O]) Num() int {
	return h.num
}

// errClosedUse is the panic value of infallible operations on a closed handle
const errClosedUse = "device: use of closed handle"

func (h *Handle[K, O]) checkOpen() error {
	if h.p.isNull() {
		var k K
		return &ClosedHandleError{KindLabel: k.label(), Num: h.num}
	}
	return nil
}

func (h *Handle[K, O]) mustOpen() {
	if h.p.isNull() {
		panic(errClosedUse)
	}
}

// OS returns the runtime OS of the device
func (h *Handle[K, O]) OS() native.OS {
	h.mustOpen()
	var k K
	return mustOS(k.os(&h.p))
}

// Kind returns the runtime family of the device
func (h *Handle[K, O]) Kind() native.Kind {
	h.mustOpen()
	var k K
	return mustKind(k.kind(&h.p))
}

// Device returns the device viewed as a plain native.Device. The caller owns the returned
// reference and must release it. FIDO and closed handles return nil.
func (h *Handle[K, O]) Device() *native.Shared[native.Device] {
	if h.p.isNull() {
		return nil
	}
	var k K
	return k.device(&h.p)
}

// Close releases the handle's native reference. Closing twice is a no-op.
func (h *Handle[K, O]) Close() error {
	var k K
	k.release(&h.p)
	return nil
}

func (h *Handle[K, O]) String() string {
	var k K
	if h.p.isNull() {
		return fmt.Sprintf("%s device %d (closed)", k.label(), h.num)
	}
	return fmt.Sprintf("%s device %d (%s, %s)", k.label(), h.num, h.OS(), h.Kind())
}

// Clone returns a second handle to the same native device
func Clone[O KnownOS](h *Handle[AnyDevice, O]) *Handle[AnyDevice, O] {
	h.mustOpen()
	return &Handle[AnyDevice, O]{num: h.num, p: payload{dev: h.p.dev.Clone()}}
}

// Name returns the device name. Only Linux devices expose one.
func Name[K ConcreteKind](h *Handle[K, Linux]) string {
	h.mustOpen()
	dev := h.Device()
	if dev.IsNull() {
		return ""
	}
	defer dev.Release()
	return strings.Clone(dev.Get().Name())
}

// MaxSlots returns the number of key slots of the HSM
func MaxSlots[O KnownOS](h *Handle[HSM, O]) uint {
	h.mustOpen()
	return h.p.hsm.maxSlots()
}

// Sign signs with the key in slot. The signature is copied out of native memory.
func Sign[O KnownOS](h *Handle[HSM, O], slot uint) ([]byte, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	sig, err := h.p.hsm.sign(slot)
	if err != nil {
		return nil, Translate(err)
	}
	return sig, nil
}

// SignSlot has the contract of Sign but calls the native method directly, bypassing the
// adapter's copy.
func SignSlot[O KnownOS](h *Handle[HSM, O], slot uint) ([]byte, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	sig, err := h.p.hsm.signRaw(slot)
	if err != nil {
		return nil, Translate(err)
	}
	return sig, nil
}

// CreateKey creates a key in slot. It mutates the device and must not race with other calls
// on the same handle.
func CreateKey[O KnownOS](h *Handle[HSM, O], slot uint) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return Translate(h.p.hsm.createKey(slot))
}

func mustOS(o native.OS) native.OS {
	if !o.Valid() {
		panic(fmt.Sprintf("device: native OS discriminant out of range: %d", uint8(o)))
	}
	return o
}

func mustKind(k native.Kind) native.Kind {
	if !k.Valid() {
		panic(fmt.Sprintf("device: native kind discriminant out of range: %d", uint8(k)))
	}
	return k
}
