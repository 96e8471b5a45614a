package device

import (
	"bytes"

	"github.com/anchorageoss/devicehandle/native"
)

// hsmAdapter holds the shared native HSM and hosts the operations that need stitching on the
// Go side of the boundary: returning signatures by value, the upcast to native.Device, and
// turning panics in the backend into exceptions.
type hsmAdapter struct {
	h *native.Shared[native.HSM]
}

func newHSMAdapter(h *native.Shared[native.HSM]) *hsmAdapter {
	return &hsmAdapter{h: h}
}

func (a *hsmAdapter) os() native.OS     { return a.h.Get().OS() }
func (a *hsmAdapter) kind() native.Kind { return a.h.Get().Kind() }
func (a *hsmAdapter) maxSlots() uint    { return a.h.Get().MaxSlots() }

// device upcasts to the parent handle. The result shares the HSM's reference count.
func (a *hsmAdapter) device() *native.Shared[native.Device] {
	return native.Alias(a.h, a.h.Get().AsDevice())
}

// sign copies the signature out of native memory
func (a *hsmAdapter) sign(slot uint) ([]byte, error) {
	var sig []byte
	err := native.Guard(func() error {
		s, err := a.h.Get().Sign(slot)
		if err != nil {
			return err
		}
		sig = bytes.Clone(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// signRaw calls straight through to the native handle without copying
func (a *hsmAdapter) signRaw(slot uint) ([]byte, error) {
	var sig []byte
	err := native.Guard(func() (err error) {
		sig, err = a.h.Get().Sign(slot)
		return err
	})
	return sig, err
}

func (a *hsmAdapter) createKey(slot uint) error {
	return native.Guard(func() error {
		return a.h.Get().CreateKey(slot)
	})
}

func (a *hsmAdapter) release() {
	a.h.Release()
	a.h = nil
}
