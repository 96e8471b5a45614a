// Package nativetest provides a programmable native library for tests.
package nativetest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/anchorageoss/devicehandle/native"
)

// Device configures one stub device
type Device struct {
	OS    native.OS
	Kind  native.Kind
	Name  string
	Slots uint
	// SignFunc overrides the default signing behaviour when set.
	SignFunc func(slot uint) ([]byte, error)
	// CreateKeyFunc overrides the default key creation when set.
	CreateKeyFunc func(slot uint) error

	mu   sync.Mutex
	keys map[uint]bool
}

// Library is a native.Library backed by an in-memory device list.
//
// By default Sign fails with "[RUNTIME] key not found" until CreateKey has been called for
// the slot, after which it returns a non-empty signature.
type Library struct {
	Devices []*Device
	// FetchErr, when set, is returned by every fetch.
	FetchErr error

	fetches atomic.Int64
	live    atomic.Int64
}

var _ native.Library = (*Library)(nil)

// New creates a stub with the given devices
func New(devices ...*Device) *Library {
	return &Library{Devices: devices}
}

// HSMs creates a stub with n Linux HSMs of five slots each
func HSMs(n int) *Library {
	devices := make([]*Device, 0, n)
	for i := 0; i < n; i++ {
		devices = append(devices, &Device{OS: native.OSLinux, Kind: native.KindHSM, Slots: 5})
	}
	return New(devices...)
}

// FetchCalls returns the number of native fetches performed so far
func (l *Library) FetchCalls() int64 {
	return l.fetches.Load()
}

// LiveRefs returns the number of native objects with at least one outstanding reference
func (l *Library) LiveRefs() int64 {
	return l.live.Load()
}

// FetchDevice implements native.Library
func (l *Library) FetchDevice(index uint) (*native.Shared[native.Device], error) {
	l.fetches.Add(1)
	if l.FetchErr != nil {
		return nil, l.FetchErr
	}
	if index >= uint(len(l.Devices)) {
		return nil, nil
	}
	return share[native.Device](l, &deviceView{l.Devices[index]}), nil
}

// FetchHSM implements native.Library
func (l *Library) FetchHSM(index uint) (*native.Shared[native.HSM], error) {
	l.fetches.Add(1)
	if l.FetchErr != nil {
		return nil, l.FetchErr
	}
	if index >= uint(len(l.Devices)) || l.Devices[index].Kind != native.KindHSM {
		return nil, nil
	}
	return share[native.HSM](l, &hsmView{l.Devices[index]}), nil
}

func share[T any](l *Library, obj T) *native.Shared[T] {
	l.live.Add(1)
	return native.NewShared(obj, func() { l.live.Add(-1) })
}

type deviceView struct{ d *Device }

func (v *deviceView) OS() native.OS     { return v.d.OS }
func (v *deviceView) Kind() native.Kind { return v.d.Kind }
func (v *deviceView) Name() string      { return v.d.Name }

type hsmView struct{ d *Device }

func (v *hsmView) OS() native.OS           { return v.d.OS }
func (v *hsmView) Kind() native.Kind       { return v.d.Kind }
func (v *hsmView) MaxSlots() uint          { return v.d.Slots }
func (v *hsmView) AsDevice() native.Device { return &deviceView{v.d} }

func (v *hsmView) Sign(slot uint) ([]byte, error) {
	if v.d.SignFunc != nil {
		return v.d.SignFunc(slot)
	}
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	if !v.d.keys[slot] {
		return nil, native.RuntimeError("key not found")
	}
	return []byte(fmt.Sprintf("sig:%d", slot)), nil
}

func (v *hsmView) CreateKey(slot uint) error {
	if v.d.CreateKeyFunc != nil {
		return v.d.CreateKeyFunc(slot)
	}
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	if v.d.keys == nil {
		v.d.keys = make(map[uint]bool)
	}
	v.d.keys[slot] = true
	return nil
}
