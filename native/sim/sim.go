// Package sim is an in-process simulation of the native device library.
//
// It reproduces the library's fixed inventory of USB and server HSMs and FIDO keys, including
// their failure modes: signing fails with "[RUNTIME] key not found" until a key has been
// created in the slot, and slots outside 1..MaxSlots fail with "[RUNTIME] invalid slot".
// Fetching past the end of the inventory throws a "[STD]" exception, like the bounds-checked
// vector access of the library.
//
// The device state can be persisted with Save and restored with Load, so key creation survives
// across processes.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/anchorageoss/devicehandle/native"
)

// Model is a concrete device model
type Model uint8

const (
	ModelUSBHSM Model = iota
	ModelServerHSM
	ModelFIDOOne
	ModelFIDOTwo
)

func (m Model) valid() bool { return m <= ModelFIDOTwo }

func (m Model) kind() native.Kind {
	if m == ModelUSBHSM || m == ModelServerHSM {
		return native.KindHSM
	}
	return native.KindFIDO
}

func (m Model) slots() uint {
	switch m {
	case ModelUSBHSM:
		return 2
	case ModelServerHSM:
		return 5
	default:
		return 0
	}
}

func (m Model) String() string {
	switch m {
	case ModelUSBHSM:
		return "USB_HSM"
	case ModelServerHSM:
		return "SERVER_HSM"
	case ModelFIDOOne:
		return "FIDO_ONE"
	case ModelFIDOTwo:
		return "FIDO_TWO"
	default:
		return fmt.Sprintf("Model(%d)", uint8(m))
	}
}

// signature patterns returned by the simulated key material
var (
	rsaSignatures = [2][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{8, 7, 6, 5, 4, 3, 2, 1},
	}
	secp256k1Signatures = [2][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		{9, 10, 11, 12, 13, 14, 15, 16, 1, 2, 3, 4, 5, 6, 7, 8},
	}
)

type simDevice struct {
	model Model
	os    native.OS
	name  string
	keys  []bool
}

// Library is the simulated native library. It is safe for concurrent use; all device state is
// serialised by one lock, as in the native library.
type Library struct {
	mu      sync.Mutex
	devices []*simDevice
	live    atomic.Int64
	log     zerolog.Logger
}

var _ native.Library = (*Library)(nil)

// Option configures a Library
type Option func(*Library)

// WithLogger routes the simulator's debug output to logger
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Library) {
		l.log = logger.With().Str("component", "sim").Logger()
	}
}

// New creates a simulator with the default inventory
func New(opts ...Option) *Library {
	l, err := FromInventory(DefaultInventory(), opts...)
	if err != nil {
		panic(fmt.Sprintf("sim: default inventory is invalid: %v", err))
	}
	return l
}

// FromInventory creates a simulator from a saved inventory
func FromInventory(inv *Inventory, opts ...Option) (*Library, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	l := &Library{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	for _, r := range inv.Devices {
		l.devices = append(l.devices, &simDevice{
			model: Model(r.Model),
			os:    native.OS(r.OS),
			name:  r.Name,
			keys:  unpackKeys(r.Keys),
		})
	}
	return l, nil
}

// Inventory snapshots the current device state
func (l *Library) Inventory() *Inventory {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv := &Inventory{Version: inventoryVersion}
	for _, d := range l.devices {
		inv.Devices = append(inv.Devices, Record{
			Model: uint8(d.model),
			OS:    uint8(d.os),
			Name:  d.name,
			Keys:  packKeys(d.keys),
		})
	}
	return inv
}

func packKeys(keys []bool) []uint8 {
	out := make([]uint8, len(keys))
	for i, k := range keys {
		if k {
			out[i] = 1
		}
	}
	return out
}

func unpackKeys(flags []uint8) []bool {
	out := make([]bool, len(flags))
	for i, f := range flags {
		out[i] = f != 0
	}
	return out
}

// LiveRefs returns the number of devices with outstanding handles
func (l *Library) LiveRefs() int64 {
	return l.live.Load()
}

// FetchDevice implements native.Library
func (l *Library) FetchDevice(index uint) (*native.Shared[native.Device], error) {
	d, err := l.at(index)
	if err != nil {
		return nil, err
	}
	l.log.Debug().Uint("index", index).Stringer("model", d.model).Msg("fetched device")
	return share[native.Device](l, &deviceView{lib: l, d: d}), nil
}

// FetchHSM implements native.Library. Non-HSM devices yield a null handle.
func (l *Library) FetchHSM(index uint) (*native.Shared[native.HSM], error) {
	d, err := l.at(index)
	if err != nil {
		return nil, err
	}
	if d.model.kind() != native.KindHSM {
		l.log.Debug().Uint("index", index).Stringer("model", d.model).Msg("device is not an HSM")
		return nil, nil
	}
	l.log.Debug().Uint("index", index).Stringer("model", d.model).Msg("fetched HSM")
	return share[native.HSM](l, &hsmView{deviceView{lib: l, d: d}}), nil
}

func (l *Library) at(index uint) (*simDevice, error) {
	if index >= uint(len(l.devices)) {
		return nil, native.Throw(native.CategoryStd,
			fmt.Sprintf("device index %d out of range (%d devices)", index, len(l.devices)))
	}
	return l.devices[index], nil
}

func share[T any](l *Library, obj T) *native.Shared[T] {
	l.live.Add(1)
	return native.NewShared(obj, func() { l.live.Add(-1) })
}

type deviceView struct {
	lib *Library
	d   *simDevice
}

func (v *deviceView) OS() native.OS     { return v.d.os }
func (v *deviceView) Kind() native.Kind { return v.d.model.kind() }
func (v *deviceView) Name() string      { return v.d.name }

type hsmView struct {
	deviceView
}

func (v *hsmView) MaxSlots() uint          { return v.d.model.slots() }
func (v *hsmView) AsDevice() native.Device { return &v.deviceView }

func (v *hsmView) Sign(slot uint) ([]byte, error) {
	v.lib.mu.Lock()
	defer v.lib.mu.Unlock()

	if slot < 1 || slot > v.d.model.slots() {
		return nil, native.RuntimeError("invalid slot")
	}
	if !v.d.keys[slot-1] {
		return nil, native.RuntimeError("key not found")
	}

	patterns := rsaSignatures
	if v.d.model == ModelServerHSM {
		patterns = secp256k1Signatures
	}
	return append([]byte(nil), patterns[(slot-1)%2]...), nil
}

func (v *hsmView) CreateKey(slot uint) error {
	v.lib.mu.Lock()
	defer v.lib.mu.Unlock()

	if slot < 1 || slot > v.d.model.slots() {
		return native.RuntimeError("invalid slot")
	}
	v.d.keys[slot-1] = true

	algorithm := "RSA"
	if v.d.model == ModelServerHSM {
		algorithm = "secp256k1"
	}
	v.lib.log.Debug().
		Stringer("model", v.d.model).
		Uint("slot", slot).
		Str("algorithm", algorithm).
		Msg("generated key")
	return nil
}
