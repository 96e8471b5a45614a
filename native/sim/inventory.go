package sim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/near/borsh-go"

	"github.com/anchorageoss/devicehandle/native"
)

// inventoryVersion is bumped whenever the Borsh layout of Inventory changes
const inventoryVersion = 1

// Inventory is the persisted device list of the simulator
type Inventory struct {
	Version uint8    `borsh:"version"`
	Devices []Record `borsh:"devices"`
}

// Record is one persisted device. Keys holds one flag per slot, slot 1 first; a non-zero flag
// means a key has been generated in the slot.
type Record struct {
	Model uint8   `borsh:"model"`
	OS    uint8   `borsh:"os"`
	Name  string  `borsh:"name"`
	Keys  []uint8 `borsh:"keys"`
}

// DefaultInventory returns the six devices the native library ships with
func DefaultInventory() *Inventory {
	return &Inventory{
		Version: inventoryVersion,
		Devices: []Record{
			newRecord(ModelUSBHSM, native.OSBareMetal, ""),
			newRecord(ModelServerHSM, native.OSLinux, "TUX"),
			newRecord(ModelServerHSM, native.OSWinDoof, ""),
			newRecord(ModelFIDOTwo, native.OSLinux, "Fido the Second"),
			newRecord(ModelFIDOOne, native.OSWinDoof, ""),
			newRecord(ModelFIDOOne, native.OSBareMetal, ""),
		},
	}
}

func newRecord(m Model, o native.OS, name string) Record {
	return Record{
		Model: uint8(m),
		OS:    uint8(o),
		Name:  name,
		Keys:  make([]uint8, m.slots()),
	}
}

// Validate checks that every record names a known model and OS and carries one key flag per
// slot
func (inv *Inventory) Validate() error {
	if inv.Version != inventoryVersion {
		return fmt.Errorf("unsupported inventory version %d", inv.Version)
	}
	for i, r := range inv.Devices {
		m := Model(r.Model)
		if !m.valid() {
			return fmt.Errorf("device %d: unknown model %d", i, r.Model)
		}
		if !native.OS(r.OS).Valid() {
			return fmt.Errorf("device %d: unknown OS %d", i, r.OS)
		}
		if uint(len(r.Keys)) != m.slots() {
			return fmt.Errorf("device %d: %s has %d slots, got %d key flags", i, m, m.slots(), len(r.Keys))
		}
	}
	return nil
}

// EncodeInventory serializes inv with Borsh
func EncodeInventory(inv *Inventory) ([]byte, error) {
	data, err := borsh.Serialize(*inv)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize inventory: %w", err)
	}
	return data, nil
}

// DecodeInventory deserializes and validates a Borsh-encoded inventory
func DecodeInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := borsh.Deserialize(&inv, data); err != nil {
		return nil, fmt.Errorf("failed to deserialize inventory: %w", err)
	}
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	return &inv, nil
}

// Load opens the simulator persisted at path. A missing file yields the default inventory.
func Load(path string, opts ...Option) (*Library, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(opts...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	inv, err := DecodeInventory(data)
	if err != nil {
		return nil, err
	}
	return FromInventory(inv, opts...)
}

// Save persists the current device state to path
func (l *Library) Save(path string) error {
	data, err := EncodeInventory(l.Inventory())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	l.log.Debug().Str("path", path).Int("devices", len(l.devices)).Msg("saved simulator state")
	return nil
}
