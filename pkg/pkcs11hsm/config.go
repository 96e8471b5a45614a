// Package pkcs11hsm exposes the tokens of a PKCS#11 module (SoftHSM2 or hardware) as a
// native.Library.
//
// Every initialized token is an HSM device. Key slot N of a token is the EC key pair labelled
// "slot-N"; CreateKey generates a fresh P-256 pair under that label and Sign produces a CKM_ECDSA
// signature over the SHA-256 digest of the label. Failures surface as "[RUNTIME]" exceptions,
// so the device package translates them like any other native error.
//
// # Build Requirements
//
// The backend links against the module through cgo. Builds without cgo still compile, but Open
// always fails.
//
// # Usage
//
//	lib, err := pkcs11hsm.Open(pkcs11hsm.Config{
//		Module: "/usr/lib/softhsm/libsofthsm2.so",
//		PIN:    "1234",
//		OS:     native.OSLinux,
//	})
//	if err != nil {
//		return err
//	}
//	defer lib.Close()
//
//	hsm, err := device.FetchHSMWith[device.Linux](lib, 1)
package pkcs11hsm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/anchorageoss/devicehandle/native"
)

// DefaultSlots is the number of key slots per token when Config.Slots is zero
const DefaultSlots = 5

// Config describes how to reach the PKCS#11 module
type Config struct {
	// Module is the path of the PKCS#11 shared library
	Module string
	// PIN is the user PIN, used for every token
	PIN string
	// OS is reported as the operating system of every token
	OS native.OS
	// Slots is the number of key slots per token
	Slots uint
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Module == "" {
		return errors.New("PKCS#11 module path is required")
	}
	if !c.OS.Valid() {
		return errors.Errorf("invalid OS %s", c.OS)
	}
	if c.Slots == 0 {
		c.Slots = DefaultSlots
	}
	return nil
}

func slotLabel(slot uint) string {
	return fmt.Sprintf("slot-%d", slot)
}
