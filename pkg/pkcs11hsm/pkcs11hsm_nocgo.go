//go:build !cgo

package pkcs11hsm

import (
	"crypto/ecdsa"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/anchorageoss/devicehandle/native"
)

// ErrNoCgo is returned by Open in builds without cgo
var ErrNoCgo = errors.New("PKCS#11 backend requires cgo")

// Library is unavailable without cgo
type Library struct{}

var _ native.Library = (*Library)(nil)

// Option configures a Library
type Option func(*Library)

// WithLogger is accepted for API compatibility
func WithLogger(zerolog.Logger) Option {
	return func(*Library) {}
}

// Open validates cfg and fails with ErrNoCgo
func Open(cfg Config, _ ...Option) (*Library, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrNoCgo
}

// Close is a no-op
func (*Library) Close() error { return nil }

// LiveRefs always reports zero
func (*Library) LiveRefs() int64 { return 0 }

// PublicKey fails with ErrNoCgo
func (*Library) PublicKey(uint, uint) (*ecdsa.PublicKey, error) {
	return nil, ErrNoCgo
}

// FetchDevice implements native.Library and always throws a runtime exception
func (*Library) FetchDevice(uint) (*native.Shared[native.Device], error) {
	return nil, native.RuntimeError("%v", ErrNoCgo)
}

// FetchHSM implements native.Library and always throws a runtime exception
func (*Library) FetchHSM(uint) (*native.Shared[native.HSM], error) {
	return nil, native.RuntimeError("%v", ErrNoCgo)
}
