package device_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/devicehandle/device"
	"github.com/anchorageoss/devicehandle/native"
	"github.com/anchorageoss/devicehandle/native/nativetest"
)

func mixedLibrary() *nativetest.Library {
	return nativetest.New(
		&nativetest.Device{OS: native.OSBareMetal, Kind: native.KindHSM, Slots: 2},
		&nativetest.Device{OS: native.OSLinux, Kind: native.KindHSM, Name: "TUX", Slots: 5},
		&nativetest.Device{OS: native.OSWinDoof, Kind: native.KindHSM, Slots: 5},
		&nativetest.Device{OS: native.OSLinux, Kind: native.KindFIDO, Name: "Fido the Second"},
		&nativetest.Device{OS: native.OSWinDoof, Kind: native.KindFIDO},
	)
}

func TestFetchDeviceInvalidNum(t *testing.T) {
	lib := nativetest.New(&nativetest.Device{OS: native.OSLinux, Kind: native.KindHSM})

	h, err := device.FetchDevice(lib, 0)
	require.Nil(t, h)

	var invalid *device.InvalidDeviceNumError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, invalid.Num)
	assert.EqualError(t, err, "invalid device number 0")
}

func TestInvalidNumPerformsNoNativeCall(t *testing.T) {
	constructors := map[string]func(native.Library, int) error{
		"FetchDevice": func(lib native.Library, num int) error {
			_, err := device.FetchDevice(lib, num)
			return err
		},
		"FetchHSM": func(lib native.Library, num int) error {
			_, err := device.FetchHSM(lib, num)
			return err
		},
		"FetchHSMWith[Linux]": func(lib native.Library, num int) error {
			_, err := device.FetchHSMWith[device.Linux](lib, num)
			return err
		},
		"FetchDeviceWith[BareMetal]": func(lib native.Library, num int) error {
			_, err := device.FetchDeviceWith[device.BareMetal](lib, num)
			return err
		},
	}

	for name, fetch := range constructors {
		for _, num := range []int{0, -1, -42, math.MinInt} {
			lib := mixedLibrary()
			err := fetch(lib, num)

			var invalid *device.InvalidDeviceNumError
			require.ErrorAs(t, err, &invalid, "%s(%d)", name, num)
			assert.Equal(t, num, invalid.Num)
			assert.Zero(t, lib.FetchCalls(), "%s(%d) reached the native library", name, num)
		}
	}
}

func TestFetchDeviceLinuxHSM(t *testing.T) {
	lib := nativetest.New(&nativetest.Device{OS: native.OSLinux, Kind: native.KindHSM})

	h, err := device.FetchDevice(lib, 1)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 1, h.Num())
	assert.Equal(t, native.OSLinux, h.OS())
	assert.Equal(t, native.KindHSM, h.Kind())
	assert.Equal(t, "any device 1 (Linux, HSM)", h.String())
}

func TestFetchHSMNotFound(t *testing.T) {
	lib := nativetest.HSMs(3)

	h, err := device.FetchHSM(lib, 4)
	require.Nil(t, h)

	var notFound *device.DeviceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "HSM", notFound.KindLabel)
	assert.Equal(t, 4, notFound.Num)
	assert.EqualError(t, err, "HSM device 4 not found")
	assert.Zero(t, lib.LiveRefs())
}

func TestFetchNullHandleRetainsNothing(t *testing.T) {
	lib := mixedLibrary()

	// FIDO devices are not HSMs, so the native cast yields null
	for num := 4; num <= 8; num++ {
		_, err := device.FetchHSM(lib, num)
		var notFound *device.DeviceNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, num, notFound.Num)
	}

	_, err := device.FetchDevice(lib, 6)
	var notFound *device.DeviceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "any", notFound.KindLabel)

	assert.Zero(t, lib.LiveRefs())
}

func TestFetchHSMWithWrongOS(t *testing.T) {
	lib := mixedLibrary()

	h, err := device.FetchHSMWith[device.Linux](lib, 1)
	require.Nil(t, h)

	var wrongOS *device.WrongOSError
	require.ErrorAs(t, err, &wrongOS)
	assert.Equal(t, &device.WrongOSError{
		KindLabel: "HSM",
		Num:       1,
		Actual:    native.OSBareMetal,
		Expected:  native.OSLinux,
	}, wrongOS)
	assert.EqualError(t, err, "HSM device 1 has wrong OS: BareMetal instead of Linux")
	assert.Zero(t, lib.LiveRefs(), "rejected handle must be released")
}

func TestFetchWithNarrowsToRuntimeOS(t *testing.T) {
	lib := mixedLibrary()

	for num := 1; num <= 3; num++ {
		if h, err := device.FetchHSMWith[device.BareMetal](lib, num); err == nil {
			assert.Equal(t, device.BareMetal{}.Value(), h.OS())
			h.Close()
		}
		if h, err := device.FetchHSMWith[device.Linux](lib, num); err == nil {
			assert.Equal(t, device.Linux{}.Value(), h.OS())
			h.Close()
		}
		if h, err := device.FetchHSMWith[device.WinDoof](lib, num); err == nil {
			assert.Equal(t, device.WinDoof{}.Value(), h.OS())
			h.Close()
		}
	}

	tux, err := device.FetchHSMWith[device.Linux](lib, 2)
	require.NoError(t, err)
	defer tux.Close()
	assert.Equal(t, "TUX", device.Name(tux))
	assert.EqualValues(t, 5, device.MaxSlots(tux))

	fido, err := device.FetchDeviceWith[device.Linux](lib, 4)
	require.NoError(t, err)
	defer fido.Close()
	assert.Equal(t, "Fido the Second", device.Name(fido))
	assert.Equal(t, native.KindFIDO, fido.Kind())
}

func TestNarrow(t *testing.T) {
	lib := mixedLibrary()

	h, err := device.FetchHSM(lib, 3)
	require.NoError(t, err)

	_, err = device.Narrow[device.Linux](h)
	var wrongOS *device.WrongOSError
	require.ErrorAs(t, err, &wrongOS)
	assert.Equal(t, native.OSWinDoof, wrongOS.Actual)

	// still usable after a failed narrowing
	assert.Equal(t, native.OSWinDoof, h.OS())

	win, err := device.Narrow[device.WinDoof](h)
	require.NoError(t, err)
	assert.Equal(t, native.OSWinDoof, win.OS())
	assert.Equal(t, 3, win.Num())
	assert.Equal(t, "HSM device 3 (closed)", h.String())
	assert.EqualValues(t, 1, lib.FetchCalls())

	require.NoError(t, win.Close())
	assert.Zero(t, lib.LiveRefs())
}

func TestSignSlotTranslatesNativeErrors(t *testing.T) {
	lib := nativetest.New(&nativetest.Device{
		OS:    native.OSLinux,
		Kind:  native.KindHSM,
		Slots: 2,
		SignFunc: func(slot uint) ([]byte, error) {
			if slot == 0 {
				return nil, native.RuntimeError("no key in slot")
			}
			return []byte{0xAA, 0xBB}, nil
		},
	})

	h, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	defer h.Close()

	sig, err := device.SignSlot(h, 0)
	assert.Nil(t, sig)
	var runtimeErr *device.NativeRuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Equal(t, "no key in slot", runtimeErr.Msg)

	sig, err = device.SignSlot(h, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, sig)

	sig, err = device.Sign(h, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, sig)
}

func TestSignCopiesNativeBuffer(t *testing.T) {
	buf := []byte{1, 2, 3}
	lib := nativetest.New(&nativetest.Device{
		OS:       native.OSLinux,
		Kind:     native.KindHSM,
		SignFunc: func(uint) ([]byte, error) { return buf, nil },
	})

	h, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	defer h.Close()

	sig, err := device.Sign(h, 1)
	require.NoError(t, err)
	buf[0] = 0xFF
	assert.Equal(t, []byte{1, 2, 3}, sig)
}

func TestCreateKeyThenSign(t *testing.T) {
	lib := nativetest.HSMs(1)

	h, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	defer h.Close()

	_, err = device.SignSlot(h, 0)
	var runtimeErr *device.NativeRuntimeError
	require.ErrorAs(t, err, &runtimeErr)

	require.NoError(t, device.CreateKey(h, 0))

	sig, err := device.SignSlot(h, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestCreateKeyFailure(t *testing.T) {
	lib := nativetest.New(&nativetest.Device{
		OS:            native.OSBareMetal,
		Kind:          native.KindHSM,
		CreateKeyFunc: func(uint) error { return native.RuntimeError("invalid slot") },
	})

	h, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	defer h.Close()

	err = device.CreateKey(h, 9)
	assert.Equal(t, &device.NativeRuntimeError{Msg: "invalid slot"}, err)
}

func TestBackendPanicsBecomeErrors(t *testing.T) {
	lib := nativetest.New(&nativetest.Device{
		OS:       native.OSLinux,
		Kind:     native.KindHSM,
		SignFunc: func(uint) ([]byte, error) { panic(errors.New("vector::at")) },
		CreateKeyFunc: func(uint) error {
			panic("opaque")
		},
	})

	h, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	defer h.Close()

	_, err = device.Sign(h, 1)
	assert.Equal(t, &device.NativeExceptionError{Msg: "vector::at"}, err)

	err = device.CreateKey(h, 1)
	assert.Equal(t, &device.NativeExceptionError{Msg: "unknown error"}, err)
}

func TestFetchTranslatesException(t *testing.T) {
	lib := mixedLibrary()
	lib.FetchErr = native.Throw(native.CategoryStd, "index out of range")

	_, err := device.FetchDevice(lib, 1)
	assert.Equal(t, &device.NativeExceptionError{Msg: "index out of range"}, err)

	lib.FetchErr = errors.New("not an exception")
	_, err = device.FetchHSM(lib, 1)
	assert.Equal(t, &device.NativeExceptionError{Msg: "unhandled error: not an exception"}, err)

	var typed device.Error
	assert.ErrorAs(t, err, &typed)
}

func TestReleaseOnClose(t *testing.T) {
	lib := mixedLibrary()

	dev, err := device.FetchDevice(lib, 2)
	require.NoError(t, err)
	clone := device.Clone(dev)
	assert.EqualValues(t, 1, lib.LiveRefs())

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.EqualValues(t, 1, lib.LiveRefs(), "clone keeps the device alive")
	assert.Equal(t, native.OSLinux, clone.OS())

	require.NoError(t, clone.Close())
	assert.Zero(t, lib.LiveRefs())

	hsm, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	upcast := hsm.Device()
	require.False(t, upcast.IsNull())
	assert.Equal(t, native.OSBareMetal, upcast.Get().OS())

	require.NoError(t, hsm.Close())
	assert.EqualValues(t, 1, lib.LiveRefs(), "upcast shares the HSM reference count")
	upcast.Release()
	assert.Zero(t, lib.LiveRefs())
}

func TestNameOnlyViaLinuxTag(t *testing.T) {
	lib := nativetest.New(&nativetest.Device{OS: native.OSLinux, Kind: native.KindHSM})

	h, err := device.FetchHSMWith[device.Linux](lib, 1)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, "", device.Name(h))
}

func TestUseAfterClose(t *testing.T) {
	lib := mixedLibrary()

	hsm, err := device.FetchHSMWith[device.Linux](lib, 2)
	require.NoError(t, err)
	require.NoError(t, hsm.Close())

	for name, fn := range map[string]func(){
		"OS":       func() { hsm.OS() },
		"Kind":     func() { hsm.Kind() },
		"Name":     func() { device.Name(hsm) },
		"MaxSlots": func() { device.MaxSlots(hsm) },
	} {
		assert.PanicsWithValue(t, "device: use of closed handle", fn, name)
	}
	assert.Nil(t, hsm.Device())
	assert.Equal(t, "HSM device 2 (closed)", hsm.String())

	closed := &device.ClosedHandleError{KindLabel: "HSM", Num: 2}
	sig, err := device.Sign(hsm, 1)
	assert.Nil(t, sig)
	assert.Equal(t, closed, err)
	_, err = device.SignSlot(hsm, 1)
	assert.Equal(t, closed, err)
	assert.Equal(t, closed, device.CreateKey(hsm, 1))

	var typed device.Error
	assert.ErrorAs(t, err, &typed)

	dev, err := device.FetchDevice(lib, 4)
	require.NoError(t, err)
	require.NoError(t, dev.Close())
	assert.PanicsWithValue(t, "device: use of closed handle", func() { device.Clone(dev) })
	assert.Zero(t, lib.LiveRefs())
}

func TestUseAfterNarrow(t *testing.T) {
	lib := mixedLibrary()

	h, err := device.FetchHSM(lib, 1)
	require.NoError(t, err)
	bare, err := device.Narrow[device.BareMetal](h)
	require.NoError(t, err)
	defer bare.Close()

	assert.Equal(t, &device.ClosedHandleError{KindLabel: "HSM", Num: 1}, device.CreateKey(h, 1))
	_, err = device.Narrow[device.BareMetal](h)
	assert.EqualError(t, err, "HSM device 1 is closed")
	assert.PanicsWithValue(t, "device: use of closed handle", func() { h.OS() })

	// the moved-to handle is unaffected
	require.NoError(t, device.CreateKey(bare, 1))
	assert.EqualValues(t, 1, lib.LiveRefs())
}
