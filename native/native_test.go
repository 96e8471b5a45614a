package native

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedReleaseRunsHookOnce(t *testing.T) {
	released := 0
	s := NewShared("dev", func() { released++ })

	clone := s.Clone()
	require.EqualValues(t, 2, s.UseCount())

	s.Release()
	s.Release() // second release of the same handle is ignored
	assert.Equal(t, 0, released)
	assert.True(t, s.IsNull())
	assert.EqualValues(t, 1, clone.UseCount())

	clone.Release()
	assert.Equal(t, 1, released)
	assert.EqualValues(t, 0, clone.UseCount())
}

func TestSharedAliasSharesCount(t *testing.T) {
	released := false
	base := NewShared(42, func() { released = true })
	view := Alias(base, "forty-two")

	assert.Equal(t, "forty-two", view.Get())
	assert.EqualValues(t, 2, base.UseCount())

	base.Release()
	assert.False(t, released)
	view.Release()
	assert.True(t, released)
}

func TestSharedNull(t *testing.T) {
	var s *Shared[int]

	assert.True(t, s.IsNull())
	assert.Nil(t, s.Clone())
	assert.Nil(t, Alias(s, "x"))
	assert.EqualValues(t, 0, s.UseCount())
	assert.NotPanics(t, s.Release)
}

func TestCloneOfReleasedHandleIsNull(t *testing.T) {
	s := NewShared(1, nil)
	s.Release()
	assert.Nil(t, s.Clone())
}

func TestThrow(t *testing.T) {
	assert.Equal(t, "[RUNTIME] key not found", RuntimeError("key %s", "not found").What)
	assert.Equal(t, "[UNKNOWN]", Throw(CategoryUnknown, "").What)
	assert.Equal(t, "[STD] out of range", Throw(CategoryStd, "out of range").Error())
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
		want string
	}{
		{"success", func() error { return nil }, ""},
		{"exception passes through", func() error { return RuntimeError("invalid slot") }, "[RUNTIME] invalid slot"},
		{"plain error", func() error { return errors.New("boom") }, "[STD] boom"},
		{"panic with error", func() error { panic(errors.New("index out of range")) }, "[STD] index out of range"},
		{"panic with value", func() error { panic(17) }, "[UNKNOWN]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Guard(tt.fn)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			var exc *Exception
			require.ErrorAs(t, err, &exc)
			assert.Equal(t, tt.want, exc.What)
		})
	}
}

func TestEnums(t *testing.T) {
	assert.Equal(t, "BareMetal", OSBareMetal.String())
	assert.Equal(t, "Linux", OSLinux.String())
	assert.Equal(t, "WinDoof", OSWinDoof.String())
	assert.Equal(t, "OS(9)", OS(9).String())
	assert.False(t, OS(3).Valid())

	assert.Equal(t, "HSM", KindHSM.String())
	assert.Equal(t, "FIDO", KindFIDO.String())
	assert.False(t, Kind(2).Valid())

	os, err := ParseOS("linux")
	require.NoError(t, err)
	assert.Equal(t, OSLinux, os)

	_, err = ParseOS("plan9")
	assert.Error(t, err)
}
