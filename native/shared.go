package native

import "sync/atomic"

// control is the block shared by every Shared pointing at the same native object
type control struct {
	refs    atomic.Int64
	release func()
}

// Shared is a reference-counted handle to a native object.
//
// Every *Shared owns exactly one reference. Clone and Alias add a reference, Release drops it.
// When the last reference is dropped the release hook given to NewShared runs once.
// A nil *Shared is the null handle.
type Shared[T any] struct {
	obj      T
	ctl      *control
	released atomic.Bool
}

// NewShared wraps obj with a fresh reference count of one. release may be nil.
func NewShared[T any](obj T, release func()) *Shared[T] {
	c := &control{release: release}
	c.refs.Store(1)
	return &Shared[T]{obj: obj, ctl: c}
}

// Alias returns a handle to obj that shares the reference count of s.
//
// It is used for upcasts where obj is a different view of the object owned by s.
func Alias[T, U any](s *Shared[U], obj T) *Shared[T] {
	if s.IsNull() {
		return nil
	}
	s.ctl.refs.Add(1)
	return &Shared[T]{obj: obj, ctl: s.ctl}
}

// IsNull reports whether s is the null handle or has already been released
func (s *Shared[T]) IsNull() bool {
	return s == nil || s.released.Load()
}

// Get returns the wrapped object. It must not be called on a null handle.
func (s *Shared[T]) Get() T {
	return s.obj
}

// Clone returns a new handle sharing the same object
func (s *Shared[T]) Clone() *Shared[T] {
	if s.IsNull() {
		return nil
	}
	s.ctl.refs.Add(1)
	return &Shared[T]{obj: s.obj, ctl: s.ctl}
}

// UseCount returns the number of live references to the object
func (s *Shared[T]) UseCount() int64 {
	if s == nil {
		return 0
	}
	return s.ctl.refs.Load()
}

// Release drops the reference held by s. Releasing twice is a no-op.
func (s *Shared[T]) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	if s.ctl.refs.Add(-1) == 0 && s.ctl.release != nil {
		s.ctl.release()
	}
}
