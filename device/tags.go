package device

import "github.com/anchorageoss/devicehandle/native"

// KindTag is satisfied by every device family tag, including UnknownKind
type KindTag interface {
	kindTag()
}

// ConcreteKind is satisfied by the device families a Handle can carry.
//
// Each family knows how to reach the native object inside the handle payload, which is how
// operations delegate without inspecting the payload at runtime.
type ConcreteKind interface {
	KindTag
	label() string
	os(p *payload) native.OS
	kind(p *payload) native.Kind
	device(p *payload) *native.Shared[native.Device]
	release(p *payload)
}

// fetchable families have a native enumerator
type fetchable interface {
	ConcreteKind
	fetch(lib native.Library, index uint) (payload, error)
}

// OSTag is satisfied by every OS tag, including UnknownOS
type OSTag interface {
	osTag()
}

// KnownOS excludes UnknownOS. AnyOS means "some OS not yet established".
type KnownOS interface {
	OSTag
	knownOS()
}

// ConcreteOS is satisfied by the tags naming one runtime OS
type ConcreteOS interface {
	KnownOS
	Value() native.OS
}

// Device family tags
type (
	UnknownKind struct{}
	AnyDevice   struct{}
	HSM         struct{}
	FIDO        struct{}
)

// OS tags
type (
	UnknownOS struct{}
	AnyOS     struct{}
	BareMetal struct{}
	Linux     struct{}
	WinDoof   struct{}
)

// payload holds the native side of a handle. Only the field matching the kind tag is set;
// FIDO handles carry nothing.
type payload struct {
	dev *native.Shared[native.Device]
	hsm *hsmAdapter
}

func (UnknownKind) kindTag() {}
func (AnyDevice) kindTag()   {}
func (HSM) kindTag()         {}
func (FIDO) kindTag()        {}

func (AnyDevice) label() string { return "any" }
func (HSM) label() string       { return "HSM" }
func (FIDO) label() string      { return "FIDO" }

func (AnyDevice) os(p *payload) native.OS { return p.dev.Get().OS() }
func (HSM) os(p *payload) native.OS       { return p.hsm.os() }
func (FIDO) os(*payload) native.OS        { panic("device: FIDO handles carry no native payload") }

func (AnyDevice) kind(p *payload) native.Kind { return p.dev.Get().Kind() }
func (HSM) kind(p *payload) native.Kind       { return p.hsm.kind() }
func (FIDO) kind(*payload) native.Kind        { return native.KindFIDO }

func (AnyDevice) device(p *payload) *native.Shared[native.Device] { return p.dev.Clone() }
func (HSM) device(p *payload) *native.Shared[native.Device]       { return p.hsm.device() }
func (FIDO) device(*payload) *native.Shared[native.Device]        { return nil }

func (AnyDevice) release(p *payload) {
	p.dev.Release()
	p.dev = nil
}

func (HSM) release(p *payload) {
	if p.hsm != nil {
		p.hsm.release()
		p.hsm = nil
	}
}

func (FIDO) release(*payload) {}

func (AnyDevice) fetch(lib native.Library, index uint) (payload, error) {
	var dev *native.Shared[native.Device]
	err := native.Guard(func() (err error) {
		dev, err = lib.FetchDevice(index)
		return err
	})
	if err != nil || dev.IsNull() {
		dev.Release()
		return payload{}, err
	}
	return payload{dev: dev}, nil
}

func (HSM) fetch(lib native.Library, index uint) (payload, error) {
	var h *native.Shared[native.HSM]
	err := native.Guard(func() (err error) {
		h, err = lib.FetchHSM(index)
		return err
	})
	if err != nil || h.IsNull() {
		h.Release()
		return payload{}, err
	}
	return payload{hsm: newHSMAdapter(h)}, nil
}

func (p *payload) isNull() bool {
	return p.dev == nil && p.hsm == nil
}

func (UnknownOS) osTag() {}
func (AnyOS) osTag()     {}
func (BareMetal) osTag() {}
func (Linux) osTag()     {}
func (WinDoof) osTag()   {}

func (AnyOS) knownOS()     {}
func (BareMetal) knownOS() {}
func (Linux) knownOS()     {}
func (WinDoof) knownOS()   {}

// Value returns the runtime OS named by the tag
func (BareMetal) Value() native.OS { return native.OSBareMetal }

// Value returns the runtime OS named by the tag
func (Linux) Value() native.OS { return native.OSLinux }

// Value returns the runtime OS named by the tag
func (WinDoof) Value() native.OS { return native.OSWinDoof }
