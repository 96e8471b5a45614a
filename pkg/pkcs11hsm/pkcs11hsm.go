//go:build cgo

package pkcs11hsm

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/anchorageoss/devicehandle/native"
)

// DER encoding of the prime256v1 OID
var p256Params = []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}

type token struct {
	id      uint
	label   string
	session pkcs11.SessionHandle
}

// Library is a native.Library backed by a PKCS#11 module
type Library struct {
	mu     sync.Mutex
	ctx    *pkcs11.Ctx
	cfg    Config
	tokens []*token
	live   atomic.Int64
	log    zerolog.Logger
}

var _ native.Library = (*Library)(nil)

// Option configures a Library
type Option func(*Library)

// WithLogger routes debug output to logger
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Library) {
		l.log = logger.With().Str("component", "pkcs11").Logger()
	}
}

// Open loads the module, opens a session on every initialized token and logs in
func Open(cfg Config, opts ...Option) (*Library, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Module); err != nil {
		return nil, errors.Wrapf(err, "PKCS#11 module not found at %s", cfg.Module)
	}

	ctx := pkcs11.New(cfg.Module)
	if ctx == nil {
		return nil, errors.Errorf("failed to load PKCS#11 module %s", cfg.Module)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, errors.Wrap(err, "failed to initialize PKCS#11")
	}

	l := &Library{ctx: ctx, cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}

	ids, err := ctx.GetSlotList(true)
	if err != nil {
		l.Close()
		return nil, errors.Wrap(err, "failed to get PKCS#11 slot list")
	}

	for _, id := range ids {
		t, err := l.openToken(id)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.tokens = append(l.tokens, t)
		l.log.Debug().Uint("slot_id", id).Str("label", t.label).Msg("opened token")
	}
	return l, nil
}

func (l *Library) openToken(id uint) (*token, error) {
	info, err := l.ctx.GetTokenInfo(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read token info of slot %d", id)
	}

	session, err := l.ctx.OpenSession(id, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open session on slot %d", id)
	}
	if err := l.ctx.Login(session, pkcs11.CKU_USER, l.cfg.PIN); err != nil && !isAlreadyLoggedIn(err) {
		_ = l.ctx.CloseSession(session)
		return nil, errors.Wrapf(err, "failed to log in to slot %d", id)
	}

	return &token{id: id, label: strings.TrimRight(info.Label, " \x00"), session: session}, nil
}

func isAlreadyLoggedIn(err error) bool {
	var perr pkcs11.Error
	return errors.As(err, &perr) && perr == pkcs11.CKR_USER_ALREADY_LOGGED_IN
}

// Close logs out of every token and unloads the module. Handles still held become unusable.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx == nil {
		return nil
	}
	for _, t := range l.tokens {
		_ = l.ctx.Logout(t.session)
		_ = l.ctx.CloseSession(t.session)
	}
	l.tokens = nil

	err := l.ctx.Finalize()
	l.ctx.Destroy()
	l.ctx = nil
	if err != nil {
		return errors.Wrap(err, "failed to finalize PKCS#11")
	}
	return nil
}

// LiveRefs returns the number of outstanding native handles
func (l *Library) LiveRefs() int64 {
	return l.live.Load()
}

// FetchDevice implements native.Library
func (l *Library) FetchDevice(index uint) (*native.Shared[native.Device], error) {
	t, err := l.at(index)
	if err != nil {
		return nil, err
	}
	return share[native.Device](l, &tokenView{lib: l, t: t}), nil
}

// FetchHSM implements native.Library. Every token is an HSM.
func (l *Library) FetchHSM(index uint) (*native.Shared[native.HSM], error) {
	t, err := l.at(index)
	if err != nil {
		return nil, err
	}
	return share[native.HSM](l, &tokenView{lib: l, t: t}), nil
}

func (l *Library) at(index uint) (*token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index >= uint(len(l.tokens)) {
		return nil, native.Throw(native.CategoryStd,
			fmt.Sprintf("token index %d out of range (%d tokens)", index, len(l.tokens)))
	}
	return l.tokens[index], nil
}

func share[T any](l *Library, obj T) *native.Shared[T] {
	l.live.Add(1)
	return native.NewShared(obj, func() { l.live.Add(-1) })
}

type tokenView struct {
	lib *Library
	t   *token
}

func (v *tokenView) OS() native.OS           { return v.lib.cfg.OS }
func (v *tokenView) Kind() native.Kind       { return native.KindHSM }
func (v *tokenView) Name() string            { return v.t.label }
func (v *tokenView) MaxSlots() uint          { return v.lib.cfg.Slots }
func (v *tokenView) AsDevice() native.Device { return v }

func (v *tokenView) Sign(slot uint) ([]byte, error) {
	l := v.lib
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkSlot(slot); err != nil {
		return nil, err
	}

	label := slotLabel(slot)
	key, found, err := l.findKey(v.t.session, pkcs11.CKO_PRIVATE_KEY, label)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, native.RuntimeError("key not found")
	}

	digest := sha256.Sum256([]byte(label))
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := l.ctx.SignInit(v.t.session, mech, key); err != nil {
		return nil, native.RuntimeError("failed to initialize signing: %v", err)
	}
	sig, err := l.ctx.Sign(v.t.session, digest[:])
	if err != nil {
		return nil, native.RuntimeError("failed to sign digest: %v", err)
	}
	return sig, nil
}

func (v *tokenView) CreateKey(slot uint) error {
	l := v.lib
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkSlot(slot); err != nil {
		return err
	}

	label := slotLabel(slot)
	for _, class := range []uint{pkcs11.CKO_PRIVATE_KEY, pkcs11.CKO_PUBLIC_KEY} {
		if err := l.destroyKey(v.t.session, class, label); err != nil {
			return err
		}
	}

	id := []byte(label)
	public := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, p256Params),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, id),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}
	private := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_EC),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, false),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, id),
		pkcs11.NewAttribute(pkcs11.CKA_ID, id),
	}

	_, _, err := l.ctx.GenerateKeyPair(v.t.session,
		[]*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)},
		public,
		private,
	)
	if err != nil {
		return native.RuntimeError("failed to generate key: %v", err)
	}

	l.log.Debug().Str("token", v.t.label).Uint("slot", slot).Str("algorithm", "P-256").Msg("generated key")
	return nil
}

// PublicKey reads the public half of the key in slot of the token at index (zero-based)
func (l *Library) PublicKey(index, slot uint) (*ecdsa.PublicKey, error) {
	t, err := l.at(index)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkSlot(slot); err != nil {
		return nil, err
	}
	obj, found, err := l.findKey(t.session, pkcs11.CKO_PUBLIC_KEY, slotLabel(slot))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, native.RuntimeError("key not found")
	}

	attrs, err := l.ctx.GetAttributeValue(t.session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read EC point")
	}
	return ParseECPoint(attrs[0].Value)
}

// checkSlot must be called with l.mu held
func (l *Library) checkSlot(slot uint) error {
	if l.ctx == nil {
		return native.RuntimeError("PKCS#11 module is closed")
	}
	if slot < 1 || slot > l.cfg.Slots {
		return native.RuntimeError("invalid slot")
	}
	return nil
}

func (l *Library) findKey(session pkcs11.SessionHandle, class uint, label string) (pkcs11.ObjectHandle, bool, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, []byte(label)),
	}
	if err := l.ctx.FindObjectsInit(session, template); err != nil {
		return 0, false, native.RuntimeError("failed to initialize object search: %v", err)
	}

	handles, _, err := l.ctx.FindObjects(session, 1)
	if err != nil {
		_ = l.ctx.FindObjectsFinal(session)
		return 0, false, native.RuntimeError("failed to find objects: %v", err)
	}
	if err := l.ctx.FindObjectsFinal(session); err != nil {
		return 0, false, native.RuntimeError("failed to finalize object search: %v", err)
	}

	if len(handles) == 0 {
		return 0, false, nil
	}
	return handles[0], true, nil
}

func (l *Library) destroyKey(session pkcs11.SessionHandle, class uint, label string) error {
	for {
		obj, found, err := l.findKey(session, class, label)
		if err != nil || !found {
			return err
		}
		if err := l.ctx.DestroyObject(session, obj); err != nil {
			return native.RuntimeError("failed to destroy previous key: %v", err)
		}
	}
}
