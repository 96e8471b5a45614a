package pkcs11hsm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"

	"github.com/pkg/errors"
)

// SignedMessage returns the message whose SHA-256 digest Sign signs for slot
func SignedMessage(slot uint) []byte {
	return []byte(slotLabel(slot))
}

// VerifySignature checks a raw r || s signature produced by Sign for slot
func VerifySignature(pub *ecdsa.PublicKey, slot uint, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	hash := sha256.Sum256(SignedMessage(slot))

	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	return ecdsa.Verify(pub, hash[:], r, s)
}

// ParseECPoint decodes a CKA_EC_POINT attribute of a P-256 public key. Modules differ in whether
// they wrap the uncompressed point in a DER OCTET STRING; both forms are accepted.
func ParseECPoint(value []byte) (*ecdsa.PublicKey, error) {
	point := value
	if len(value) != 65 || value[0] != 0x04 {
		var wrapped []byte
		if rest, err := asn1.Unmarshal(value, &wrapped); err == nil && len(rest) == 0 {
			point = wrapped
		}
	}

	if len(point) != 65 || point[0] != 0x04 {
		return nil, errors.Errorf("unsupported EC point encoding (%d bytes)", len(point))
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(point[1:33]),
		Y:     new(big.Int).SetBytes(point[33:]),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("EC point is not on P-256")
	}
	return pub, nil
}
