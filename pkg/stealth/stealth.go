// Package stealth implements dual-key stealth addressing for confidential
// payroll positions.
//
// A recipient publishes a meta address (spend and view public keys). For
// every payment the payer derives a fresh one-time address that only the
// recipient can link back to the meta address, and only the holder of the
// spend key can spend from. Holding just the view key is enough to discover
// payments without being able to spend them, so scanning can be delegated.
package stealth

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/shadowvest/shadowvest-go/internal/hash"
	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/shadowvest/shadowvest-go/pkg/math/sample"
)

var (
	// ErrDecryptionFailed indicates an authentication failure opening a
	// payment payload: it was not addressed to this viewer, or it was
	// tampered with. The two cases are indistinguishable on purpose.
	ErrDecryptionFailed = errors.New("stealth: decryption failed")
	// ErrNoteTooLong is returned when a payment note exceeds NoteCapacity.
	// Notes are never truncated silently.
	ErrNoteTooLong = fmt.Errorf("stealth: note exceeds %d bytes", params.NoteCapacity)
)

// MetaKeys is a recipient's long-lived stealth identity: two independent key
// pairs. The secret halves never leave the recipient's control, which is why
// this type deliberately has no serialization; use the key vault flow for
// encrypted backup.
type MetaKeys struct {
	SpendPriv curve.Scalar
	ViewPriv  curve.Scalar
	SpendPub  curve.Point
	ViewPub   curve.Point
}

// GenerateMetaKeys creates a fresh stealth identity on the given group.
func GenerateMetaKeys(rand io.Reader, group curve.Curve) *MetaKeys {
	spendPriv, spendPub := sample.ScalarPointPair(rand, group)
	viewPriv, viewPub := sample.ScalarPointPair(rand, group)
	return &MetaKeys{
		SpendPriv: spendPriv,
		ViewPriv:  viewPriv,
		SpendPub:  spendPub,
		ViewPub:   viewPub,
	}
}

// Address returns the public half of the identity, safe to publish.
func (k *MetaKeys) Address() *MetaAddress {
	return &MetaAddress{SpendPub: k.SpendPub, ViewPub: k.ViewPub}
}

// MetaAddress is the published (spendPub, viewPub) pair payers use to derive
// one-time payment addresses.
type MetaAddress struct {
	SpendPub curve.Point
	ViewPub  curve.Point
}

// EmptyMetaAddress returns a MetaAddress whose fields hold the correct group
// types, ready to be unmarshalled into.
func EmptyMetaAddress(group curve.Curve) *MetaAddress {
	return &MetaAddress{
		SpendPub: group.NewPoint(),
		ViewPub:  group.NewPoint(),
	}
}

// Valid checks that both keys are present and not the identity.
func (a *MetaAddress) Valid() bool {
	return a != nil &&
		a.SpendPub != nil && a.ViewPub != nil &&
		!a.SpendPub.IsIdentity() && !a.ViewPub.IsIdentity()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a *MetaAddress) MarshalBinary() ([]byte, error) {
	// The local alias drops the method set so cbor encodes the struct
	// fields instead of dispatching back into this method.
	type metaAddress MetaAddress
	return cbor.Marshal((*metaAddress)(a))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The receiver must
// have been created with EmptyMetaAddress so the point types are known.
func (a *MetaAddress) UnmarshalBinary(data []byte) error {
	if a.SpendPub == nil || a.ViewPub == nil {
		return errors.New("stealth: unmarshal into MetaAddress without group, use EmptyMetaAddress")
	}
	if err := cbor.Unmarshal(data, a); err != nil {
		return fmt.Errorf("stealth: unmarshal meta address: %w", err)
	}
	if !a.Valid() {
		return fmt.Errorf("%w: meta address contains identity", curve.ErrInvalidKeyMaterial)
	}
	return nil
}

// AddressOf maps a stealth public key to its 32-byte address form. On
// edwards25519 the canonical point encoding is used directly, so a stealth
// address doubles as an Ed25519 public key for claim authorization. Curves
// with wider encodings are digested to 32 bytes.
func AddressOf(p curve.Point) [32]byte {
	data, err := p.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("stealth.AddressOf: %v", err))
	}
	if len(data) == 32 {
		var out [32]byte
		copy(out[:], data)
		return out
	}
	h := hash.New(params.DomainAddress)
	_ = h.WriteAny(data)
	return h.Sum32()
}
