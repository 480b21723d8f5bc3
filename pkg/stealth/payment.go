package stealth

import (
	"fmt"
	"io"

	"github.com/shadowvest/shadowvest-go/internal/hash"
	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/eddsa"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/shadowvest/shadowvest-go/pkg/math/sample"
)

// Payment is one stealth payment as it appears on the ledger: the ephemeral
// public key R published alongside the position, the one-time address funds
// are bound to, and the encrypted payload carrying the ephemeral secret and
// an optional note for the recipient.
type Payment struct {
	EphemeralPub     curve.Point
	StealthAddress   [32]byte
	EncryptedPayload [params.PayloadSize]byte
}

// deriveTweak maps an ECDH shared secret to the scalar added to the spend
// key. Domain separated so a shared secret can never collide with material
// hashed elsewhere in the protocol.
func deriveTweak(group curve.Curve, shared curve.Point) (curve.Scalar, error) {
	h := hash.New(params.DomainTweak)
	if err := h.WriteAny(shared); err != nil {
		return nil, fmt.Errorf("stealth: hash shared secret: %w", err)
	}
	return curve.FromHash(group, h.Sum()), nil
}

// GeneratePayment derives a fresh one-time payment for the holder of the
// meta address. Unlinkability rests on the ephemeral scalar being sampled
// fresh on every call; callers must not cache or replay payments.
func GeneratePayment(rand io.Reader, group curve.Curve, to *MetaAddress, note []byte) (*Payment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: incomplete meta address", curve.ErrInvalidKeyMaterial)
	}
	if len(note) > params.NoteCapacity {
		return nil, ErrNoteTooLong
	}

	r := sample.ScalarUnit(rand, group)
	R := r.ActOnBase()

	shared := r.Act(to.ViewPub)
	if shared.IsIdentity() {
		return nil, fmt.Errorf("%w: low order view key", curve.ErrInvalidKeyMaterial)
	}

	tweak, err := deriveTweak(group, shared)
	if err != nil {
		return nil, err
	}
	stealthPub := tweak.ActOnBase().Add(to.SpendPub)

	payment := &Payment{
		EphemeralPub:   R,
		StealthAddress: AddressOf(stealthPub),
	}
	payment.EncryptedPayload, err = sealPayload(rand, shared, R, r, note)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// IsMyPayment reports whether a published payment is addressed to the holder
// of viewPriv for the given spend key. It is safe to probe arbitrary foreign
// payments: mismatched groups, identity points and malformed input all
// report false rather than failing.
func IsMyPayment(viewPriv curve.Scalar, spendPub curve.Point, ephemeralPub curve.Point, stealthAddress [32]byte) bool {
	if viewPriv == nil || spendPub == nil || ephemeralPub == nil {
		return false
	}
	group := viewPriv.Curve()
	if spendPub.Curve() != group || ephemeralPub.Curve() != group {
		return false
	}
	if viewPriv.IsZero() || spendPub.IsIdentity() || ephemeralPub.IsIdentity() {
		return false
	}
	shared := viewPriv.Act(ephemeralPub)
	if shared.IsIdentity() {
		return false
	}
	tweak, err := deriveTweak(group, shared)
	if err != nil {
		return false
	}
	return AddressOf(tweak.ActOnBase().Add(spendPub)) == stealthAddress
}

// DeriveSpendingKey recovers the one-time spending scalar for a payment.
// AddressOf of the returned scalar acting on the base point equals the
// payment's stealth address exactly when the payment was addressed to this
// spend key. The input scalars are left untouched.
func DeriveSpendingKey(spendPriv curve.Scalar, viewPub curve.Point, ephemeralPriv curve.Scalar) (curve.Scalar, error) {
	group := spendPriv.Curve()
	if viewPub.Curve() != group || ephemeralPriv.Curve() != group {
		return nil, fmt.Errorf("%w: mixed groups", curve.ErrInvalidKeyMaterial)
	}
	shared := ephemeralPriv.Act(viewPub)
	if shared.IsIdentity() {
		return nil, fmt.Errorf("%w: low order view key", curve.ErrInvalidKeyMaterial)
	}
	tweak, err := deriveTweak(group, shared)
	if err != nil {
		return nil, err
	}
	// tweak is fresh, so the mutating Add leaves spendPriv alone.
	return tweak.Add(spendPriv), nil
}

// SpendingSecretKey derives the one-time spending scalar and wraps it as an
// Ed25519 secret key for claim authorization. Only meaningful on the
// edwards25519 group.
func SpendingSecretKey(spendPriv curve.Scalar, viewPub curve.Point, ephemeralPriv curve.Scalar) (eddsa.SecretKey, error) {
	scalar, err := DeriveSpendingKey(spendPriv, viewPub, ephemeralPriv)
	if err != nil {
		return nil, err
	}
	return eddsa.NewSecretKey(scalar)
}
