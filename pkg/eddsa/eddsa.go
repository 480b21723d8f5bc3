// Package eddsa implements Ed25519 signing for secret keys that exist only
// as raw scalars.
//
// Stealth spending keys are derived as (spendPriv + tweak) mod ℓ, so there
// is no RFC 8032 seed to hand to crypto/ed25519. This package signs with the
// scalar directly while producing signatures that crypto/ed25519.Verify
// accepts, which is what ledger-side Ed25519 verification runs.
package eddsa

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
)

// SecretKeyLength is the number of bytes in a SecretKey.
const SecretKeyLength = 32

// PublicKeyLength is the number of bytes in a PublicKey.
const PublicKeyLength = 32

// SignatureLength is the number of bytes in a Signature.
const SignatureLength = 64

// SecretKey represents a secret key for Ed25519 signatures.
//
// This is the 32-byte little-endian encoding of a scalar, not an RFC 8032
// seed.
type SecretKey []byte

// PublicKey represents a public key for Ed25519 signatures.
//
// This is the 32-byte compressed Edwards encoding of A = a⋅G, identical to a
// crypto/ed25519 public key.
type PublicKey []byte

// Signature is a 64-byte Ed25519 signature R ‖ s.
type Signature []byte

// Public calculates the public key corresponding to a given secret key.
//
// This will return an error if the secret key is invalid.
func (sk SecretKey) Public() (PublicKey, error) {
	scalar := new(curve.Edwards25519Scalar)
	if err := scalar.UnmarshalBinary(sk); err != nil || scalar.IsZero() {
		return nil, fmt.Errorf("eddsa: invalid secret key")
	}
	point := scalar.ActOnBase()
	data, err := point.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return PublicKey(data), nil
}

// NewSecretKey wraps a derived scalar as a signing key.
//
// Only edwards25519 scalars can sign; zero scalars are rejected.
func NewSecretKey(s curve.Scalar) (SecretKey, error) {
	scalar, ok := s.(*curve.Edwards25519Scalar)
	if !ok {
		return nil, fmt.Errorf("eddsa: secret keys must be edwards25519 scalars")
	}
	if scalar.IsZero() {
		return nil, fmt.Errorf("eddsa: secret key is zero")
	}
	data, err := scalar.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return SecretKey(data), nil
}

// GenKey generates a new key pair, from a source of randomness.
//
// Errors returned by this function will only come from the reader. If you
// know that the reader will never return errors, you can rest assured that
// this function won't either.
func GenKey(rand io.Reader) (SecretKey, PublicKey, error) {
	for {
		wide := make([]byte, 64)
		if _, err := io.ReadFull(rand, wide); err != nil {
			return nil, nil, err
		}
		scalar := new(curve.Edwards25519Scalar)
		if _, err := scalar.SetUniformBytes(wide); err != nil {
			return nil, nil, err
		}
		if scalar.IsZero() {
			continue
		}
		secret, err := scalar.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		if public, err := SecretKey(secret).Public(); err == nil {
			return SecretKey(secret), public, nil
		}
	}
}

// taggedHash adds some domain separation to SHA-512, mirroring the BIP-340
// hash_tag construction. Only the secret nonce derivation is tagged; the
// challenge hash must stay exactly SHA-512(R ‖ A ‖ M) for RFC 8032
// compatibility.
func taggedHash(tag string, datas ...[]byte) []byte {
	tagSum := sha512.Sum512([]byte(tag))

	h := sha512.New()
	h.Write(tagSum[:])
	h.Write(tagSum[:])
	for _, data := range datas {
		h.Write(data)
	}
	return h.Sum(nil)
}

// signatureCounter is an atomic counter folded into the aux randomness so a
// stuck reader cannot repeat a nonce within a process.
var signatureCounter uint64

// Sign uses a secret key to create a new signature.
//
// This accepts a source of randomness to harden the nonce against fault
// attacks. Passing nil yields fully deterministic signatures: the same key
// and message always produce the same bytes, which keeps retried claim
// authorizations identical.
func (sk SecretKey) Sign(rand io.Reader, m []byte) (Signature, error) {
	a := new(curve.Edwards25519Scalar)
	if err := a.UnmarshalBinary(sk); err != nil || a.IsZero() {
		return nil, fmt.Errorf("eddsa: invalid secret key")
	}

	A := a.ActOnBase()
	ABytes, err := A.MarshalBinary()
	if err != nil {
		return nil, err
	}

	t := make([]byte, 32)
	copy(t, sk)
	if rand != nil {
		aux := make([]byte, 32)
		if _, err := io.ReadFull(rand, aux); err != nil {
			return nil, err
		}
		// Fold the counter in as well, so even a broken reader cannot
		// repeat a nonce within a process.
		ctr := atomic.AddUint64(&signatureCounter, 1)
		binary.BigEndian.PutUint64(aux[24:], binary.BigEndian.Uint64(aux[24:])^ctr)
		auxHash := taggedHash(params.DomainAux, aux)
		for i := range t {
			t[i] ^= auxHash[i]
		}
	}

	r := new(curve.Edwards25519Scalar)
	if _, err := r.SetUniformBytes(taggedHash(params.DomainNonce, t, ABytes, m)); err != nil {
		return nil, err
	}
	if r.IsZero() {
		return nil, fmt.Errorf("eddsa: derived zero nonce")
	}

	R := r.ActOnBase()
	RBytes, err := R.MarshalBinary()
	if err != nil {
		return nil, err
	}

	// k = SHA-512(R ‖ A ‖ M) mod ℓ, as RFC 8032 prescribes.
	h := sha512.New()
	h.Write(RBytes)
	h.Write(ABytes)
	h.Write(m)
	k := new(curve.Edwards25519Scalar)
	if _, err := k.SetUniformBytes(h.Sum(nil)); err != nil {
		return nil, err
	}

	// s = k·a + r. Mul and Add mutate k, which is fresh here.
	s := k.Mul(a).Add(r)
	sBytes, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, RBytes...)
	sig = append(sig, sBytes...)
	return Signature(sig), nil
}

// Verify checks the integrity of a signature, using a public key.
//
// This defers to crypto/ed25519, so acceptance here matches what the
// ledger's Ed25519 verification accepts.
func (pk PublicKey) Verify(sig Signature, m []byte) bool {
	if len(pk) != PublicKeyLength || len(sig) != SignatureLength {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), m, sig)
}
