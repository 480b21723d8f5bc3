// Package claim implements the claim authorization layer: nullifier
// derivation, authorization messages signed with a one-time stealth key, and
// the linear per-claim state machine.
//
// A claim moves strictly forward through
//
//	unauthorized -> authorized -> processed -> withdrawn
//
// with no backward transitions and no skipping. At-most-once claiming does
// not come from this state machine but from the ledger's atomic
// nullifier-record creation; the state machine only sequences the steps of
// one admitted claim.
package claim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/shadowvest/shadowvest-go/internal/hash"
	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/eddsa"
)

var (
	// ErrAuthorizationDenied covers every way a signed authorization can
	// fail verification. The failure modes are deliberately
	// indistinguishable to the caller.
	ErrAuthorizationDenied = errors.New("claim: authorization denied")
	// ErrAlreadyClaimed reports a nullifier collision. Terminal, never
	// retryable.
	ErrAlreadyClaimed = errors.New("claim: nullifier already spent")
	// ErrInvalidTransition reports a skipped or backward state-machine
	// move.
	ErrInvalidTransition = errors.New("claim: invalid state transition")
)

// DeriveNullifier computes the deterministic one-way nullifier binding a
// stealth identity to one position. Equal inputs always yield the same
// nullifier, so retried authorizations collide with themselves rather than
// claiming twice; distinct positions held by one identity yield unlinkable
// nullifiers.
func DeriveNullifier(stealthPub [32]byte, positionID uint64) [32]byte {
	h := hash.New(params.DomainNullifier)
	_ = h.WriteAny(stealthPub[:])
	_ = h.WriteAny(positionID)
	return h.Sum32()
}

// AuthorizationMessage builds the canonical signed payload:
// positionID (8, little-endian) ‖ nullifier (32) ‖ destination (32).
func AuthorizationMessage(positionID uint64, nullifier, destination [32]byte) [params.AuthorizationMessageSize]byte {
	var m [params.AuthorizationMessageSize]byte
	binary.LittleEndian.PutUint64(m[:8], positionID)
	copy(m[8:40], nullifier[:])
	copy(m[40:72], destination[:])
	return m
}

// SignedAuthorization is a claimant's proof of control over a position's
// beneficiary commitment: the claim parameters signed with the one-time
// stealth key.
type SignedAuthorization struct {
	PositionID  uint64
	Nullifier   [32]byte
	Destination [32]byte
	StealthPub  [32]byte
	Signature   eddsa.Signature
}

// Authorize signs the claim parameters with the one-time stealth spending
// key. A nil rand yields a fully deterministic signature, keeping retried
// authorizations byte-identical.
func Authorize(rand io.Reader, sk eddsa.SecretKey, positionID uint64, nullifier, destination [32]byte) (*SignedAuthorization, error) {
	pub, err := sk.Public()
	if err != nil {
		return nil, fmt.Errorf("claim: authorize: %w", err)
	}
	m := AuthorizationMessage(positionID, nullifier, destination)
	sig, err := sk.Sign(rand, m[:])
	if err != nil {
		return nil, fmt.Errorf("claim: sign authorization: %w", err)
	}
	sa := &SignedAuthorization{
		PositionID:  positionID,
		Nullifier:   nullifier,
		Destination: destination,
		Signature:   sig,
	}
	copy(sa.StealthPub[:], pub)
	return sa, nil
}

// Message rebuilds the exact bytes covered by the signature.
func (sa *SignedAuthorization) Message() [params.AuthorizationMessageSize]byte {
	return AuthorizationMessage(sa.PositionID, sa.Nullifier, sa.Destination)
}

// VerifyAuthorization checks a signed authorization against the position's
// beneficiary commitment: the signer must be the commitment itself and the
// signature must verify over the canonical message.
func VerifyAuthorization(beneficiaryCommitment [32]byte, sa *SignedAuthorization) error {
	if sa == nil {
		return fmt.Errorf("%w: missing authorization", ErrAuthorizationDenied)
	}
	if sa.StealthPub != beneficiaryCommitment {
		return fmt.Errorf("%w: signer is not the beneficiary", ErrAuthorizationDenied)
	}
	m := sa.Message()
	if !eddsa.PublicKey(sa.StealthPub[:]).Verify(sa.Signature, m[:]) {
		return fmt.Errorf("%w: signature does not verify", ErrAuthorizationDenied)
	}
	return nil
}
