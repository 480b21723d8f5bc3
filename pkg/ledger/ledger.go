// Package ledger defines the module's view of its external collaborators:
// the append-only ledger holding organizations, schedules, positions, claim
// records and custody balances, the compressed-record store with freshness
// witnesses, and the public stealth payment feed.
//
// Integrators adapt a concrete chain or database behind these interfaces;
// internal/test carries an in-memory implementation for the test suite.
package ledger

import (
	"context"
	"errors"

	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/claim"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

var (
	ErrOrganizationNotFound  = errors.New("ledger: organization not found")
	ErrScheduleNotFound      = errors.New("ledger: schedule not found")
	ErrPositionNotFound      = errors.New("ledger: position not found")
	ErrAuthorizationNotFound = errors.New("ledger: claim authorization not found")
	ErrVaultNotFound         = errors.New("ledger: key vault record not found")
	// ErrNullifierExists reports a collision on the (organization,
	// nullifier) uniqueness record, the ledger-enforced double-claim lock.
	ErrNullifierExists = errors.New("ledger: nullifier record exists")
	// ErrStaleProof reports a compressed-record update whose witness no
	// longer matches the current root.
	ErrStaleProof = errors.New("ledger: stale inclusion proof")
	// ErrWrongDestination reports a withdrawal to an account other than
	// the one the claimant signed over.
	ErrWrongDestination = errors.New("ledger: destination does not match authorization")
	// ErrInsufficientCustody reports a withdrawal exceeding the
	// organization's custody balance.
	ErrInsufficientCustody = errors.New("ledger: insufficient custody balance")
)

// TxID identifies one submitted ledger transaction.
type TxID string

// Proof is the freshness witness for one compressed record: the tree and
// queue it lives in, its leaf index, and the root index the witness was
// computed against.
type Proof struct {
	Tree      [32]byte
	Queue     [32]byte
	LeafIndex uint64
	RootIndex uint64
}

// StealthPaymentEvent is the public half of a funded position: everything a
// recipient needs to test ownership and decrypt the payload, nothing that
// identifies them.
type StealthPaymentEvent struct {
	Organization     [32]byte
	PositionID       uint64
	StealthAddress   [32]byte
	EphemeralPub     [32]byte
	EncryptedPayload [params.PayloadSize]byte
	TokenMint        [32]byte
	Timestamp        int64
}

// Ledger is the transactional surface of the external ledger program. All
// methods are single round trips; atomicity notes on individual methods are
// part of the contract an implementation must honor.
type Ledger interface {
	// CreateOrganization writes a new organization record at org.Key().
	CreateOrganization(ctx context.Context, org *vesting.Organization) (TxID, error)
	// Organization fetches an organization by key.
	Organization(ctx context.Context, key [32]byte) (*vesting.Organization, error)

	// CreateSchedule persists the schedule and advances its organization's
	// schedule counter to match, in one transaction.
	CreateSchedule(ctx context.Context, s *vesting.Schedule) (TxID, error)
	// Schedule fetches a schedule by organization and id.
	Schedule(ctx context.Context, orgKey [32]byte, scheduleID uint64) (*vesting.Schedule, error)

	// CreatePosition appends a freshly funded position, assigning the next
	// position id within its organization (written back to pos), and
	// publishes announce on the stealth feed when non-nil.
	CreatePosition(ctx context.Context, pos *vesting.Position, announce *StealthPaymentEvent) (TxID, error)
	// Position fetches a position by organization and id.
	Position(ctx context.Context, orgKey [32]byte, positionID uint64) (*vesting.Position, error)

	// AuthorizeClaim admits a verified claim: atomically creates the
	// (organization, nullifier) uniqueness record and the authorization in
	// the authorized state. A nullifier collision fails the whole write
	// with ErrNullifierExists and leaves no record behind.
	AuthorizeClaim(ctx context.Context, orgKey [32]byte, auth *claim.Authorization) (TxID, error)
	// Authorization fetches the claim record for (organization, nullifier).
	Authorization(ctx context.Context, orgKey, nullifier [32]byte) (*claim.Authorization, error)

	// Withdraw releases the authorized amount from the organization's
	// custody to destination and marks the authorization withdrawn. It
	// fails if the claim is not processed or already withdrawn
	// (claim.ErrInvalidTransition), if destination differs from the signed
	// one (ErrWrongDestination), or if custody cannot cover the amount
	// (ErrInsufficientCustody).
	Withdraw(ctx context.Context, orgKey, nullifier, destination [32]byte) (TxID, error)

	// Deposit moves amount into the organization's token custody.
	Deposit(ctx context.Context, orgKey [32]byte, amount uint64) (TxID, error)
	// CustodyBalance reports the organization's token custody balance.
	CustodyBalance(ctx context.Context, orgKey [32]byte) (uint64, error)

	// Vault fetches the meta-key backup record for owner. The record is
	// written by the compute cluster's store callback, never directly.
	Vault(ctx context.Context, owner [32]byte) (*VaultRecord, error)
}

// CompressedStore serves compressed position records with freshness
// witnesses.
type CompressedStore interface {
	// FetchWithProof returns the current record and the witness needed to
	// update it.
	FetchWithProof(ctx context.Context, orgKey [32]byte, positionID uint64) (*vesting.Position, Proof, error)
	// Update rewrites the record. The proof must witness the current root;
	// a superseded one fails with ErrStaleProof.
	Update(ctx context.Context, pos *vesting.Position, proof Proof) (TxID, error)
}

// Events is the public announcement feed.
type Events interface {
	// StealthPayments streams payment announcements. The channel closes
	// when ctx is done.
	StealthPayments(ctx context.Context) (<-chan StealthPaymentEvent, error)
}

// VaultRecord is a stored meta-key backup: four ciphertexts holding the
// split spend and view scalars, sealed under the cluster key, plus the
// nonce sequence base. IsInitialized flips when the store callback lands.
type VaultRecord struct {
	Owner         [32]byte
	Ciphertexts   [4][params.CiphertextSize]byte
	Nonce         [16]byte
	IsInitialized bool
}
