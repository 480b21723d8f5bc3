package vesting

import (
	"github.com/shadowvest/shadowvest-go/internal/hash"
	"github.com/shadowvest/shadowvest-go/internal/params"
)

// Position is the compressed confidential vesting record as it lives on the
// ledger. Amounts are opaque 32-byte ciphertexts sealed for the compute
// cluster; only the confidential computation path may rewrite them.
// PositionID is unique within Organization.
type Position struct {
	Owner                  [32]byte
	Organization           [32]byte
	Schedule               [32]byte
	PositionID             uint64
	BeneficiaryCommitment  [32]byte
	EncryptedTotalAmount   [32]byte
	EncryptedClaimedAmount [32]byte
	Nonce                  [16]byte
	StartTimestamp         int64
	IsActive               bool
	IsFullyClaimed         bool
}

// Key returns the deterministic ledger key of the position.
func (p *Position) Key() [32]byte {
	h := hash.New(params.DomainPosition)
	_ = h.WriteAny(p.Organization[:])
	_ = h.WriteAny(p.PositionID)
	return h.Sum32()
}

// Initialized reports whether the confidential compute callback has stamped
// the position. At creation EncryptedClaimedAmount is all zeroes; the
// callback replaces it with a genuine encryption of zero, which is nonzero
// bytes.
func (p *Position) Initialized() bool {
	return p.EncryptedClaimedAmount != [32]byte{}
}
