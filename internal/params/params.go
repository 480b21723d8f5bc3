package params

import "time"

const (
	SecParam = 256
	SecBytes = SecParam / 8

	// HashBytes is the output width of the protocol hash. Wide enough to
	// derive scalars without bias.
	HashBytes = 2 * SecBytes // = 64

	// PayloadSize is the fixed size of a stealth payment payload:
	// a 24-byte XChaCha20-Poly1305 nonce, 88 bytes of ciphertext and a
	// 16-byte authentication tag. Constant size hides the note length.
	PayloadSize = 128
	// PayloadNonceSize is the XChaCha20-Poly1305 nonce prefix.
	PayloadNonceSize = 24
	// NoteCapacity is the longest note a payload can carry. The remaining
	// plaintext bytes hold the 32-byte ephemeral scalar and a length octet.
	NoteCapacity = 55

	// CiphertextSize is the width of one encrypted value exchanged with the
	// compute cluster: a 16-byte block plus a 16-byte authentication tag.
	CiphertextSize = 32
	// BlockSize is the plaintext width of one cluster value (u128, little
	// endian).
	BlockSize = 16

	// PositionRecordSize is the binary width of a compressed vesting
	// position. TaggedPositionRecordSize includes the 8-byte record-type
	// tag some storage backends prepend.
	PositionRecordSize       = 226
	TaggedPositionRecordSize = PositionRecordSize + 8

	// AuthorizationMessageSize is positionID(8) || nullifier(32) ||
	// destination(32).
	AuthorizationMessageSize = 72
)

const (
	// DefaultPollInterval is how often asynchronous cluster state is
	// re-checked.
	DefaultPollInterval = 3 * time.Second
	// DefaultComputeTimeout bounds a single-step computation.
	DefaultComputeTimeout = 300 * time.Second
	// ClaimComputeTimeout bounds the claim-amount computation, which queues
	// behind heavier cluster traffic.
	ClaimComputeTimeout = 600 * time.Second
)

// Hash domains. Changing any of these changes every derived address,
// nullifier and key, so they are fixed here rather than at call sites.
const (
	DomainTweak      = "shadowvest/tweak"
	DomainAddress    = "shadowvest/address"
	DomainNullifier  = "shadowvest/nullifier"
	DomainOrgName    = "shadowvest/orgname"
	DomainOrgKey     = "shadowvest/orgkey"
	DomainSchedule   = "shadowvest/schedule"
	DomainPosition   = "shadowvest/position-key"
	DomainPayloadKey = "shadowvest/payload-key"
	DomainComputeKey = "shadowvest/compute-key"
	DomainNonce      = "shadowvest/eddsa-nonce"
	DomainAux        = "shadowvest/eddsa-aux"
)
