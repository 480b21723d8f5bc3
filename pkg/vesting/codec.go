package vesting

import (
	"encoding/binary"
	"fmt"

	"github.com/shadowvest/shadowvest-go/internal/params"
)

// Field offsets in the 226-byte compressed record.
const (
	offOwner        = 0
	offOrganization = 32
	offSchedule     = 64
	offPositionID   = 96
	offCommitment   = 104
	offTotal        = 136
	offClaimed      = 168
	offNonce        = 200
	offStart        = 216
	offActive       = 224
	offFullyClaimed = 225
)

// MarshalBinary encodes the record into its fixed 226-byte layout. Integers
// are little-endian, booleans a single 0/1 byte.
func (p *Position) MarshalBinary() ([]byte, error) {
	out := make([]byte, params.PositionRecordSize)
	copy(out[offOwner:], p.Owner[:])
	copy(out[offOrganization:], p.Organization[:])
	copy(out[offSchedule:], p.Schedule[:])
	binary.LittleEndian.PutUint64(out[offPositionID:], p.PositionID)
	copy(out[offCommitment:], p.BeneficiaryCommitment[:])
	copy(out[offTotal:], p.EncryptedTotalAmount[:])
	copy(out[offClaimed:], p.EncryptedClaimedAmount[:])
	copy(out[offNonce:], p.Nonce[:])
	binary.LittleEndian.PutUint64(out[offStart:], uint64(p.StartTimestamp))
	out[offActive] = boolByte(p.IsActive)
	out[offFullyClaimed] = boolByte(p.IsFullyClaimed)
	return out, nil
}

// UnmarshalBinary decodes a compressed record, the exact inverse of
// MarshalBinary. Storage backends that prepend an 8-byte record-type tag are
// detected by total length and the tag is skipped. Any other length, or a
// boolean byte outside 0/1, fails with ErrMalformedRecord before anything is
// interpreted.
func (p *Position) UnmarshalBinary(data []byte) error {
	switch len(data) {
	case params.PositionRecordSize:
	case params.TaggedPositionRecordSize:
		data = data[params.TaggedPositionRecordSize-params.PositionRecordSize:]
	default:
		return fmt.Errorf("%w: length %d", ErrMalformedRecord, len(data))
	}
	isActive, err := byteBool(data[offActive])
	if err != nil {
		return fmt.Errorf("isActive %w", err)
	}
	isFullyClaimed, err := byteBool(data[offFullyClaimed])
	if err != nil {
		return fmt.Errorf("isFullyClaimed %w", err)
	}

	copy(p.Owner[:], data[offOwner:])
	copy(p.Organization[:], data[offOrganization:])
	copy(p.Schedule[:], data[offSchedule:])
	p.PositionID = binary.LittleEndian.Uint64(data[offPositionID:])
	copy(p.BeneficiaryCommitment[:], data[offCommitment:])
	copy(p.EncryptedTotalAmount[:], data[offTotal:])
	copy(p.EncryptedClaimedAmount[:], data[offClaimed:])
	copy(p.Nonce[:], data[offNonce:])
	p.StartTimestamp = int64(binary.LittleEndian.Uint64(data[offStart:]))
	p.IsActive = isActive
	p.IsFullyClaimed = isFullyClaimed
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func byteBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: boolean byte 0x%02x", ErrMalformedRecord, b)
}
