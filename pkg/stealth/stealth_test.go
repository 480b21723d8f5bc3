package stealth

import (
	"crypto/rand"
	"testing"

	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGroups = []curve.Curve{curve.Edwards25519{}, curve.Secp256k1{}}

func TestPaymentRoundTrip(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			recipient := GenerateMetaKeys(rand.Reader, group)
			note := []byte("Q3 vesting grant")

			payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), note)
			require.NoError(t, err)
			require.True(t, IsMyPayment(recipient.ViewPriv, recipient.SpendPub, payment.EphemeralPub, payment.StealthAddress))

			ephemeralPriv, gotNote, err := DecryptPayload(payment.EncryptedPayload, recipient.ViewPriv, payment.EphemeralPub)
			require.NoError(t, err)
			require.Equal(t, note, gotNote)
			require.True(t, ephemeralPriv.ActOnBase().Equal(payment.EphemeralPub))

			spendingKey, err := DeriveSpendingKey(recipient.SpendPriv, recipient.ViewPub, ephemeralPriv)
			require.NoError(t, err)
			require.Equal(t, payment.StealthAddress, AddressOf(spendingKey.ActOnBase()))
		})
	}
}

func TestPaymentExclusivity(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			recipient := GenerateMetaKeys(rand.Reader, group)
			bystander := GenerateMetaKeys(rand.Reader, group)

			payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), nil)
			require.NoError(t, err)

			require.False(t, IsMyPayment(bystander.ViewPriv, bystander.SpendPub, payment.EphemeralPub, payment.StealthAddress))
			// The right view key with the wrong spend key must not match
			// either: the address commits to both halves of the identity.
			require.False(t, IsMyPayment(recipient.ViewPriv, bystander.SpendPub, payment.EphemeralPub, payment.StealthAddress))

			_, _, err = DecryptPayload(payment.EncryptedPayload, bystander.ViewPriv, payment.EphemeralPub)
			require.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestPaymentUnlinkability(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			recipient := GenerateMetaKeys(rand.Reader, group)
			seen := map[[32]byte]bool{}
			for i := 0; i < 16; i++ {
				payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), nil)
				require.NoError(t, err)
				require.False(t, seen[payment.StealthAddress], "stealth address repeated")
				seen[payment.StealthAddress] = true
			}
		})
	}
}

func TestPayloadTamperRejected(t *testing.T) {
	group := curve.Edwards25519{}
	recipient := GenerateMetaKeys(rand.Reader, group)
	payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), []byte("raise"))
	require.NoError(t, err)

	for _, offset := range []int{0, params.PayloadNonceSize, params.PayloadSize - 1} {
		tampered := payment.EncryptedPayload
		tampered[offset] ^= 0x40
		_, _, err := DecryptPayload(tampered, recipient.ViewPriv, payment.EphemeralPub)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "offset %d", offset)
	}

	// Replacing the ephemeral key breaks both the ownership check and the
	// payload binding.
	forged := GenerateMetaKeys(rand.Reader, group).SpendPub
	require.False(t, IsMyPayment(recipient.ViewPriv, recipient.SpendPub, forged, payment.StealthAddress))
	_, _, err = DecryptPayload(payment.EncryptedPayload, recipient.ViewPriv, forged)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNoteCapacity(t *testing.T) {
	group := curve.Secp256k1{}
	recipient := GenerateMetaKeys(rand.Reader, group)

	full := make([]byte, params.NoteCapacity)
	for i := range full {
		full[i] = byte('a' + i%26)
	}
	payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), full)
	require.NoError(t, err)
	_, gotNote, err := DecryptPayload(payment.EncryptedPayload, recipient.ViewPriv, payment.EphemeralPub)
	require.NoError(t, err)
	require.Equal(t, full, gotNote)

	_, err = GeneratePayment(rand.Reader, group, recipient.Address(), make([]byte, params.NoteCapacity+1))
	require.ErrorIs(t, err, ErrNoteTooLong)

	payment, err = GeneratePayment(rand.Reader, group, recipient.Address(), nil)
	require.NoError(t, err)
	_, gotNote, err = DecryptPayload(payment.EncryptedPayload, recipient.ViewPriv, payment.EphemeralPub)
	require.NoError(t, err)
	require.Nil(t, gotNote)
}

func TestViewKeyCannotSpend(t *testing.T) {
	group := curve.Edwards25519{}
	recipient := GenerateMetaKeys(rand.Reader, group)
	payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), nil)
	require.NoError(t, err)

	ephemeralPriv, _, err := DecryptPayload(payment.EncryptedPayload, recipient.ViewPriv, payment.EphemeralPub)
	require.NoError(t, err)

	// Substituting the view secret for the spend secret yields a key for a
	// different address.
	wrong, err := DeriveSpendingKey(recipient.ViewPriv, recipient.ViewPub, ephemeralPriv)
	require.NoError(t, err)
	require.NotEqual(t, payment.StealthAddress, AddressOf(wrong.ActOnBase()))
}

func TestSpendingKeyMatchesAddress(t *testing.T) {
	group := curve.Edwards25519{}
	recipient := GenerateMetaKeys(rand.Reader, group)
	payment, err := GeneratePayment(rand.Reader, group, recipient.Address(), nil)
	require.NoError(t, err)

	ephemeralPriv, _, err := DecryptPayload(payment.EncryptedPayload, recipient.ViewPriv, payment.EphemeralPub)
	require.NoError(t, err)

	sk, err := SpendingSecretKey(recipient.SpendPriv, recipient.ViewPub, ephemeralPriv)
	require.NoError(t, err)
	pub, err := sk.Public()
	require.NoError(t, err)
	// On edwards25519 the stealth address is the Ed25519 public key.
	require.Equal(t, payment.StealthAddress[:], []byte(pub))
}

func TestMetaAddressMarshalling(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			keys := GenerateMetaKeys(rand.Reader, group)
			original := keys.Address()
			data, err := original.MarshalBinary()
			require.NoError(t, err)

			decoded := EmptyMetaAddress(group)
			require.NoError(t, decoded.UnmarshalBinary(data))
			assert.True(t, decoded.SpendPub.Equal(original.SpendPub))
			assert.True(t, decoded.ViewPub.Equal(original.ViewPub))

			// A payment addressed to the decoded copy must reach the
			// original keys.
			payment, err := GeneratePayment(rand.Reader, group, decoded, nil)
			require.NoError(t, err)
			require.True(t, IsMyPayment(keys.ViewPriv, keys.SpendPub, payment.EphemeralPub, payment.StealthAddress))
		})
	}
}
