package stealth

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// payloadKey derives the XChaCha20-Poly1305 key for a payment payload from
// the ECDH shared secret, salted with the ephemeral public key so the same
// view key never yields the same payload key twice.
func payloadKey(shared, ephemeralPub curve.Point) ([]byte, error) {
	sharedBytes, err := shared.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("stealth: marshal shared secret: %w", err)
	}
	ephBytes, err := ephemeralPub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("stealth: marshal ephemeral key: %w", err)
	}
	kdf := hkdf.New(sha256.New, sharedBytes, ephBytes, []byte(params.DomainPayloadKey))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("stealth: derive payload key: %w", err)
	}
	return key, nil
}

// sealPayload encrypts the ephemeral secret and note for the recipient.
//
// Layout: nonce(24) ‖ ciphertext(88) ‖ tag(16), always PayloadSize bytes.
// The plaintext is ephemeralPriv(32) ‖ noteLen(1) ‖ note padded to
// NoteCapacity, so payload size leaks nothing about the note. The ephemeral
// public key is bound as associated data.
func sealPayload(rand io.Reader, shared, ephemeralPub curve.Point, ephemeralPriv curve.Scalar, note []byte) ([params.PayloadSize]byte, error) {
	var out [params.PayloadSize]byte

	key, err := payloadKey(shared, ephemeralPub)
	if err != nil {
		return out, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return out, fmt.Errorf("stealth: init aead: %w", err)
	}

	privBytes, err := ephemeralPriv.MarshalBinary()
	if err != nil {
		return out, fmt.Errorf("stealth: marshal ephemeral secret: %w", err)
	}
	if len(privBytes) != params.SecBytes {
		return out, fmt.Errorf("stealth: unexpected scalar width %d", len(privBytes))
	}

	plaintext := make([]byte, 0, params.SecBytes+1+params.NoteCapacity)
	plaintext = append(plaintext, privBytes...)
	plaintext = append(plaintext, byte(len(note)))
	plaintext = append(plaintext, note...)
	plaintext = append(plaintext, make([]byte, params.NoteCapacity-len(note))...)

	nonce := out[:params.PayloadNonceSize]
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return out, fmt.Errorf("stealth: sample payload nonce: %w", err)
	}
	ephBytes, err := ephemeralPub.MarshalBinary()
	if err != nil {
		return out, fmt.Errorf("stealth: marshal ephemeral key: %w", err)
	}
	copy(out[params.PayloadNonceSize:], aead.Seal(nil, nonce, plaintext, ephBytes))
	return out, nil
}

// DecryptPayload opens a payment payload with the view key, returning the
// ephemeral secret scalar and the note (nil when none was attached). Any
// authentication failure surfaces as ErrDecryptionFailed.
func DecryptPayload(payload [params.PayloadSize]byte, viewPriv curve.Scalar, ephemeralPub curve.Point) (curve.Scalar, []byte, error) {
	group := viewPriv.Curve()
	if ephemeralPub.Curve() != group {
		return nil, nil, fmt.Errorf("%w: mixed groups", curve.ErrInvalidKeyMaterial)
	}
	if ephemeralPub.IsIdentity() {
		return nil, nil, fmt.Errorf("%w: identity ephemeral key", curve.ErrInvalidKeyMaterial)
	}
	shared := viewPriv.Act(ephemeralPub)
	if shared.IsIdentity() {
		return nil, nil, fmt.Errorf("%w: low order ephemeral key", curve.ErrInvalidKeyMaterial)
	}

	key, err := payloadKey(shared, ephemeralPub)
	if err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("stealth: init aead: %w", err)
	}
	ephBytes, err := ephemeralPub.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("stealth: marshal ephemeral key: %w", err)
	}

	plaintext, err := aead.Open(nil, payload[:params.PayloadNonceSize], payload[params.PayloadNonceSize:], ephBytes)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	if len(plaintext) != params.SecBytes+1+params.NoteCapacity {
		return nil, nil, fmt.Errorf("%w: truncated plaintext", ErrDecryptionFailed)
	}

	ephemeralPriv := group.NewScalar()
	if err := ephemeralPriv.UnmarshalBinary(plaintext[:params.SecBytes]); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	noteLen := int(plaintext[params.SecBytes])
	if noteLen > params.NoteCapacity {
		return nil, nil, fmt.Errorf("%w: corrupt note length", ErrDecryptionFailed)
	}
	var note []byte
	if noteLen > 0 {
		note = append([]byte(nil), plaintext[params.SecBytes+1:params.SecBytes+1+noteLen]...)
	}
	return ephemeralPriv, note, nil
}
