package mpc

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shadowvest/shadowvest-go/internal/params"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// deriveComputeKey maps an X25519 shared secret to the request's symmetric
// key, salted with the ephemeral public key.
func deriveComputeKey(shared, ephemeralPub []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, shared, ephemeralPub, []byte(params.DomainComputeKey))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("mpc: derive compute key: %w", err)
	}
	return key, nil
}

// Cipher is the symmetric half of an exchange: a ChaCha20-Poly1305 key with
// a base u128 nonce. Ciphertext index i is sealed under nonce base+i, so
// both sides agree on per-value nonces from the base alone.
type Cipher struct {
	aead cipher.AEAD
	base [16]byte
}

// NewCipher builds a Cipher from a derived key and base nonce.
func NewCipher(key []byte, baseNonce [16]byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("mpc: init cipher: %w", err)
	}
	return &Cipher{aead: aead, base: baseNonce}, nil
}

// nonceAt returns the wire nonce for ciphertext index i: the base u128 plus
// i, little-endian, truncated to the AEAD's 12 bytes.
func (c *Cipher) nonceAt(i uint64) []byte {
	lo := binary.LittleEndian.Uint64(c.base[:8])
	hi := binary.LittleEndian.Uint64(c.base[8:])
	sum := lo + i
	if sum < lo {
		hi++
	}
	var full [16]byte
	binary.LittleEndian.PutUint64(full[:8], sum)
	binary.LittleEndian.PutUint64(full[8:], hi)
	return full[:chacha20poly1305.NonceSize]
}

// Seal encrypts one 16-byte block at the given nonce index. The result is
// always exactly CiphertextSize bytes (block plus tag).
func (c *Cipher) Seal(index uint64, block [params.BlockSize]byte) [params.CiphertextSize]byte {
	var out [params.CiphertextSize]byte
	copy(out[:], c.aead.Seal(nil, c.nonceAt(index), block[:], nil))
	return out
}

// Open decrypts one ciphertext at the given nonce index.
func (c *Cipher) Open(index uint64, ct [params.CiphertextSize]byte) ([params.BlockSize]byte, error) {
	var block [params.BlockSize]byte
	plain, err := c.aead.Open(nil, c.nonceAt(index), ct[:], nil)
	if err != nil {
		return block, ErrDecryptionFailed
	}
	copy(block[:], plain)
	return block, nil
}

// SealValue encrypts a u64 widened to a little-endian u128 block.
func (c *Cipher) SealValue(index uint64, v uint64) [params.CiphertextSize]byte {
	var block [params.BlockSize]byte
	binary.LittleEndian.PutUint64(block[:8], v)
	return c.Seal(index, block)
}

// OpenValue decrypts a u64 sealed with SealValue, rejecting plaintexts that
// use the upper half of the u128 block.
func (c *Cipher) OpenValue(index uint64, ct [params.CiphertextSize]byte) (uint64, error) {
	block, err := c.Open(index, ct)
	if err != nil {
		return 0, err
	}
	if hi := binary.LittleEndian.Uint64(block[8:]); hi != 0 {
		return 0, fmt.Errorf("%w: value exceeds 64 bits", ErrDecryptionFailed)
	}
	return binary.LittleEndian.Uint64(block[:8]), nil
}

// Exchange is the client side of one request's key agreement: the ephemeral
// public key and base nonce submitted with the request, plus the derived
// cipher. Encrypt calls continue a single nonce sequence, so one Exchange
// never reuses a nonce; use a fresh Exchange per request.
type Exchange struct {
	EphemeralPub [32]byte
	Nonce        [16]byte

	cipher *Cipher
	next   uint64
}

// NewExchange performs an ephemeral ECDH against the cluster's public key
// and fixes a fresh base nonce. Low-order cluster keys are rejected.
func NewExchange(rand io.Reader, clusterKey [32]byte) (*Exchange, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand, priv[:]); err != nil {
		return nil, fmt.Errorf("mpc: sample ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mpc: ephemeral public key: %w", err)
	}
	shared, err := curve25519.X25519(priv[:], clusterKey[:])
	if err != nil {
		return nil, fmt.Errorf("mpc: key exchange: %w", err)
	}
	key, err := deriveComputeKey(shared, pub)
	if err != nil {
		return nil, err
	}

	x := &Exchange{}
	copy(x.EphemeralPub[:], pub)
	if _, err := io.ReadFull(rand, x.Nonce[:]); err != nil {
		return nil, fmt.Errorf("mpc: sample base nonce: %w", err)
	}
	x.cipher, err = NewCipher(key, x.Nonce)
	if err != nil {
		return nil, err
	}
	return x, nil
}

// SharedCipher derives the cluster's side of an exchange from its private
// scalar, the requester's ephemeral public key and the request's base nonce.
// Cluster emulators use this to open request ciphertexts.
func SharedCipher(clusterPriv, ephemeralPub [32]byte, baseNonce [16]byte) (*Cipher, error) {
	shared, err := curve25519.X25519(clusterPriv[:], ephemeralPub[:])
	if err != nil {
		return nil, fmt.Errorf("mpc: key exchange: %w", err)
	}
	key, err := deriveComputeKey(shared, ephemeralPub[:])
	if err != nil {
		return nil, err
	}
	return NewCipher(key, baseNonce)
}

// Encrypt seals each u64 value at the next indices of the nonce sequence.
func (x *Exchange) Encrypt(values ...uint64) [][params.CiphertextSize]byte {
	out := make([][params.CiphertextSize]byte, len(values))
	for i, v := range values {
		out[i] = x.cipher.SealValue(x.next, v)
		x.next++
	}
	return out
}

// EncryptBlocks seals raw 16-byte blocks, for payloads that are genuine
// u128s such as split key halves.
func (x *Exchange) EncryptBlocks(blocks ...[params.BlockSize]byte) [][params.CiphertextSize]byte {
	out := make([][params.CiphertextSize]byte, len(blocks))
	for i, b := range blocks {
		out[i] = x.cipher.Seal(x.next, b)
		x.next++
	}
	return out
}

// Decrypt opens a response sealed under this exchange's key with the given
// base nonce, one block per ciphertext.
func (x *Exchange) Decrypt(baseNonce [16]byte, cts [][params.CiphertextSize]byte) ([][params.BlockSize]byte, error) {
	c := &Cipher{aead: x.cipher.aead, base: baseNonce}
	out := make([][params.BlockSize]byte, len(cts))
	for i, ct := range cts {
		block, err := c.Open(uint64(i), ct)
		if err != nil {
			return nil, fmt.Errorf("mpc: response ciphertext %d: %w", i, err)
		}
		out[i] = block
	}
	return out, nil
}
