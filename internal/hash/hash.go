package hash

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/zeebo/blake3"
)

const DigestLengthBytes = params.HashBytes // 64

// Hash is the hash function used for deriving tweaks, nullifiers, addresses
// and name commitments.
//
// Internally, this is a wrapper around blake3.Hasher, but any hash function
// with an easily extendable output would work as well.
type Hash struct {
	h *blake3.Hasher
}

// New creates a Hash seeded with a fixed domain string, so that hashes
// computed for one purpose can never collide with hashes computed for
// another. The domains used by this module are listed in internal/params.
func New(domain string) *Hash {
	hash := &Hash{h: blake3.New()}
	_, _ = hash.h.Write([]byte("(" + domain + ")"))
	return hash
}

// Digest returns a reader for the current output of the function.
//
// This finalizes the current state of the hash, and returns what's
// essentially a stream of random bytes.
func (hash *Hash) Digest() io.Reader {
	return hash.h.Digest()
}

// Sum returns a slice of length DigestLengthBytes resulting from the current
// hash state. If a different length is required, use
// io.ReadFull(hash.Digest(), out) instead.
func (hash *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(hash.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash.Sum: internal hash failure: %v", err))
	}
	return out
}

// Sum32 returns the first 32 bytes of the current hash state, the width of
// addresses, nullifiers and commitments.
func (hash *Hash) Sum32() [32]byte {
	var out [32]byte
	if _, err := io.ReadFull(hash.Digest(), out[:]); err != nil {
		panic(fmt.Sprintf("hash.Sum32: internal hash failure: %v", err))
	}
	return out
}

// WriteAny takes many different data types and writes them to the hash state.
//
// Currently supported types:
//
//   - []byte
//   - uint64
//   - encoding.BinaryMarshaler (scalars, points)
//   - hash.WriterToWithDomain
//
// This function applies its own domain separation for the first three types.
// The last type already suggests which domain to use, and this function
// respects it.
func (hash *Hash) WriteAny(data ...interface{}) error {
	for _, d := range data {
		switch t := d.(type) {
		case []byte:
			err := writeWithDomain(hash.h, BytesWithDomain{
				TheDomain: "[]byte",
				Bytes:     t,
			})
			if err != nil {
				return fmt.Errorf("hash.Hash: write []byte: %w", err)
			}
		case uint64:
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], t)
			err := writeWithDomain(hash.h, BytesWithDomain{
				TheDomain: "uint64",
				Bytes:     buf[:],
			})
			if err != nil {
				return fmt.Errorf("hash.Hash: write uint64: %w", err)
			}
		case encoding.BinaryMarshaler:
			bytes, err := t.MarshalBinary()
			if err != nil {
				return fmt.Errorf("hash.Hash: marshal: %w", err)
			}
			err = writeWithDomain(hash.h, BytesWithDomain{
				TheDomain: "BinaryMarshaler",
				Bytes:     bytes,
			})
			if err != nil {
				return fmt.Errorf("hash.Hash: write BinaryMarshaler: %w", err)
			}
		case WriterToWithDomain:
			if err := writeWithDomain(hash.h, t); err != nil {
				return fmt.Errorf("hash.Hash: write %s: %w", t.Domain(), err)
			}
		default:
			panic("hash.Hash: unsupported type")
		}
	}
	return nil
}

// Clone returns a copy of the Hash in its current state.
func (hash *Hash) Clone() *Hash {
	return &Hash{h: hash.h.Clone()}
}
