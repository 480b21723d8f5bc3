package curve

import (
	"bytes"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
	"github.com/cronokirby/saferith"
)

// Edwards25519 is the twisted Edwards curve used for stealth addresses and
// claim signatures. Scalars and points use the RFC 8032 little-endian
// 32-byte encodings, which makes point encodings directly usable as Ed25519
// public keys.
type Edwards25519 struct{}

func (Edwards25519) NewPoint() Point {
	return newEdwards25519Identity()
}

func (Edwards25519) NewBasePoint() Point {
	out := new(Edwards25519Point)
	out.value.Set(edwards25519.NewGeneratorPoint())
	return out
}

func (Edwards25519) NewScalar() Scalar {
	return new(Edwards25519Scalar)
}

func (Edwards25519) Name() string {
	return "edwards25519"
}

func (Edwards25519) ScalarBits() int {
	return 253
}

func (Edwards25519) SafeScalarBytes() int {
	return 64
}

var (
	edwards25519OrderOnce sync.Once
	edwards25519Order     *saferith.Modulus
)

func (Edwards25519) Order() *saferith.Modulus {
	edwards25519OrderOnce.Do(func() {
		// ℓ = 2²⁵² + 27742317777372353535851937790883648493, big endian.
		orderBytes := []byte{
			0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x14, 0xde, 0xf9, 0xde, 0xa2, 0xf7, 0x9c, 0xd6,
			0x58, 0x12, 0x63, 0x1a, 0x5c, 0xf5, 0xd3, 0xed,
		}
		edwards25519Order = saferith.ModulusFromBytes(orderBytes)
	})
	return edwards25519Order
}

type Edwards25519Scalar struct {
	value edwards25519.Scalar
}

func edwards25519CastScalar(generic Scalar) *Edwards25519Scalar {
	out, ok := generic.(*Edwards25519Scalar)
	if !ok {
		panic(fmt.Sprintf("failed to convert to edwards25519Scalar: %v", generic))
	}
	return out
}

func (*Edwards25519Scalar) Curve() Curve {
	return Edwards25519{}
}

func (s *Edwards25519Scalar) MarshalBinary() ([]byte, error) {
	return s.value.Bytes(), nil
}

func (s *Edwards25519Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("%w: invalid length for edwards25519 scalar: %d", ErrInvalidKeyMaterial, len(data))
	}
	if _, err := s.value.SetCanonicalBytes(data); err != nil {
		return fmt.Errorf("%w: non-canonical edwards25519 scalar", ErrInvalidKeyMaterial)
	}
	return nil
}

func (s *Edwards25519Scalar) Add(that Scalar) Scalar {
	other := edwards25519CastScalar(that)
	s.value.Add(&s.value, &other.value)
	return s
}

func (s *Edwards25519Scalar) Sub(that Scalar) Scalar {
	other := edwards25519CastScalar(that)
	s.value.Subtract(&s.value, &other.value)
	return s
}

func (s *Edwards25519Scalar) Negate() Scalar {
	s.value.Negate(&s.value)
	return s
}

func (s *Edwards25519Scalar) Mul(that Scalar) Scalar {
	other := edwards25519CastScalar(that)
	s.value.Multiply(&s.value, &other.value)
	return s
}

func (s *Edwards25519Scalar) Invert() Scalar {
	s.value.Invert(&s.value)
	return s
}

func (s *Edwards25519Scalar) Equal(that Scalar) bool {
	other := edwards25519CastScalar(that)
	return s.value.Equal(&other.value) == 1
}

func (s *Edwards25519Scalar) IsZero() bool {
	return s.value.Equal(edwards25519NewScalarZero()) == 1
}

func (s *Edwards25519Scalar) Set(that Scalar) Scalar {
	other := edwards25519CastScalar(that)
	s.value.Set(&other.value)
	return s
}

func (s *Edwards25519Scalar) SetNat(x *saferith.Nat) Scalar {
	reduced := new(saferith.Nat).Mod(x, Edwards25519{}.Order())
	be := reduced.Bytes()
	var le [32]byte
	for i := range be {
		le[i] = be[len(be)-1-i]
	}
	if _, err := s.value.SetCanonicalBytes(le[:]); err != nil {
		// Unreachable: the value was just reduced below the order.
		panic(fmt.Sprintf("edwards25519Scalar.SetNat: %v", err))
	}
	return s
}

// SetUniformBytes sets s to x mod ℓ, where x is a 64-byte little-endian
// value. This is the RFC 8032 wide reduction used when deriving scalars from
// SHA-512 output.
func (s *Edwards25519Scalar) SetUniformBytes(x []byte) (*Edwards25519Scalar, error) {
	if _, err := s.value.SetUniformBytes(x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return s, nil
}

func (s *Edwards25519Scalar) Act(that Point) Point {
	other := edwards25519CastPoint(that)
	out := newEdwards25519Identity()
	out.value.ScalarMult(&s.value, &other.value)
	return out
}

func (s *Edwards25519Scalar) ActOnBase() Point {
	out := newEdwards25519Identity()
	out.value.ScalarBaseMult(&s.value)
	return out
}

func edwards25519NewScalarZero() *edwards25519.Scalar {
	return edwards25519.NewScalar()
}

type Edwards25519Point struct {
	value edwards25519.Point
}

func newEdwards25519Identity() *Edwards25519Point {
	out := new(Edwards25519Point)
	out.value.Set(edwards25519.NewIdentityPoint())
	return out
}

func edwards25519CastPoint(generic Point) *Edwards25519Point {
	out, ok := generic.(*Edwards25519Point)
	if !ok {
		panic(fmt.Sprintf("failed to convert to edwards25519Point: %v", generic))
	}
	return out
}

func (*Edwards25519Point) Curve() Curve {
	return Edwards25519{}
}

func (p *Edwards25519Point) MarshalBinary() ([]byte, error) {
	return p.value.Bytes(), nil
}

func (p *Edwards25519Point) UnmarshalBinary(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("%w: invalid length for edwards25519 point: %d", ErrInvalidKeyMaterial, len(data))
	}
	if _, err := p.value.SetBytes(data); err != nil {
		return fmt.Errorf("%w: invalid edwards25519 point encoding", ErrInvalidKeyMaterial)
	}
	// SetBytes accepts a handful of non-canonical encodings of valid
	// points. Addresses and commitments are compared byte-wise, so every
	// point must have exactly one accepted encoding: re-encode and compare.
	if !bytes.Equal(p.value.Bytes(), data) {
		return fmt.Errorf("%w: non-canonical edwards25519 point encoding", ErrInvalidKeyMaterial)
	}
	return nil
}

func (p *Edwards25519Point) Add(that Point) Point {
	other := edwards25519CastPoint(that)
	out := newEdwards25519Identity()
	out.value.Add(&p.value, &other.value)
	return out
}

func (p *Edwards25519Point) Sub(that Point) Point {
	other := edwards25519CastPoint(that)
	out := newEdwards25519Identity()
	out.value.Subtract(&p.value, &other.value)
	return out
}

func (p *Edwards25519Point) Negate() Point {
	out := newEdwards25519Identity()
	out.value.Negate(&p.value)
	return out
}

func (p *Edwards25519Point) Equal(that Point) bool {
	other := edwards25519CastPoint(that)
	return p.value.Equal(&other.value) == 1
}

func (p *Edwards25519Point) IsIdentity() bool {
	return p.value.Equal(edwards25519.NewIdentityPoint()) == 1
}
