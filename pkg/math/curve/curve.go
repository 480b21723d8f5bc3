package curve

import (
	"encoding"
	"errors"

	"github.com/cronokirby/saferith"
)

// ErrInvalidKeyMaterial is returned when bytes fail to decode as a scalar or
// a point: wrong length, out of range, off curve, or a non-canonical
// encoding. Decoding fails closed; values are never clamped into range.
var ErrInvalidKeyMaterial = errors.New("curve: invalid key material")

// Curve represents the starting point for working with an elliptic curve
// group. Implementations are empty structs, so a Curve can be compared with
// == to check that two values belong to the same group.
type Curve interface {
	NewPoint() Point
	NewBasePoint() Point
	NewScalar() Scalar
	Name() string
	// ScalarBits returns the number of significant bits in a scalar.
	ScalarBits() int
	// SafeScalarBytes returns the number of random bytes needed to sample
	// a scalar through modular reduction without noticeable bias.
	SafeScalarBytes() int
	Order() *saferith.Modulus
}

// Scalar is an element of the prime-order group of scalars associated with
// a Curve.
//
// Arithmetic methods mutate the receiver and return it, so operations can be
// chained. Use Set to copy a scalar before mutating when the original must
// survive.
type Scalar interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Curve() Curve
	Add(Scalar) Scalar
	Sub(Scalar) Scalar
	Negate() Scalar
	Mul(Scalar) Scalar
	Invert() Scalar
	Equal(Scalar) bool
	IsZero() bool
	Set(Scalar) Scalar
	SetNat(*saferith.Nat) Scalar
	// Act returns the result of acting on a point with this scalar, i.e.
	// the scalar multiplication s⋅P. The receiver is not modified.
	Act(Point) Point
	// ActOnBase returns s⋅G, with G the group generator.
	ActOnBase() Point
}

// Point is an element of the elliptic curve group.
//
// Unlike scalars, the arithmetic methods allocate and return a fresh point,
// leaving the receiver untouched.
type Point interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Curve() Curve
	Add(Point) Point
	Sub(Point) Point
	Negate() Point
	Equal(Point) bool
	IsIdentity() bool
}

// FromHash converts a hash value to a Scalar.
//
// There is some disagreement about how this should be done. [NSA] suggests
// that this is done in the obvious manner, but [SECG] truncates the hash to
// the bit-length of the curve order first. We follow [SECG] because that's
// what OpenSSL does. Additionally, OpenSSL right shifts excess bits from the
// number if the hash is too large and we mirror that too.
func FromHash(group Curve, h []byte) Scalar {
	order := group.Order()
	orderBits := order.BitLen()
	orderBytes := (orderBits + 7) / 8
	if len(h) > orderBytes {
		h = h[:orderBytes]
	}
	s := new(saferith.Nat).SetBytes(h)
	excess := len(h)*8 - orderBits
	if excess > 0 {
		s.Rsh(s, uint(excess), -1)
	}
	return group.NewScalar().SetNat(s)
}
