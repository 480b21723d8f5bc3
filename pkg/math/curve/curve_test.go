package curve

import (
	"crypto/rand"
	"testing"

	"github.com/cronokirby/saferith"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGroups = []Curve{Edwards25519{}, Secp256k1{}}

func randomScalar(t *testing.T, group Curve) Scalar {
	t.Helper()
	buf := make([]byte, group.SafeScalarBytes())
	_, err := rand.Read(buf)
	require.NoError(t, err)
	s := group.NewScalar().SetNat(new(saferith.Nat).SetBytes(buf))
	require.False(t, s.IsZero())
	return s
}

func TestCurveComparable(t *testing.T) {
	var a, b Curve = Edwards25519{}, Edwards25519{}
	assert.True(t, a == b)
	assert.False(t, a == Curve(Secp256k1{}))
	assert.Equal(t, "edwards25519", a.Name())
	assert.Equal(t, "secp256k1", Secp256k1{}.Name())
}

func TestBasePointDouble(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			two := group.NewScalar().SetNat(new(saferith.Nat).SetUint64(2))
			g := group.NewBasePoint()
			assert.True(t, g.Add(g).Equal(two.ActOnBase()))
		})
	}
}

func TestPointNegate(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			g := group.NewBasePoint()
			assert.True(t, g.Add(g.Negate()).IsIdentity())
			assert.True(t, g.Sub(g).IsIdentity())
			assert.True(t, group.NewPoint().Sub(g).Equal(g.Negate()))
		})
	}
}

func TestScalarDistributesOverAct(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			a := randomScalar(t, group)
			b := randomScalar(t, group)
			sum := group.NewScalar().Set(a).Add(b)
			assert.True(t, sum.ActOnBase().Equal(a.ActOnBase().Add(b.ActOnBase())))
		})
	}
}

func TestScalarInvert(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			a := randomScalar(t, group)
			p := randomScalar(t, group).ActOnBase()
			inv := group.NewScalar().Set(a).Invert()
			assert.True(t, inv.Act(a.Act(p)).Equal(p))
		})
	}
}

func TestScalarSubAdd(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			x := randomScalar(t, group)
			y := randomScalar(t, group)
			z := group.NewScalar().Set(x).Sub(y).Add(y)
			assert.True(t, z.Equal(x))
			assert.True(t, group.NewScalar().Set(x).Sub(x).IsZero())
		})
	}
}

func TestScalarMarshalRoundTrip(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			s := randomScalar(t, group)
			data, err := s.MarshalBinary()
			require.NoError(t, err)
			assert.Len(t, data, 32)
			s2 := group.NewScalar()
			require.NoError(t, s2.UnmarshalBinary(data))
			assert.True(t, s.Equal(s2))
		})
	}
}

func TestScalarUnmarshalRejects(t *testing.T) {
	overflow := make([]byte, 32)
	for i := range overflow {
		overflow[i] = 0xff
	}
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			for _, data := range [][]byte{nil, make([]byte, 31), make([]byte, 33), overflow} {
				err := group.NewScalar().UnmarshalBinary(data)
				assert.ErrorIs(t, err, ErrInvalidKeyMaterial)
			}
		})
	}
}

func TestPointMarshalRoundTrip(t *testing.T) {
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			p := randomScalar(t, group).ActOnBase()
			data, err := p.MarshalBinary()
			require.NoError(t, err)
			p2 := group.NewPoint()
			require.NoError(t, p2.UnmarshalBinary(data))
			assert.True(t, p.Equal(p2))

			neg, err := p.Negate().MarshalBinary()
			require.NoError(t, err)
			assert.NotEqual(t, data, neg)
		})
	}
}

func TestPointUnmarshalRejects(t *testing.T) {
	t.Run("edwards25519", func(t *testing.T) {
		group := Edwards25519{}
		for _, data := range [][]byte{nil, make([]byte, 31), make([]byte, 33)} {
			assert.ErrorIs(t, group.NewPoint().UnmarshalBinary(data), ErrInvalidKeyMaterial)
		}
		// The identity encodes as y=1 with the x sign bit clear. Setting
		// the sign bit yields a second encoding of the same point, which
		// must not be accepted.
		nonCanonical := make([]byte, 32)
		nonCanonical[0] = 1
		require.NoError(t, group.NewPoint().UnmarshalBinary(nonCanonical))
		nonCanonical[31] |= 0x80
		assert.ErrorIs(t, group.NewPoint().UnmarshalBinary(nonCanonical), ErrInvalidKeyMaterial)
	})
	t.Run("secp256k1", func(t *testing.T) {
		group := Secp256k1{}
		for _, data := range [][]byte{nil, make([]byte, 32), make([]byte, 34)} {
			assert.ErrorIs(t, group.NewPoint().UnmarshalBinary(data), ErrInvalidKeyMaterial)
		}
		badPrefix := make([]byte, 33)
		badPrefix[0] = 5
		assert.ErrorIs(t, group.NewPoint().UnmarshalBinary(badPrefix), ErrInvalidKeyMaterial)

		outOfRange := make([]byte, 33)
		outOfRange[0] = 2
		for i := 1; i < len(outOfRange); i++ {
			outOfRange[i] = 0xff
		}
		assert.ErrorIs(t, group.NewPoint().UnmarshalBinary(outOfRange), ErrInvalidKeyMaterial)
	})
}

func TestFromHash(t *testing.T) {
	h := make([]byte, 64)
	for i := range h {
		h[i] = byte(i + 1)
	}
	for _, group := range testGroups {
		t.Run(group.Name(), func(t *testing.T) {
			s := FromHash(group, h)
			assert.True(t, s.Equal(FromHash(group, h)))
			// Hashes wider than the order are truncated to its byte
			// length before reduction.
			assert.True(t, s.Equal(FromHash(group, h[:32])))
			assert.False(t, s.Equal(FromHash(group, h[1:33])))
		})
	}
}
