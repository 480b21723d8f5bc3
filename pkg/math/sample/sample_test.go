package sample

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
)

// zeroReader always reads zero bytes, which SetNat reduces to the zero
// scalar.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestScalar(t *testing.T) {
	for _, group := range []curve.Curve{curve.Edwards25519{}, curve.Secp256k1{}} {
		t.Run(group.Name(), func(t *testing.T) {
			s := Scalar(rand.Reader, group)
			require.True(t, s.Curve() == group)

			data, err := s.MarshalBinary()
			require.NoError(t, err)
			s2 := group.NewScalar()
			require.NoError(t, s2.UnmarshalBinary(data))
			assert.True(t, s.Equal(s2))

			assert.False(t, s.Equal(Scalar(rand.Reader, group)))
		})
	}
}

func TestScalarUnit(t *testing.T) {
	for _, group := range []curve.Curve{curve.Edwards25519{}, curve.Secp256k1{}} {
		t.Run(group.Name(), func(t *testing.T) {
			for i := 0; i < 128; i++ {
				assert.False(t, ScalarUnit(rand.Reader, group).IsZero())
			}
		})
	}
}

func TestScalarUnitGivesUpOnZeroes(t *testing.T) {
	assert.PanicsWithValue(t, ErrMaxIterations, func() {
		ScalarUnit(zeroReader{}, curve.Edwards25519{})
	})
}

func TestScalarPointPair(t *testing.T) {
	for _, group := range []curve.Curve{curve.Edwards25519{}, curve.Secp256k1{}} {
		t.Run(group.Name(), func(t *testing.T) {
			s, p := ScalarPointPair(rand.Reader, group)
			require.False(t, s.IsZero())
			assert.True(t, p.Equal(s.ActOnBase()))
			assert.False(t, p.IsIdentity())
		})
	}
}
