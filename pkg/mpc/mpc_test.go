package mpc

import (
	"context"
	"crypto/rand"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/sync/errgroup"
)

// stubCluster records submissions and serves a fixed key pair.
type stubCluster struct {
	priv     [32]byte
	pub      [32]byte
	keyCalls int32
	keyErr   error
	last     *Request
}

func newStubCluster(t *testing.T) *stubCluster {
	t.Helper()
	s := &stubCluster{}
	_, err := rand.Read(s.priv[:])
	require.NoError(t, err)
	pub, err := curve25519.X25519(s.priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	copy(s.pub[:], pub)
	return s
}

func (s *stubCluster) ClusterKey(context.Context) ([32]byte, error) {
	atomic.AddInt32(&s.keyCalls, 1)
	if s.keyErr != nil {
		return [32]byte{}, s.keyErr
	}
	return s.pub, nil
}

func (s *stubCluster) Submit(_ context.Context, req *Request) error {
	s.last = req
	return nil
}

func (s *stubCluster) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func testClient(t *testing.T, cluster Cluster) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Cluster:        cluster,
		PollInterval:   time.Millisecond,
		DefaultTimeout: 50 * time.Millisecond,
		ClaimTimeout:   100 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestExchangeRoundTrip(t *testing.T) {
	cluster := newStubCluster(t)
	x, err := NewExchange(rand.Reader, cluster.pub)
	require.NoError(t, err)

	values := []uint64{0, 1, 1_000_000, 1<<64 - 1}
	cts := x.Encrypt(values...)
	require.Len(t, cts, len(values))

	shared, err := SharedCipher(cluster.priv, x.EphemeralPub, x.Nonce)
	require.NoError(t, err)
	for i, want := range values {
		got, err := shared.OpenValue(uint64(i), cts[i])
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestExchangeNonceSequence(t *testing.T) {
	cluster := newStubCluster(t)
	x, err := NewExchange(rand.Reader, cluster.pub)
	require.NoError(t, err)

	first := x.Encrypt(11, 22)
	second := x.Encrypt(33, 44)

	shared, err := SharedCipher(cluster.priv, x.EphemeralPub, x.Nonce)
	require.NoError(t, err)

	// The second batch continues the nonce sequence at index 2.
	for i, tt := range []struct {
		ct   [params.CiphertextSize]byte
		want uint64
	}{
		{first[0], 11}, {first[1], 22}, {second[0], 33}, {second[1], 44},
	} {
		got, err := shared.OpenValue(uint64(i), tt.ct)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	// Opening at the wrong index must fail.
	_, err = shared.OpenValue(0, second[0])
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCipherRejects(t *testing.T) {
	cluster := newStubCluster(t)
	x, err := NewExchange(rand.Reader, cluster.pub)
	require.NoError(t, err)
	shared, err := SharedCipher(cluster.priv, x.EphemeralPub, x.Nonce)
	require.NoError(t, err)

	cts := x.Encrypt(77)

	tampered := cts[0]
	tampered[4] ^= 1
	_, err = shared.OpenValue(0, tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	// A foreign key cannot open the ciphertext.
	var otherPriv [32]byte
	_, err = rand.Read(otherPriv[:])
	require.NoError(t, err)
	foreign, err := SharedCipher(otherPriv, x.EphemeralPub, x.Nonce)
	require.NoError(t, err)
	_, err = foreign.OpenValue(0, cts[0])
	require.ErrorIs(t, err, ErrDecryptionFailed)

	// A genuine u128 block does not decode as a u64 value.
	var wide [params.BlockSize]byte
	wide[12] = 1
	wideCt := shared.Seal(9, wide)
	_, err = shared.OpenValue(9, wideCt)
	require.ErrorIs(t, err, ErrDecryptionFailed)
	back, err := shared.Open(9, wideCt)
	require.NoError(t, err)
	require.Equal(t, wide, back)
}

func TestExchangeDecryptResponse(t *testing.T) {
	cluster := newStubCluster(t)
	x, err := NewExchange(rand.Reader, cluster.pub)
	require.NoError(t, err)

	// The cluster answers under the same key but its own base nonce.
	var responseNonce [16]byte
	responseNonce[0] = 0xAA
	clusterSide, err := SharedCipher(cluster.priv, x.EphemeralPub, responseNonce)
	require.NoError(t, err)

	blocks := [][params.BlockSize]byte{{1, 2, 3}, {4, 5, 6}}
	cts := make([][params.CiphertextSize]byte, len(blocks))
	for i, b := range blocks {
		cts[i] = clusterSide.Seal(uint64(i), b)
	}

	got, err := x.Decrypt(responseNonce, cts)
	require.NoError(t, err)
	require.Equal(t, blocks, got)

	_, err = x.Decrypt([16]byte{0xBB}, cts)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestClusterKeyCached(t *testing.T) {
	cluster := newStubCluster(t)
	c := testClient(t, cluster)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			key, err := c.ClusterKey(ctx)
			if err != nil {
				return err
			}
			if key != cluster.pub {
				return errors.New("wrong key")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	calls := atomic.LoadInt32(&cluster.keyCalls)
	require.LessOrEqual(t, calls, int32(2), "concurrent cold reads should share flights")

	// Warm reads never touch the cluster.
	for i := 0; i < 4; i++ {
		_, err := c.ClusterKey(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, calls, atomic.LoadInt32(&cluster.keyCalls))

	c.InvalidateClusterKey()
	_, err := c.ClusterKey(ctx)
	require.NoError(t, err)
	require.Equal(t, calls+1, atomic.LoadInt32(&cluster.keyCalls))
}

func TestClusterKeyError(t *testing.T) {
	cluster := newStubCluster(t)
	cluster.keyErr = errors.New("unreachable")
	c := testClient(t, cluster)

	_, err := c.ClusterKey(context.Background())
	require.ErrorContains(t, err, "unreachable")

	// Failures are not cached.
	cluster.keyErr = nil
	key, err := c.ClusterKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, cluster.pub, key)
}

func TestSubmitAssignsID(t *testing.T) {
	cluster := newStubCluster(t)
	c := testClient(t, cluster)

	req := &Request{Definition: DefInitPosition}
	require.NoError(t, c.Submit(context.Background(), req))
	require.NotEqual(t, uuid.Nil, req.ID)
	require.Same(t, req, cluster.last)

	fixed := uuid.New()
	req2 := &Request{ID: fixed, Definition: DefProcessClaim}
	require.NoError(t, c.Submit(context.Background(), req2))
	require.Equal(t, fixed, req2.ID)
}

func TestAwait(t *testing.T) {
	c := testClient(t, newStubCluster(t))
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		polls := 0
		err := c.Await(ctx, 0, func(context.Context) (bool, error) {
			polls++
			return true, nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, polls)
	})

	t.Run("after several polls", func(t *testing.T) {
		polls := 0
		err := c.Await(ctx, 0, func(context.Context) (bool, error) {
			polls++
			return polls >= 5, nil
		})
		require.NoError(t, err)
		require.Equal(t, 5, polls)
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		err := c.Await(ctx, 10*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, ErrComputationTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := c.Await(cctx, time.Minute, func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("predicate error aborts", func(t *testing.T) {
		boom := errors.New("ledger down")
		err := c.Await(ctx, time.Minute, func(context.Context) (bool, error) {
			return false, boom
		})
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, ErrComputationTimeout)
	})
}
