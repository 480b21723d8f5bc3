package keyvault

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/shadowvest/shadowvest-go/internal/test"
	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/shadowvest/shadowvest-go/pkg/mpc"
	"github.com/shadowvest/shadowvest-go/pkg/stealth"
)

func testVault(t *testing.T) (*Vault, *test.Ledger, *test.Cluster) {
	t.Helper()
	led := test.NewLedger()
	cluster, err := test.NewCluster(led)
	require.NoError(t, err)
	client, err := mpc.NewClient(mpc.Config{
		Cluster:        cluster,
		PollInterval:   time.Millisecond,
		DefaultTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	vault, err := New(Config{Client: client, Ledger: led, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	return vault, led, cluster
}

func TestStoreRecoverRoundTrip(t *testing.T) {
	for _, group := range []curve.Curve{curve.Edwards25519{}, curve.Secp256k1{}} {
		t.Run(group.Name(), func(t *testing.T) {
			vault, led, _ := testVault(t)
			ctx := context.Background()

			keys := stealth.GenerateMetaKeys(rand.Reader, group)
			owner := stealth.AddressOf(keys.SpendPub)

			id, err := vault.Store(ctx, owner, keys)
			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, id)

			rec, err := led.Vault(ctx, owner)
			require.NoError(t, err)
			require.True(t, rec.IsInitialized)
			// The vault holds cluster-internal ciphertexts, never the
			// scalar halves themselves.
			spend, err := keys.SpendPriv.MarshalBinary()
			require.NoError(t, err)
			for _, ct := range rec.Ciphertexts {
				require.NotEqual(t, spend[:16], ct[:16])
			}

			got, err := vault.Recover(ctx, owner, group)
			require.NoError(t, err)
			require.True(t, got.SpendPriv.Equal(keys.SpendPriv))
			require.True(t, got.ViewPriv.Equal(keys.ViewPriv))
			require.True(t, got.SpendPub.Equal(keys.SpendPub))
			require.True(t, got.ViewPub.Equal(keys.ViewPub))
		})
	}
}

func TestRecoverUnknownOwner(t *testing.T) {
	vault, _, _ := testVault(t)
	// No store happened; the cluster produces no readback and the
	// deadline is the only exit.
	_, err := vault.Recover(context.Background(), [32]byte{0xee}, curve.Edwards25519{})
	require.ErrorIs(t, err, mpc.ErrComputationTimeout)
}

func TestStoreOverwrites(t *testing.T) {
	vault, _, _ := testVault(t)
	ctx := context.Background()
	group := curve.Edwards25519{}

	first := stealth.GenerateMetaKeys(rand.Reader, group)
	second := stealth.GenerateMetaKeys(rand.Reader, group)
	owner := stealth.AddressOf(first.SpendPub)

	_, err := vault.Store(ctx, owner, first)
	require.NoError(t, err)
	_, err = vault.Store(ctx, owner, second)
	require.NoError(t, err)

	got, err := vault.Recover(ctx, owner, group)
	require.NoError(t, err)
	require.True(t, got.SpendPriv.Equal(second.SpendPriv))
	require.False(t, got.SpendPriv.Equal(first.SpendPriv))
}

func TestRecoverSurfacesLedgerAndSubmitErrors(t *testing.T) {
	vault, _, cluster := testVault(t)
	cluster.SubmitErr = ledger.ErrVaultNotFound
	_, err := vault.Recover(context.Background(), [32]byte{1}, curve.Edwards25519{})
	require.ErrorIs(t, err, ledger.ErrVaultNotFound)
}

// clusterSide plays the cluster for assembleMetaKeys tests: a raw X25519
// identity plus a helper that re-encrypts chosen blocks to an exchange.
type clusterSide struct {
	priv [32]byte
	pub  [32]byte
}

func newClusterSide(t *testing.T) *clusterSide {
	t.Helper()
	cs := &clusterSide{}
	_, err := rand.Read(cs.priv[:])
	require.NoError(t, err)
	pub, err := curve25519.X25519(cs.priv[:], curve25519.Basepoint)
	require.NoError(t, err)
	copy(cs.pub[:], pub)
	return cs
}

func (cs *clusterSide) respond(t *testing.T, x *mpc.Exchange, blocks ...[16]byte) mpc.Event {
	t.Helper()
	nonce := [16]byte{0x5a}
	sc, err := mpc.SharedCipher(cs.priv, x.EphemeralPub, nonce)
	require.NoError(t, err)
	ev := mpc.Event{Definition: mpc.DefFetchMetaKeys, Nonce: nonce}
	for i, b := range blocks {
		ev.Ciphertexts = append(ev.Ciphertexts, sc.Seal(uint64(i), b))
	}
	return ev
}

func TestAssembleMetaKeysRejects(t *testing.T) {
	group := curve.Edwards25519{}
	cs := newClusterSide(t)
	x, err := mpc.NewExchange(rand.Reader, cs.pub)
	require.NoError(t, err)

	keys := stealth.GenerateMetaKeys(rand.Reader, group)
	spend, err := scalarBytes(keys.SpendPriv)
	require.NoError(t, err)
	view, err := scalarBytes(keys.ViewPriv)
	require.NoError(t, err)
	spendLo, spendHi := SplitScalar(spend)
	viewLo, viewHi := SplitScalar(view)

	t.Run("valid", func(t *testing.T) {
		ev := cs.respond(t, x, spendLo, spendHi, viewLo, viewHi)
		got, err := assembleMetaKeys(group, x, ev)
		require.NoError(t, err)
		require.True(t, got.SpendPriv.Equal(keys.SpendPriv))
	})

	t.Run("short ciphertext list", func(t *testing.T) {
		ev := cs.respond(t, x, spendLo, spendHi)
		_, err := assembleMetaKeys(group, x, ev)
		require.ErrorIs(t, err, ErrRecoveryFailed)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		ev := cs.respond(t, x, spendLo, spendHi, viewLo, viewHi)
		ev.Ciphertexts[2][0] ^= 0x80
		_, err := assembleMetaKeys(group, x, ev)
		require.ErrorIs(t, err, ErrRecoveryFailed)
	})

	t.Run("zero scalar", func(t *testing.T) {
		var zero [16]byte
		ev := cs.respond(t, x, zero, zero, viewLo, viewHi)
		_, err := assembleMetaKeys(group, x, ev)
		require.ErrorIs(t, err, ErrRecoveryFailed)
	})
}
