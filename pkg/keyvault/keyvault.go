// Package keyvault backs up and recovers stealth meta keys through the
// confidential compute cluster.
//
// Secrets never travel in plaintext: each 32-byte scalar is split into two
// 16-byte halves, sealed under a fresh exchange with the cluster key, and
// held by the vault re-encrypted under the cluster's own key. Recovery asks
// the cluster to re-encrypt the halves to a new exchange; the scalars are
// reassembled and validated locally.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shadowvest/shadowvest-go/internal/params"
	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/shadowvest/shadowvest-go/pkg/mpc"
	"github.com/shadowvest/shadowvest-go/pkg/stealth"
)

// ErrRecoveryFailed covers every way a vault readback can fail to produce a
// usable identity: wrong ciphertext count, unauthentic ciphertexts, or
// non-canonical scalars.
var ErrRecoveryFailed = errors.New("keyvault: recovery failed")

// SplitScalar splits a canonical 32-byte scalar encoding into its 16-byte
// halves, the block width of the cluster cipher.
func SplitScalar(b [32]byte) (lo, hi [params.BlockSize]byte) {
	copy(lo[:], b[:params.BlockSize])
	copy(hi[:], b[params.BlockSize:])
	return lo, hi
}

// JoinScalar reassembles a scalar encoding from its halves.
func JoinScalar(lo, hi [params.BlockSize]byte) [32]byte {
	var out [32]byte
	copy(out[:params.BlockSize], lo[:])
	copy(out[params.BlockSize:], hi[:])
	return out
}

// Config carries the vault's collaborators.
type Config struct {
	Client *mpc.Client
	Ledger ledger.Ledger
	// Timeout bounds one store or recover round trip. Defaults to the
	// standard computation budget.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Vault drives the store and recover flows against the cluster.
type Vault struct {
	client  *mpc.Client
	ledger  ledger.Ledger
	timeout time.Duration
	log     zerolog.Logger
}

// New validates the config and applies defaults.
func New(cfg Config) (*Vault, error) {
	if cfg.Client == nil {
		return nil, errors.New("keyvault: config requires an mpc client")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("keyvault: config requires a ledger")
	}
	v := &Vault{
		client:  cfg.Client,
		ledger:  cfg.Ledger,
		timeout: cfg.Timeout,
		log:     zerolog.Nop(),
	}
	if v.timeout <= 0 {
		v.timeout = params.DefaultComputeTimeout
	}
	if cfg.Logger != nil {
		v.log = *cfg.Logger
	}
	return v, nil
}

// Store seals the identity's secret scalars for the cluster as
// [spendLo, spendHi, viewLo, viewHi] and waits until the vault record is
// stamped initialized. A second store for the same owner overwrites.
func (v *Vault) Store(ctx context.Context, owner [32]byte, keys *stealth.MetaKeys) (uuid.UUID, error) {
	spend, err := scalarBytes(keys.SpendPriv)
	if err != nil {
		return uuid.Nil, fmt.Errorf("keyvault: spend key: %w", err)
	}
	view, err := scalarBytes(keys.ViewPriv)
	if err != nil {
		return uuid.Nil, fmt.Errorf("keyvault: view key: %w", err)
	}

	x, err := v.client.NewExchange(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	spendLo, spendHi := SplitScalar(spend)
	viewLo, viewHi := SplitScalar(view)

	req := &mpc.Request{
		Definition:   mpc.DefStoreMetaKeys,
		EphemeralPub: x.EphemeralPub,
		Nonce:        x.Nonce,
		Ciphertexts:  x.EncryptBlocks(spendLo, spendHi, viewLo, viewHi),
		Owner:        owner,
	}
	if err := v.client.Submit(ctx, req); err != nil {
		return uuid.Nil, err
	}
	v.log.Debug().Str("request", req.ID.String()).Msg("meta keys submitted to vault")

	err = v.client.Await(ctx, v.timeout, func(ctx context.Context) (bool, error) {
		rec, err := v.ledger.Vault(ctx, owner)
		if errors.Is(err, ledger.ErrVaultNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec.IsInitialized, nil
	})
	return req.ID, err
}

// Recover asks the cluster to re-encrypt the vaulted identity to a fresh
// exchange, then reassembles the meta keys on the given group.
func (v *Vault) Recover(ctx context.Context, owner [32]byte, group curve.Curve) (*stealth.MetaKeys, error) {
	// Subscribe before submitting so the result cannot slip past.
	events, err := v.client.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyvault: open result stream: %w", err)
	}

	x, err := v.client.NewExchange(ctx)
	if err != nil {
		return nil, err
	}
	req := &mpc.Request{
		Definition:   mpc.DefFetchMetaKeys,
		EphemeralPub: x.EphemeralPub,
		Nonce:        x.Nonce,
		Owner:        owner,
	}
	if err := v.client.Submit(ctx, req); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(v.timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w awaiting vault readback", mpc.ErrComputationTimeout)
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("keyvault: result stream closed")
			}
			if ev.RequestID != req.ID {
				continue
			}
			return assembleMetaKeys(group, x, ev)
		}
	}
}

func assembleMetaKeys(group curve.Curve, x *mpc.Exchange, ev mpc.Event) (*stealth.MetaKeys, error) {
	if len(ev.Ciphertexts) != 4 {
		return nil, fmt.Errorf("%w: %d ciphertexts", ErrRecoveryFailed, len(ev.Ciphertexts))
	}
	blocks, err := x.Decrypt(ev.Nonce, ev.Ciphertexts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	spendBytes := JoinScalar(blocks[0], blocks[1])
	viewBytes := JoinScalar(blocks[2], blocks[3])

	spend := group.NewScalar()
	if err := spend.UnmarshalBinary(spendBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: spend scalar: %v", ErrRecoveryFailed, err)
	}
	view := group.NewScalar()
	if err := view.UnmarshalBinary(viewBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: view scalar: %v", ErrRecoveryFailed, err)
	}
	if spend.IsZero() || view.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrRecoveryFailed)
	}
	return &stealth.MetaKeys{
		SpendPriv: spend,
		ViewPriv:  view,
		SpendPub:  spend.ActOnBase(),
		ViewPub:   view.ActOnBase(),
	}, nil
}

func scalarBytes(s curve.Scalar) ([32]byte, error) {
	var out [32]byte
	if s == nil {
		return out, errors.New("missing scalar")
	}
	data, err := s.MarshalBinary()
	if err != nil {
		return out, err
	}
	if len(data) != len(out) {
		return out, fmt.Errorf("scalar encodes to %d bytes", len(data))
	}
	copy(out[:], data)
	return out, nil
}
