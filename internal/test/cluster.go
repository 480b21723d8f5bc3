package test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/shadowvest/shadowvest-go/pkg/claim"
	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/mpc"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

type balance struct {
	total   uint64
	claimed uint64
}

// Cluster emulates the confidential compute cluster in-process. Submit
// applies each computation's effects synchronously against the shared
// Ledger, so Await predicates observe them on the next poll. Gates the
// real queue instruction enforces fail at Submit; violations only the
// encrypted circuit can see leave no trace at all, and the caller times
// out exactly as it would against the real cluster.
type Cluster struct {
	led *Ledger

	priv [32]byte
	pub  [32]byte

	// opaque re-encrypts plaintexts under a key nothing else holds, so
	// ledger records carry realistic ciphertexts no test can shortcut.
	opaque  *mpc.Cipher
	sealSeq uint64

	mu        sync.Mutex
	balances  map[recordKey]*balance
	vaultKeys map[[32]byte][4][16]byte
	requests  []mpc.Request
	subs      map[int]chan mpc.Event
	subID     int

	// Fault knobs, set by tests before the operation under test.
	KeyErr     error // returned by ClusterKey
	SubmitErr  error // returned by Submit
	Drop       bool  // accept every request, apply nothing
	FailClaims int   // lose the first n claim computations after queue gates
}

func NewCluster(led *Ledger) (*Cluster, error) {
	c := &Cluster{
		led:       led,
		balances:  make(map[recordKey]*balance),
		vaultKeys: make(map[[32]byte][4][16]byte),
		subs:      make(map[int]chan mpc.Event),
	}
	if _, err := rand.Read(c.priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(c.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(c.pub[:], pub)

	opaqueKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(opaqueKey); err != nil {
		return nil, err
	}
	c.opaque, err = mpc.NewCipher(opaqueKey, [16]byte{})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cluster) ClusterKey(context.Context) ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.KeyErr != nil {
		return [32]byte{}, c.KeyErr
	}
	return c.pub, nil
}

// Events implements mpc.Cluster with the same fanout contract as the real
// result stream.
func (c *Cluster) Events(ctx context.Context) (<-chan mpc.Event, error) {
	c.mu.Lock()
	ch := make(chan mpc.Event, 64)
	id := c.subID
	c.subID++
	c.subs[id] = ch
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (c *Cluster) publish(ev mpc.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// seal re-encrypts a value under the cluster-internal key.
func (c *Cluster) seal(v uint64) [32]byte {
	ct := c.opaque.SealValue(c.sealSeq, v)
	c.sealSeq++
	return ct
}

func (c *Cluster) sealBlock(b [16]byte) [32]byte {
	ct := c.opaque.Seal(c.sealSeq, b)
	c.sealSeq++
	return ct
}

// Calls counts submissions of one definition.
func (c *Cluster) Calls(def mpc.Definition) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.requests {
		if c.requests[i].Definition == def {
			n++
		}
	}
	return n
}

// Requests returns a copy of every accepted submission.
func (c *Cluster) Requests() []mpc.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mpc.Request(nil), c.requests...)
}

func (c *Cluster) Submit(ctx context.Context, req *mpc.Request) error {
	c.mu.Lock()
	if c.SubmitErr != nil {
		err := c.SubmitErr
		c.mu.Unlock()
		return err
	}
	c.requests = append(c.requests, *req)
	drop := c.Drop
	c.mu.Unlock()
	if drop {
		return nil
	}

	switch req.Definition {
	case mpc.DefInitPosition:
		return c.initPosition(ctx, req)
	case mpc.DefProcessClaim:
		return c.processClaim(ctx, req)
	case mpc.DefStoreMetaKeys:
		return c.storeMetaKeys(req)
	case mpc.DefFetchMetaKeys:
		return c.fetchMetaKeys(req)
	default:
		return fmt.Errorf("test: unknown definition %q", req.Definition)
	}
}

func (c *Cluster) initPosition(ctx context.Context, req *mpc.Request) error {
	if len(req.Ciphertexts) != 1 {
		return fmt.Errorf("test: init_position wants 1 ciphertext, got %d", len(req.Ciphertexts))
	}
	if _, err := c.led.Position(ctx, req.Position.Organization, req.Position.PositionID); err != nil {
		return err
	}

	sc, err := mpc.SharedCipher(c.priv, req.EphemeralPub, req.Nonce)
	if err != nil {
		return err
	}
	total, err := sc.OpenValue(0, req.Ciphertexts[0])
	if err != nil {
		return fmt.Errorf("test: init_position: %w", err)
	}

	c.mu.Lock()
	c.balances[recordKey{req.Position.Organization, req.Position.PositionID}] = &balance{total: total}
	encTotal, encClaimed := c.seal(total), c.seal(0)
	c.mu.Unlock()

	return c.led.mutatePosition(req.Position.Organization, req.Position.PositionID, func(p *vesting.Position) {
		p.EncryptedTotalAmount = encTotal
		p.EncryptedClaimedAmount = encClaimed
	})
}

func (c *Cluster) processClaim(ctx context.Context, req *mpc.Request) error {
	if len(req.Ciphertexts) != 4 {
		return fmt.Errorf("test: process_claim wants 4 ciphertexts, got %d", len(req.Ciphertexts))
	}
	if req.Authorization == nil {
		return fmt.Errorf("test: process_claim without authorization")
	}
	auth, err := c.led.Authorization(ctx, req.Authorization.Organization, req.Authorization.Nullifier)
	if err != nil {
		return err
	}
	if auth.State() != claim.StateAuthorized {
		return fmt.Errorf("test: authorization is %s", auth.State())
	}
	pos, err := c.led.Position(ctx, req.Position.Organization, req.Position.PositionID)
	if err != nil {
		return err
	}
	if !pos.IsActive {
		return fmt.Errorf("test: position %d inactive", pos.PositionID)
	}

	c.mu.Lock()
	if c.FailClaims > 0 {
		c.FailClaims--
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sc, err := mpc.SharedCipher(c.priv, req.EphemeralPub, req.Nonce)
	if err != nil {
		return err
	}
	var in [4]uint64
	for i := range in {
		if in[i], err = sc.OpenValue(uint64(i), req.Ciphertexts[i]); err != nil {
			return fmt.Errorf("test: process_claim input %d: %w", i, err)
		}
	}
	total, claimed, numerator, amount := in[0], in[1], in[2], in[3]

	// The circuit sees only encrypted inputs; inconsistent or oversized
	// requests end here without a callback.
	if amount != req.ClaimAmount {
		return nil
	}
	vested := mulDiv(total, numerator, vesting.Precision)
	claimable := uint64(0)
	if vested > claimed {
		claimable = vested - claimed
	}
	if amount == 0 || amount > claimable {
		return nil
	}

	newClaimed := claimed + amount
	c.mu.Lock()
	key := recordKey{req.Position.Organization, req.Position.PositionID}
	if b, ok := c.balances[key]; ok {
		b.claimed = newClaimed
	}
	encClaimed := c.seal(newClaimed)
	c.mu.Unlock()

	err = c.led.mutatePosition(req.Position.Organization, req.Position.PositionID, func(p *vesting.Position) {
		p.EncryptedClaimedAmount = encClaimed
		p.IsFullyClaimed = newClaimed >= total
	})
	if err != nil {
		return err
	}
	return c.led.mutateAuthorization(req.Authorization.Organization, req.Authorization.Nullifier,
		func(a *claim.Authorization) error { return a.MarkProcessed(amount) })
}

func (c *Cluster) storeMetaKeys(req *mpc.Request) error {
	if len(req.Ciphertexts) != 4 {
		return fmt.Errorf("test: store_meta_keys wants 4 ciphertexts, got %d", len(req.Ciphertexts))
	}
	sc, err := mpc.SharedCipher(c.priv, req.EphemeralPub, req.Nonce)
	if err != nil {
		return err
	}
	var blocks [4][16]byte
	for i := range blocks {
		if blocks[i], err = sc.Open(uint64(i), req.Ciphertexts[i]); err != nil {
			return fmt.Errorf("test: store_meta_keys input %d: %w", i, err)
		}
	}

	rec := &ledger.VaultRecord{Owner: req.Owner, IsInitialized: true}
	c.mu.Lock()
	c.vaultKeys[req.Owner] = blocks
	for i := range blocks {
		rec.Ciphertexts[i] = c.sealBlock(blocks[i])
	}
	c.mu.Unlock()
	if _, err := rand.Read(rec.Nonce[:]); err != nil {
		return err
	}
	c.led.putVault(rec)
	return nil
}

func (c *Cluster) fetchMetaKeys(req *mpc.Request) error {
	c.mu.Lock()
	blocks, ok := c.vaultKeys[req.Owner]
	c.mu.Unlock()
	if !ok {
		// No vault, no result. The requester times out.
		return nil
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sc, err := mpc.SharedCipher(c.priv, req.EphemeralPub, nonce)
	if err != nil {
		return err
	}
	ev := mpc.Event{
		RequestID:   req.ID,
		Definition:  mpc.DefFetchMetaKeys,
		Nonce:       nonce,
		Ciphertexts: make([][32]byte, 4),
	}
	for i := range blocks {
		ev.Ciphertexts[i] = sc.Seal(uint64(i), blocks[i])
	}
	c.publish(ev)
	return nil
}

// mulDiv computes a*b/div without overflowing the intermediate product.
func mulDiv(a, b, div uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= div {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, div)
	return q
}
