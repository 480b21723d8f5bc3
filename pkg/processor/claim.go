package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shadowvest/shadowvest-go/pkg/claim"
	"github.com/shadowvest/shadowvest-go/pkg/eddsa"
	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/mpc"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

// ClaimRequest asks for one claim against a stealth position. SpendingKey
// is the derived one-time key; its public key must match the position's
// beneficiary commitment.
type ClaimRequest struct {
	SpendingKey  eddsa.SecretKey
	Organization [32]byte
	PositionID   uint64
	Amount       uint64
	Destination  [32]byte
}

// ClaimResult reports how far a claim got. TransactionIDs accumulates every
// sub-transaction in order, so a partial failure still leaves an auditable
// trace; Err holds the step error when Success is false.
type ClaimResult struct {
	Success        bool
	TransactionIDs []string
	ClaimAmount    uint64
	Err            error
}

func (r *ClaimResult) fail(err error) (*ClaimResult, error) {
	r.Err = err
	return r, err
}

// ProcessClaim drives one claim through its strictly sequential steps:
// bootstrap, scratch target, authorization, the confidential computation,
// the compressed-state commit, and withdrawal. Each step waits for the
// previous step's ledger effect to be observable. Cancelling ctx stops
// further steps; nothing already on the ledger is rolled back, and the
// returned result reflects exactly how far the claim got.
//
// A nullifier already on the ledger fails with claim.ErrAlreadyClaimed and
// is never retried. Computation timeouts are requeued within the attempts
// budget.
func (p *Processor) ProcessClaim(ctx context.Context, req *ClaimRequest) (*ClaimResult, error) {
	res := &ClaimResult{}
	log := p.log.With().Uint64("position", req.PositionID).Uint64("amount", req.Amount).Logger()
	log.Info().Msg("claim started")

	serviceOrg, err := p.Bootstrap(ctx)
	if err != nil {
		return res.fail(err)
	}

	pos, err := p.ledger.Position(ctx, req.Organization, req.PositionID)
	if err != nil {
		return res.fail(fmt.Errorf("processor: claimant position: %w", err))
	}
	if !pos.IsActive {
		return res.fail(fmt.Errorf("processor: position %d is not active", req.PositionID))
	}
	sched, err := p.scheduleByKey(ctx, req.Organization, pos.Schedule)
	if err != nil {
		return res.fail(fmt.Errorf("processor: claimant schedule: %w", err))
	}

	scratch, err := p.ensureCallbackTarget(ctx, serviceOrg, &res.TransactionIDs)
	if err != nil {
		return res.fail(err)
	}

	nullifier, err := p.authorize(ctx, req, pos, res)
	if err != nil {
		return res.fail(err)
	}
	authRef := mpc.AuthorizationRef{Organization: req.Organization, Nullifier: nullifier}

	total, claimed, err := p.basis.TotalBasis(ctx, p.ledger, req.Organization, pos)
	if err != nil {
		return res.fail(fmt.Errorf("processor: amount basis: %w", err))
	}
	numerator := sched.VestedNumerator(pos.StartTimestamp, p.clock().Unix())
	log.Debug().Uint64("total", total).Uint64("claimed", claimed).Uint64("numerator", numerator).
		Msg("claim computation inputs fixed")

	for attempt := 1; ; attempt++ {
		err = p.submitClaim(ctx, scratch, authRef, total, claimed, numerator, req.Amount, res)
		if err == nil {
			break
		}
		if attempt >= p.attempts || !errors.Is(err, mpc.ErrComputationTimeout) {
			return res.fail(err)
		}
		log.Warn().Int("attempt", attempt).Msg("claim computation timed out, requeueing")
	}

	auth, err := p.ledger.Authorization(ctx, req.Organization, nullifier)
	if err != nil {
		return res.fail(err)
	}
	res.ClaimAmount = auth.ClaimAmount

	scratchPos, err := p.ledger.Position(ctx, scratch.Organization, scratch.PositionID)
	if err != nil {
		return res.fail(err)
	}
	if err := p.commitUpdate(ctx, req.Organization, req.PositionID, scratchPos, res); err != nil {
		return res.fail(err)
	}

	txid, err := p.ledger.Withdraw(ctx, req.Organization, nullifier, req.Destination)
	if err != nil {
		return res.fail(fmt.Errorf("processor: withdraw: %w", err))
	}
	res.TransactionIDs = append(res.TransactionIDs, string(txid))

	res.Success = true
	log.Info().Uint64("released", res.ClaimAmount).Msg("claim complete")
	return res, nil
}

// authorize signs and records the claim authorization, binding the
// nullifier. The signature is checked against the position's beneficiary
// commitment locally before anything reaches the ledger.
func (p *Processor) authorize(ctx context.Context, req *ClaimRequest, pos *vesting.Position, res *ClaimResult) ([32]byte, error) {
	pub, err := req.SpendingKey.Public()
	if err != nil {
		return [32]byte{}, fmt.Errorf("processor: spending key: %w", err)
	}
	var stealthPub [32]byte
	copy(stealthPub[:], pub)
	nullifier := claim.DeriveNullifier(stealthPub, req.PositionID)

	sa, err := claim.Authorize(p.rand, req.SpendingKey, req.PositionID, nullifier, req.Destination)
	if err != nil {
		return [32]byte{}, fmt.Errorf("processor: sign authorization: %w", err)
	}
	if err := claim.VerifyAuthorization(pos.BeneficiaryCommitment, sa); err != nil {
		return [32]byte{}, err
	}

	auth := &claim.Authorization{Position: pos.Key(), Nullifier: nullifier}
	if err := auth.MarkAuthorized(req.Destination, p.clock().Unix()); err != nil {
		return [32]byte{}, err
	}
	txid, err := p.ledger.AuthorizeClaim(ctx, req.Organization, auth)
	if errors.Is(err, ledger.ErrNullifierExists) {
		return [32]byte{}, fmt.Errorf("%w: nullifier already recorded", claim.ErrAlreadyClaimed)
	}
	if err != nil {
		return [32]byte{}, fmt.Errorf("processor: record authorization: %w", err)
	}
	res.TransactionIDs = append(res.TransactionIDs, string(txid))
	return nullifier, nil
}

// submitClaim runs one queue-and-await round of the claim computation. The
// cluster reveals the authorized amount by stamping the authorization record
// processed; absence of that effect within the claim budget is a timeout.
func (p *Processor) submitClaim(ctx context.Context, scratch mpc.PositionRef, authRef mpc.AuthorizationRef, total, claimed, numerator, amount uint64, res *ClaimResult) error {
	x, err := p.client.NewExchange(ctx)
	if err != nil {
		return err
	}
	req := &mpc.Request{
		Definition:    mpc.DefProcessClaim,
		EphemeralPub:  x.EphemeralPub,
		Nonce:         x.Nonce,
		Ciphertexts:   x.Encrypt(total, claimed, numerator, amount),
		Position:      scratch,
		Authorization: &authRef,
		ClaimAmount:   amount,
	}
	if err := p.client.Submit(ctx, req); err != nil {
		return err
	}
	res.TransactionIDs = append(res.TransactionIDs, req.ID.String())

	return p.client.AwaitClaim(ctx, func(ctx context.Context) (bool, error) {
		a, err := p.ledger.Authorization(ctx, authRef.Organization, authRef.Nullifier)
		if err != nil {
			return false, err
		}
		return a.IsProcessed, nil
	})
}

// commitUpdate carries the scratch record's post-computation state into the
// claimant's compressed position. A concurrent writer can invalidate the
// fetched witness, so stale proofs are refetched within the attempts budget.
func (p *Processor) commitUpdate(ctx context.Context, orgKey [32]byte, positionID uint64, scratchPos *vesting.Position, res *ClaimResult) error {
	for attempt := 1; ; attempt++ {
		pos, proof, err := p.store.FetchWithProof(ctx, orgKey, positionID)
		if err != nil {
			return fmt.Errorf("processor: fetch compressed record: %w", err)
		}
		pos.EncryptedClaimedAmount = scratchPos.EncryptedClaimedAmount
		pos.IsFullyClaimed = scratchPos.IsFullyClaimed

		txid, err := p.store.Update(ctx, pos, proof)
		if err == nil {
			res.TransactionIDs = append(res.TransactionIDs, string(txid))
			return nil
		}
		if attempt >= p.attempts || !errors.Is(err, ledger.ErrStaleProof) {
			return fmt.Errorf("processor: commit compressed record: %w", err)
		}
	}
}

// scheduleByKey resolves a schedule from the key a position stores.
func (p *Processor) scheduleByKey(ctx context.Context, orgKey, want [32]byte) (*vesting.Schedule, error) {
	org, err := p.ledger.Organization(ctx, orgKey)
	if err != nil {
		return nil, err
	}
	for id := uint64(0); id < org.ScheduleCount; id++ {
		s, err := p.ledger.Schedule(ctx, orgKey, id)
		if errors.Is(err, ledger.ErrScheduleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.Key() == want {
			return s, nil
		}
	}
	return nil, ledger.ErrScheduleNotFound
}
