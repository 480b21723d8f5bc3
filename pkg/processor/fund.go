package processor

import (
	"context"
	"fmt"

	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/shadowvest/shadowvest-go/pkg/mpc"
	"github.com/shadowvest/shadowvest-go/pkg/stealth"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

// FundRequest grants a confidential position to a stealth recipient.
type FundRequest struct {
	Organization [32]byte
	ScheduleID   uint64
	Recipient    stealth.MetaAddress
	Total        uint64
	// Note travels encrypted inside the announcement payload.
	Note []byte
}

// FundResult reports the created position and the announcement published
// for it. The payment's stealth address doubles as the position's
// beneficiary commitment.
type FundResult struct {
	Payment        *stealth.Payment
	PositionID     uint64
	TransactionIDs []string
}

// FundPosition creates a vesting position addressed to a stealth recipient:
// it derives a fresh one-time payment, records the position with the
// announcement, has the cluster seal the starting amounts, and deposits the
// grant into the organization's custody.
func (p *Processor) FundPosition(ctx context.Context, req *FundRequest) (*FundResult, error) {
	sched, err := p.ledger.Schedule(ctx, req.Organization, req.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("processor: funding schedule: %w", err)
	}
	if !req.Recipient.Valid() {
		return nil, fmt.Errorf("processor: recipient: %w", curve.ErrInvalidKeyMaterial)
	}
	group := req.Recipient.SpendPub.Curve()

	payment, err := stealth.GeneratePayment(p.rand, group, &req.Recipient, req.Note)
	if err != nil {
		return nil, fmt.Errorf("processor: generate payment: %w", err)
	}
	ephBytes, err := payment.EphemeralPub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(ephBytes) != 32 {
		return nil, fmt.Errorf("processor: %s points do not fit the announcement encoding", group.Name())
	}

	now := p.clock().Unix()
	pos := &vesting.Position{
		Owner:                 payment.StealthAddress,
		Organization:          req.Organization,
		Schedule:              sched.Key(),
		BeneficiaryCommitment: payment.StealthAddress,
		StartTimestamp:        now,
		IsActive:              true,
	}
	announce := &ledger.StealthPaymentEvent{
		StealthAddress:   payment.StealthAddress,
		EncryptedPayload: payment.EncryptedPayload,
		TokenMint:        p.mint,
		Timestamp:        now,
	}
	copy(announce.EphemeralPub[:], ephBytes)

	result := &FundResult{Payment: payment}
	txid, err := p.ledger.CreatePosition(ctx, pos, announce)
	if err != nil {
		return nil, fmt.Errorf("processor: create position: %w", err)
	}
	result.PositionID = pos.PositionID
	result.TransactionIDs = append(result.TransactionIDs, string(txid))

	x, err := p.client.NewExchange(ctx)
	if err != nil {
		return nil, err
	}
	creq := &mpc.Request{
		Definition:   mpc.DefInitPosition,
		EphemeralPub: x.EphemeralPub,
		Nonce:        x.Nonce,
		Ciphertexts:  x.Encrypt(req.Total),
		Position:     mpc.PositionRef{Organization: req.Organization, PositionID: pos.PositionID},
	}
	if err := p.client.Submit(ctx, creq); err != nil {
		return nil, err
	}
	result.TransactionIDs = append(result.TransactionIDs, creq.ID.String())

	err = p.client.Await(ctx, 0, func(ctx context.Context) (bool, error) {
		got, err := p.ledger.Position(ctx, req.Organization, pos.PositionID)
		if err != nil {
			return false, err
		}
		return got.Initialized(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("processor: position init: %w", err)
	}

	txid, err = p.ledger.Deposit(ctx, req.Organization, req.Total)
	if err != nil {
		return nil, fmt.Errorf("processor: fund custody: %w", err)
	}
	result.TransactionIDs = append(result.TransactionIDs, string(txid))

	p.log.Info().Uint64("position", pos.PositionID).Msg("stealth position funded")
	return result, nil
}

// CreateOrganization registers a new employer organization on the ledger.
func (p *Processor) CreateOrganization(ctx context.Context, admin [32]byte, name string, treasury [32]byte) (*vesting.Organization, ledger.TxID, error) {
	org := vesting.NewOrganization(admin, name, treasury, p.mint)
	txid, err := p.ledger.CreateOrganization(ctx, org)
	if err != nil {
		return nil, "", err
	}
	return org, txid, nil
}

// CreateSchedule validates and registers a vesting schedule under an
// existing organization.
func (p *Processor) CreateSchedule(ctx context.Context, orgKey [32]byte, cliff, total, interval uint64) (*vesting.Schedule, ledger.TxID, error) {
	org, err := p.ledger.Organization(ctx, orgKey)
	if err != nil {
		return nil, "", err
	}
	sched, err := vesting.NewSchedule(org, cliff, total, interval)
	if err != nil {
		return nil, "", err
	}
	txid, err := p.ledger.CreateSchedule(ctx, sched)
	if err != nil {
		return nil, "", err
	}
	return sched, txid, nil
}
