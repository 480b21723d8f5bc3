package processor

import (
	"context"

	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

// AmountBasis supplies the plaintext (total, claimed) pair a claim
// computation runs against. The position's own encrypted amounts are sealed
// under the cluster key, so the service has to source these numbers from
// somewhere it can read.
type AmountBasis interface {
	TotalBasis(ctx context.Context, led ledger.Ledger, orgKey [32]byte, pos *vesting.Position) (total, claimed uint64, err error)
}

// CustodyBalanceBasis substitutes the organization's custody balance for the
// sealed total, with zero claimed. This is a deliberate approximation, not a
// readback of the true amounts: the custody balance is an upper bound the
// service can verify on its own, and every withdrawal debits it, so a claim
// authorized against it can never release more than the organization holds.
// Integrators that know the real plaintext amounts swap in their own basis.
type CustodyBalanceBasis struct{}

func (CustodyBalanceBasis) TotalBasis(ctx context.Context, led ledger.Ledger, orgKey [32]byte, _ *vesting.Position) (uint64, uint64, error) {
	balance, err := led.CustodyBalance(ctx, orgKey)
	if err != nil {
		return 0, 0, err
	}
	return balance, 0, nil
}

// StaticBasis serves callers that track the plaintext amounts themselves.
type StaticBasis struct {
	Total   uint64
	Claimed uint64
}

func (b StaticBasis) TotalBasis(context.Context, ledger.Ledger, [32]byte, *vesting.Position) (uint64, uint64, error) {
	return b.Total, b.Claimed, nil
}
