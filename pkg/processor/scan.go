package processor

import (
	"context"
	"errors"

	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/math/curve"
	"github.com/shadowvest/shadowvest-go/pkg/stealth"
)

// Incoming is one announcement that belongs to the scanning identity,
// with its note already decrypted.
type Incoming struct {
	Event ledger.StealthPaymentEvent
	Note  []byte
}

// Scan consumes the announcement feed until ctx ends and returns the
// payments addressed to the given identity. Only the view key is needed;
// Scan never derives spending material and has no ledger side effects.
// Ownership trials cost a scalar multiplication per event, so they run on
// the configured pool once the feed drains.
func (p *Processor) Scan(ctx context.Context, viewPriv curve.Scalar, spendPub curve.Point) ([]Incoming, error) {
	if p.events == nil {
		return nil, errors.New("processor: config has no event feed")
	}
	feed, err := p.events.StealthPayments(ctx)
	if err != nil {
		return nil, err
	}

	var batch []ledger.StealthPaymentEvent
	for ev := range feed {
		batch = append(batch, ev)
	}

	group := viewPriv.Curve()
	trials := p.workers.Parallelize(len(batch), func(i int) interface{} {
		ev := batch[i]
		eph := group.NewPoint()
		if err := eph.UnmarshalBinary(ev.EphemeralPub[:]); err != nil {
			return nil
		}
		if !stealth.IsMyPayment(viewPriv, spendPub, eph, ev.StealthAddress) {
			return nil
		}
		_, note, err := stealth.DecryptPayload(ev.EncryptedPayload, viewPriv, eph)
		if err != nil {
			return nil
		}
		return Incoming{Event: ev, Note: note}
	})

	var mine []Incoming
	for _, t := range trials {
		if t != nil {
			mine = append(mine, t.(Incoming))
		}
	}
	return mine, nil
}
