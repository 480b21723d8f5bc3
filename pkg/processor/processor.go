// Package processor drives the confidential vesting workflows end to end:
// funding stealth positions, orchestrating the multi-step claim sequence
// against the ledger and the compute cluster, and scanning the announcement
// feed for incoming payments.
package processor

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/mpc"
	"github.com/shadowvest/shadowvest-go/pkg/pool"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

// ErrBootstrapFailed wraps any failure to establish the service
// organization. Claims cannot run without it.
var ErrBootstrapFailed = errors.New("processor: service bootstrap failed")

const defaultAttempts = 3

// Config carries the processor's collaborators and policies.
type Config struct {
	Ledger  ledger.Ledger
	Store   ledger.CompressedStore
	Compute *mpc.Client
	// Events is the stealth announcement feed, needed only by Scan.
	Events ledger.Events

	// ServiceSigner is the service's own administrative key. The service
	// organization and every scratch record hang off it.
	ServiceSigner [32]byte
	TokenMint     [32]byte

	// Basis sources the plaintext amounts for claim computations.
	// Defaults to CustodyBalanceBasis.
	Basis AmountBasis
	// Attempts bounds requeues after computation timeouts and stale
	// proofs. Defaults to 3.
	Attempts int

	// Pool parallelizes feed scanning. A nil pool scans on the calling
	// goroutine.
	Pool *pool.Pool

	Clock  func() time.Time
	Rand   io.Reader
	Logger *zerolog.Logger
}

// Processor is safe for concurrent use; claims for distinct nullifiers run
// fully in parallel and only the bootstrap is shared.
type Processor struct {
	ledger   ledger.Ledger
	store    ledger.CompressedStore
	client   *mpc.Client
	events   ledger.Events
	signer   [32]byte
	mint     [32]byte
	basis    AmountBasis
	attempts int
	workers  *pool.Pool
	clock    func() time.Time
	rand     io.Reader
	log      zerolog.Logger

	flight     singleflight.Group
	mu         sync.RWMutex
	serviceOrg *[32]byte
}

// New validates the config and applies defaults.
func New(cfg Config) (*Processor, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("processor: config requires a ledger")
	}
	if cfg.Store == nil {
		return nil, errors.New("processor: config requires a compressed store")
	}
	if cfg.Compute == nil {
		return nil, errors.New("processor: config requires a compute client")
	}
	if cfg.ServiceSigner == ([32]byte{}) {
		return nil, errors.New("processor: config requires a service signer")
	}
	p := &Processor{
		ledger:   cfg.Ledger,
		store:    cfg.Store,
		client:   cfg.Compute,
		events:   cfg.Events,
		signer:   cfg.ServiceSigner,
		mint:     cfg.TokenMint,
		basis:    cfg.Basis,
		attempts: cfg.Attempts,
		workers:  cfg.Pool,
		clock:    cfg.Clock,
		rand:     cfg.Rand,
		log:      zerolog.Nop(),
	}
	if p.basis == nil {
		p.basis = CustodyBalanceBasis{}
	}
	if p.attempts <= 0 {
		p.attempts = defaultAttempts
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.rand == nil {
		p.rand = rand.Reader
	} else {
		// Claims for distinct nullifiers run in parallel and all draw
		// from this reader.
		p.rand = pool.NewLockedReader(p.rand)
	}
	if cfg.Logger != nil {
		p.log = *cfg.Logger
	}
	return p, nil
}

// Bootstrap ensures the service organization exists and returns its key.
// Callback targets cannot be initialized under an end-user organization's
// admin, since the service does not hold that signature; scratch records
// live in an organization the service fully controls instead. Concurrent
// callers share one flight, and a failed attempt may be retried.
func (p *Processor) Bootstrap(ctx context.Context) ([32]byte, error) {
	p.mu.RLock()
	if p.serviceOrg != nil {
		key := *p.serviceOrg
		p.mu.RUnlock()
		return key, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.flight.Do("bootstrap", func() (interface{}, error) {
		key := vesting.OrganizationKey(p.signer)
		_, err := p.ledger.Organization(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrOrganizationNotFound):
			org := vesting.NewOrganization(p.signer, "claims-service", p.signer, p.mint)
			txid, err := p.ledger.CreateOrganization(ctx, org)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
			}
			p.log.Info().Str("tx", string(txid)).Msg("service organization created")
		default:
			return nil, fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
		}
		p.mu.Lock()
		p.serviceOrg = &key
		p.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	return v.([32]byte), nil
}

// ensureCallbackTarget creates a fresh scratch position in the service
// organization and waits until the cluster stamps it initialized. The
// scratch record exists only as a place for the claim callback to land; its
// content is never the source of truth for any real balance.
func (p *Processor) ensureCallbackTarget(ctx context.Context, serviceOrg [32]byte, trace *[]string) (mpc.PositionRef, error) {
	scratch := &vesting.Position{
		Owner:          p.signer,
		Organization:   serviceOrg,
		StartTimestamp: p.clock().Unix(),
		IsActive:       true,
	}
	txid, err := p.ledger.CreatePosition(ctx, scratch, nil)
	if err != nil {
		return mpc.PositionRef{}, fmt.Errorf("processor: create scratch: %w", err)
	}
	*trace = append(*trace, string(txid))
	ref := mpc.PositionRef{Organization: serviceOrg, PositionID: scratch.PositionID}

	x, err := p.client.NewExchange(ctx)
	if err != nil {
		return mpc.PositionRef{}, err
	}
	req := &mpc.Request{
		Definition:   mpc.DefInitPosition,
		EphemeralPub: x.EphemeralPub,
		Nonce:        x.Nonce,
		Ciphertexts:  x.Encrypt(0),
		Position:     ref,
	}
	if err := p.client.Submit(ctx, req); err != nil {
		return mpc.PositionRef{}, err
	}
	*trace = append(*trace, req.ID.String())

	err = p.client.Await(ctx, 0, func(ctx context.Context) (bool, error) {
		pos, err := p.ledger.Position(ctx, serviceOrg, ref.PositionID)
		if err != nil {
			return false, err
		}
		return pos.Initialized(), nil
	})
	if err != nil {
		return mpc.PositionRef{}, fmt.Errorf("processor: scratch init: %w", err)
	}
	p.log.Debug().Uint64("scratch", ref.PositionID).Msg("callback target ready")
	return ref, nil
}
