// Package mpc drives rounds of confidential computation against a compute
// cluster: an ephemeral X25519 exchange with the cluster key, per-value
// authenticated encryption of the inputs, request submission, and bounded
// polling for the computation's on-ledger effects.
//
// The cluster never returns results directly. A submitted computation lands
// as a state change (a stamped position, a processed claim authorization) or
// as a re-encrypted Event on the result stream; callers observe completion
// by polling a predicate over the state they care about.
package mpc

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shadowvest/shadowvest-go/internal/params"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrComputationTimeout reports that a computation's effects did not
	// become visible within the step's budget. Distinct from computation
	// failure; the request may still land later.
	ErrComputationTimeout = errors.New("mpc: computation timed out")
	// ErrDecryptionFailed reports an unauthentic or foreign ciphertext.
	ErrDecryptionFailed = errors.New("mpc: decryption failed")
)

// Definition names a compute routine the cluster knows how to run.
type Definition string

const (
	// DefInitPosition re-seals a freshly funded position's amounts under
	// the cluster key and stamps it initialized.
	DefInitPosition Definition = "init_position"
	// DefProcessClaim validates a requested claim amount against the
	// vested balance and rewrites the position's claimed ciphertext.
	DefProcessClaim Definition = "process_claim"
	// DefStoreMetaKeys seals a stealth identity into the key vault.
	DefStoreMetaKeys Definition = "store_meta_keys"
	// DefFetchMetaKeys re-encrypts a vaulted identity to the requester.
	DefFetchMetaKeys Definition = "fetch_meta_keys"
)

// PositionRef addresses one position record on the ledger.
type PositionRef struct {
	Organization [32]byte
	PositionID   uint64
}

// AuthorizationRef addresses one claim authorization on the ledger.
type AuthorizationRef struct {
	Organization [32]byte
	Nullifier    [32]byte
}

// Request is one confidential computation submission. Position and
// Authorization route the cluster's callback to the records it rewrites;
// which of them are meaningful depends on the definition, and the cluster
// validates them against its own ledger view.
type Request struct {
	ID           uuid.UUID
	Definition   Definition
	EphemeralPub [32]byte
	Nonce        [16]byte
	Ciphertexts  [][params.CiphertextSize]byte

	// Position is the callback target for init_position and
	// process_claim outputs. For claims this is the scratch record, not
	// the claimant's real position.
	Position PositionRef
	// Authorization is the claim record process_claim advances.
	Authorization *AuthorizationRef
	// Owner routes vault definitions.
	Owner [32]byte
	// ClaimAmount accompanies process_claim in the clear; the requested
	// amount is public, only balances stay hidden.
	ClaimAmount uint64
}

// Event is a computation output delivered out of band on the result stream,
// re-encrypted to the requester's exchange key.
type Event struct {
	RequestID   uuid.UUID
	Definition  Definition
	Nonce       [16]byte
	Ciphertexts [][params.CiphertextSize]byte
}

// Cluster is the transport to a confidential compute cluster. Integrators
// implement it against the real network; internal/test provides an
// in-process emulator.
type Cluster interface {
	// ClusterKey returns the cluster's X25519 public key.
	ClusterKey(ctx context.Context) ([32]byte, error)
	// Submit hands a request to the cluster. Acceptance is not
	// completion; effects are observed through ledger state or Events.
	Submit(ctx context.Context, req *Request) error
	// Events streams out-of-band computation outputs. The channel closes
	// when ctx is done.
	Events(ctx context.Context) (<-chan Event, error)
}

// Config carries the client's collaborators and tuning. Zero durations get
// defaults; only Cluster is required.
type Config struct {
	Cluster Cluster
	// PollInterval between predicate evaluations while awaiting effects.
	PollInterval time.Duration
	// DefaultTimeout bounds most Await calls.
	DefaultTimeout time.Duration
	// ClaimTimeout bounds the claim computation, which queues behind
	// heavier cluster traffic than single-step definitions.
	ClaimTimeout time.Duration
	Logger       *zerolog.Logger
	Rand         io.Reader
}

// Client submits confidential computations and waits for their effects.
// Safe for concurrent use.
type Client struct {
	cluster        Cluster
	pollInterval   time.Duration
	defaultTimeout time.Duration
	claimTimeout   time.Duration
	rand           io.Reader
	log            zerolog.Logger

	keyFlight singleflight.Group
	keyMu     sync.RWMutex
	key       [32]byte
	keySet    bool
}

// NewClient validates the config and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Cluster == nil {
		return nil, errors.New("mpc: config requires a cluster")
	}
	c := &Client{
		cluster:        cfg.Cluster,
		pollInterval:   cfg.PollInterval,
		defaultTimeout: cfg.DefaultTimeout,
		claimTimeout:   cfg.ClaimTimeout,
		rand:           cfg.Rand,
		log:            zerolog.Nop(),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = params.DefaultPollInterval
	}
	if c.defaultTimeout <= 0 {
		c.defaultTimeout = params.DefaultComputeTimeout
	}
	if c.claimTimeout <= 0 {
		c.claimTimeout = params.ClaimComputeTimeout
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}
	return c, nil
}

// ClusterKey returns the cluster's public key, cached after the first
// successful fetch. Concurrent cold reads share one network call.
func (c *Client) ClusterKey(ctx context.Context) ([32]byte, error) {
	c.keyMu.RLock()
	if c.keySet {
		key := c.key
		c.keyMu.RUnlock()
		return key, nil
	}
	c.keyMu.RUnlock()

	v, err, _ := c.keyFlight.Do("cluster-key", func() (interface{}, error) {
		key, err := c.cluster.ClusterKey(ctx)
		if err != nil {
			return nil, err
		}
		c.keyMu.Lock()
		c.key, c.keySet = key, true
		c.keyMu.Unlock()
		return key, nil
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("mpc: fetch cluster key: %w", err)
	}
	return v.([32]byte), nil
}

// InvalidateClusterKey drops the cached key so the next read refetches,
// for use after a cluster key rotation.
func (c *Client) InvalidateClusterKey() {
	c.keyMu.Lock()
	c.keySet = false
	c.keyMu.Unlock()
}

// NewExchange starts a fresh key agreement against the current cluster key.
func (c *Client) NewExchange(ctx context.Context) (*Exchange, error) {
	key, err := c.ClusterKey(ctx)
	if err != nil {
		return nil, err
	}
	return NewExchange(c.rand, key)
}

// Submit assigns the request an id if the caller did not, then hands it to
// the cluster.
func (c *Client) Submit(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	c.log.Debug().
		Str("request", req.ID.String()).
		Str("definition", string(req.Definition)).
		Int("ciphertexts", len(req.Ciphertexts)).
		Msg("submitting computation")
	if err := c.cluster.Submit(ctx, req); err != nil {
		return fmt.Errorf("mpc: submit %s: %w", req.Definition, err)
	}
	return nil
}

// Events opens the out-of-band result stream.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	return c.cluster.Events(ctx)
}

// Await polls pred at the configured interval until it reports done, the
// context is cancelled, or the timeout elapses. A non-positive timeout uses
// the default budget. The deadline surfaces as ErrComputationTimeout; a
// pred error aborts the wait immediately and is returned as-is.
func (c *Client) Await(ctx context.Context, timeout time.Duration, pred func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Probe immediately, the effect may already be visible.
	for {
		done, err := pred(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w after %s", ErrComputationTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// AwaitClaim is Await with the longer claim-computation budget.
func (c *Client) AwaitClaim(ctx context.Context, pred func(context.Context) (bool, error)) error {
	return c.Await(ctx, c.claimTimeout, pred)
}
