// Package test provides in-memory implementations of the module's external
// collaborators: the ledger program, the compressed-record store, the
// announcement feed and the confidential compute cluster. They honor the
// same atomicity contracts as the real systems so the suite exercises the
// production code paths unchanged.
package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/shadowvest/shadowvest-go/pkg/claim"
	"github.com/shadowvest/shadowvest-go/pkg/ledger"
	"github.com/shadowvest/shadowvest-go/pkg/vesting"
)

type recordKey struct {
	scope [32]byte
	id    uint64
}

type nullifierKey struct {
	org       [32]byte
	nullifier [32]byte
}

// Ledger is an in-memory ledger shared by every component of a test. All
// methods are safe for concurrent use; nullifier admission is atomic under
// the same lock as every other write, matching the contract the production
// code relies on.
type Ledger struct {
	mu sync.Mutex

	orgs       map[[32]byte]*vesting.Organization
	schedules  map[recordKey]*vesting.Schedule
	positions  map[recordKey]*vesting.Position
	auths      map[nullifierKey]*claim.Authorization
	nullifiers map[nullifierKey][32]byte
	custody    map[[32]byte]uint64
	payouts    map[[32]byte]uint64
	vaults     map[[32]byte]*ledger.VaultRecord
	roots      map[recordKey]uint64

	txSeq int
	log   []ledger.StealthPaymentEvent
	subs  map[int]chan ledger.StealthPaymentEvent
	subID int
}

func NewLedger() *Ledger {
	return &Ledger{
		orgs:       make(map[[32]byte]*vesting.Organization),
		schedules:  make(map[recordKey]*vesting.Schedule),
		positions:  make(map[recordKey]*vesting.Position),
		auths:      make(map[nullifierKey]*claim.Authorization),
		nullifiers: make(map[nullifierKey][32]byte),
		custody:    make(map[[32]byte]uint64),
		payouts:    make(map[[32]byte]uint64),
		vaults:     make(map[[32]byte]*ledger.VaultRecord),
		roots:      make(map[recordKey]uint64),
		subs:       make(map[int]chan ledger.StealthPaymentEvent),
	}
}

// tx mints the next transaction id. Callers hold l.mu.
func (l *Ledger) tx(op string) ledger.TxID {
	l.txSeq++
	return ledger.TxID(fmt.Sprintf("%s-%04d", op, l.txSeq))
}

func (l *Ledger) CreateOrganization(_ context.Context, org *vesting.Organization) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := org.Key()
	if _, ok := l.orgs[key]; ok {
		return "", fmt.Errorf("test: organization %x exists", key[:4])
	}
	cp := *org
	l.orgs[key] = &cp
	return l.tx("org"), nil
}

func (l *Ledger) Organization(_ context.Context, key [32]byte) (*vesting.Organization, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	org, ok := l.orgs[key]
	if !ok {
		return nil, ledger.ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

func (l *Ledger) CreateSchedule(_ context.Context, s *vesting.Schedule) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	org, ok := l.orgs[s.Organization]
	if !ok {
		return "", ledger.ErrOrganizationNotFound
	}
	key := recordKey{s.Organization, s.ScheduleID}
	if _, ok := l.schedules[key]; ok {
		return "", fmt.Errorf("test: schedule %d exists", s.ScheduleID)
	}
	cp := *s
	l.schedules[key] = &cp
	if s.ScheduleID >= org.ScheduleCount {
		org.ScheduleCount = s.ScheduleID + 1
	}
	return l.tx("schedule"), nil
}

func (l *Ledger) Schedule(_ context.Context, orgKey [32]byte, scheduleID uint64) (*vesting.Schedule, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.schedules[recordKey{orgKey, scheduleID}]
	if !ok {
		return nil, ledger.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (l *Ledger) CreatePosition(_ context.Context, pos *vesting.Position, announce *ledger.StealthPaymentEvent) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	org, ok := l.orgs[pos.Organization]
	if !ok {
		return "", ledger.ErrOrganizationNotFound
	}
	pos.PositionID = org.PositionCount
	org.PositionCount++

	key := recordKey{pos.Organization, pos.PositionID}
	cp := *pos
	l.positions[key] = &cp
	l.roots[key] = 0

	if announce != nil {
		ev := *announce
		ev.Organization = pos.Organization
		ev.PositionID = pos.PositionID
		l.log = append(l.log, ev)
		for _, ch := range l.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return l.tx("position"), nil
}

func (l *Ledger) Position(_ context.Context, orgKey [32]byte, positionID uint64) (*vesting.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[recordKey{orgKey, positionID}]
	if !ok {
		return nil, ledger.ErrPositionNotFound
	}
	cp := *pos
	return &cp, nil
}

func (l *Ledger) AuthorizeClaim(_ context.Context, orgKey [32]byte, auth *claim.Authorization) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orgs[orgKey]; !ok {
		return "", ledger.ErrOrganizationNotFound
	}
	key := nullifierKey{orgKey, auth.Nullifier}
	if _, ok := l.nullifiers[key]; ok {
		return "", ledger.ErrNullifierExists
	}
	l.nullifiers[key] = auth.Position
	cp := *auth
	l.auths[key] = &cp
	return l.tx("authorize"), nil
}

func (l *Ledger) Authorization(_ context.Context, orgKey, nullifier [32]byte) (*claim.Authorization, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	auth, ok := l.auths[nullifierKey{orgKey, nullifier}]
	if !ok {
		return nil, ledger.ErrAuthorizationNotFound
	}
	cp := *auth
	return &cp, nil
}

func (l *Ledger) Withdraw(_ context.Context, orgKey, nullifier, destination [32]byte) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	auth, ok := l.auths[nullifierKey{orgKey, nullifier}]
	if !ok {
		return "", ledger.ErrAuthorizationNotFound
	}
	// Trial transition on a copy so a failed gate leaves the record alone.
	trial := *auth
	if err := trial.MarkWithdrawn(); err != nil {
		return "", err
	}
	if destination != auth.Destination {
		return "", ledger.ErrWrongDestination
	}
	if l.custody[orgKey] < auth.ClaimAmount {
		return "", ledger.ErrInsufficientCustody
	}
	l.custody[orgKey] -= auth.ClaimAmount
	l.payouts[destination] += auth.ClaimAmount
	*auth = trial
	return l.tx("withdraw"), nil
}

func (l *Ledger) Deposit(_ context.Context, orgKey [32]byte, amount uint64) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orgs[orgKey]; !ok {
		return "", ledger.ErrOrganizationNotFound
	}
	l.custody[orgKey] += amount
	return l.tx("deposit"), nil
}

func (l *Ledger) CustodyBalance(_ context.Context, orgKey [32]byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orgs[orgKey]; !ok {
		return 0, ledger.ErrOrganizationNotFound
	}
	return l.custody[orgKey], nil
}

func (l *Ledger) Vault(_ context.Context, owner [32]byte) (*ledger.VaultRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.vaults[owner]
	if !ok {
		return nil, ledger.ErrVaultNotFound
	}
	cp := *rec
	return &cp, nil
}

// FetchWithProof implements ledger.CompressedStore.
func (l *Ledger) FetchWithProof(_ context.Context, orgKey [32]byte, positionID uint64) (*vesting.Position, ledger.Proof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := recordKey{orgKey, positionID}
	pos, ok := l.positions[key]
	if !ok {
		return nil, ledger.Proof{}, ledger.ErrPositionNotFound
	}
	cp := *pos
	proof := ledger.Proof{
		Tree:      orgKey,
		Queue:     [32]byte{'q'},
		LeafIndex: positionID,
		RootIndex: l.roots[key],
	}
	return &cp, proof, nil
}

// Update implements ledger.CompressedStore. Every accepted update advances
// the root, so witnesses fetched before it go stale.
func (l *Ledger) Update(_ context.Context, pos *vesting.Position, proof ledger.Proof) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := recordKey{pos.Organization, pos.PositionID}
	if _, ok := l.positions[key]; !ok {
		return "", ledger.ErrPositionNotFound
	}
	if proof.RootIndex != l.roots[key] {
		return "", ledger.ErrStaleProof
	}
	cp := *pos
	l.positions[key] = &cp
	l.roots[key]++
	return l.tx("update"), nil
}

// StealthPayments implements ledger.Events. Subscribers receive events
// published after they subscribe.
func (l *Ledger) StealthPayments(ctx context.Context) (<-chan ledger.StealthPaymentEvent, error) {
	l.mu.Lock()
	ch := make(chan ledger.StealthPaymentEvent, 64)
	id := l.subID
	l.subID++
	l.subs[id] = ch
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// EventLog returns every stealth payment announced so far.
func (l *Ledger) EventLog() []ledger.StealthPaymentEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.StealthPaymentEvent(nil), l.log...)
}

// Payout reports the total withdrawn to a destination.
func (l *Ledger) Payout(destination [32]byte) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payouts[destination]
}

// mutatePosition rewrites a stored position in place, for cluster callbacks.
func (l *Ledger) mutatePosition(orgKey [32]byte, positionID uint64, fn func(*vesting.Position)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[recordKey{orgKey, positionID}]
	if !ok {
		return ledger.ErrPositionNotFound
	}
	fn(pos)
	return nil
}

// mutateAuthorization rewrites a stored authorization in place, for cluster
// callbacks.
func (l *Ledger) mutateAuthorization(orgKey, nullifier [32]byte, fn func(*claim.Authorization) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	auth, ok := l.auths[nullifierKey{orgKey, nullifier}]
	if !ok {
		return ledger.ErrAuthorizationNotFound
	}
	return fn(auth)
}

// putVault installs a vault record, for cluster callbacks.
func (l *Ledger) putVault(rec *ledger.VaultRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *rec
	l.vaults[rec.Owner] = &cp
}
