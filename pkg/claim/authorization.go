package claim

import "fmt"

// Authorization is the per-(position, nullifier) claim record. The zero
// value is the unauthorized state; MarkAuthorized, MarkProcessed and
// MarkWithdrawn advance it one step at a time.
type Authorization struct {
	Position     [32]byte
	Nullifier    [32]byte
	Destination  [32]byte
	ClaimAmount  uint64
	IsAuthorized bool
	IsProcessed  bool
	IsWithdrawn  bool
	AuthorizedAt int64
}

// State is the position of an Authorization in its lifecycle.
type State int

const (
	StateUnauthorized State = iota
	StateAuthorized
	StateProcessed
	StateWithdrawn
)

func (s State) String() string {
	switch s {
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorized:
		return "authorized"
	case StateProcessed:
		return "processed"
	case StateWithdrawn:
		return "withdrawn"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// State derives the lifecycle position from the stored flags.
func (a *Authorization) State() State {
	switch {
	case a.IsWithdrawn:
		return StateWithdrawn
	case a.IsProcessed:
		return StateProcessed
	case a.IsAuthorized:
		return StateAuthorized
	}
	return StateUnauthorized
}

// MarkAuthorized records signature admission, binding the destination the
// claimant signed over and the admission time.
func (a *Authorization) MarkAuthorized(destination [32]byte, now int64) error {
	if got := a.State(); got != StateUnauthorized {
		return fmt.Errorf("%w: %s -> authorized", ErrInvalidTransition, got)
	}
	a.Destination = destination
	a.AuthorizedAt = now
	a.IsAuthorized = true
	return nil
}

// MarkProcessed records completion of the confidential computation and the
// revealed claim amount.
func (a *Authorization) MarkProcessed(amount uint64) error {
	if got := a.State(); got != StateAuthorized {
		return fmt.Errorf("%w: %s -> processed", ErrInvalidTransition, got)
	}
	a.ClaimAmount = amount
	a.IsProcessed = true
	return nil
}

// MarkWithdrawn finalizes the claim. The record is immutable afterwards.
func (a *Authorization) MarkWithdrawn() error {
	if got := a.State(); got != StateProcessed {
		return fmt.Errorf("%w: %s -> withdrawn", ErrInvalidTransition, got)
	}
	a.IsWithdrawn = true
	return nil
}
