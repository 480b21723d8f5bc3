package vesting

import (
	"fmt"

	"github.com/shadowvest/shadowvest-go/internal/hash"
	"github.com/shadowvest/shadowvest-go/internal/params"
)

// Precision is the fixed-point scale of VestedNumerator: a numerator of
// Precision means fully vested.
const Precision uint64 = 1_000_000

// Schedule describes how positions under it vest. Durations and the interval
// are in seconds.
type Schedule struct {
	Organization    [32]byte
	ScheduleID      uint64
	CliffDuration   uint64
	TotalDuration   uint64
	VestingInterval uint64
	TokenMint       [32]byte
	IsActive        bool
	PositionCount   uint64
}

// NewSchedule validates the parameters, binds the schedule to its
// organization and consumes the organization's next schedule id.
func NewSchedule(org *Organization, cliff, total, interval uint64) (*Schedule, error) {
	if total == 0 || interval == 0 {
		return nil, fmt.Errorf("%w: durations must be positive", ErrInvalidSchedule)
	}
	if cliff > total {
		return nil, fmt.Errorf("%w: cliff %d exceeds total duration %d", ErrInvalidSchedule, cliff, total)
	}
	if !org.IsActive {
		return nil, ErrInactiveOrganization
	}
	s := &Schedule{
		Organization:    org.Key(),
		ScheduleID:      org.ScheduleCount,
		CliffDuration:   cliff,
		TotalDuration:   total,
		VestingInterval: interval,
		TokenMint:       org.TokenMint,
		IsActive:        true,
	}
	org.ScheduleCount++
	return s, nil
}

// Key returns the deterministic ledger key of the schedule.
func (s *Schedule) Key() [32]byte {
	h := hash.New(params.DomainSchedule)
	_ = h.WriteAny(s.Organization[:])
	_ = h.WriteAny(s.ScheduleID)
	return h.Sum32()
}

// VestedNumerator returns the vested fraction, scaled by Precision, of a
// position started at start and observed at now. Vesting releases in whole
// intervals: nothing until the cliff ends, everything once the total
// duration elapses, and in between the completed intervals since the cliff
// measured against the post-cliff duration.
func (s *Schedule) VestedNumerator(start, now int64) uint64 {
	cliffEnd := start + int64(s.CliffDuration)
	vestingEnd := start + int64(s.TotalDuration)
	if now < cliffEnd {
		return 0
	}
	if now >= vestingEnd {
		return Precision
	}
	elapsed := uint64(now - cliffEnd)
	vested := (elapsed / s.VestingInterval) * s.VestingInterval
	vestingDuration := s.TotalDuration - s.CliffDuration
	if vestingDuration == 0 {
		return Precision
	}
	return vested * Precision / vestingDuration
}
