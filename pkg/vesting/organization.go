// Package vesting holds the confidential payroll data model: organizations,
// vesting schedules, the compressed position record with its wire codec, and
// the fixed-point schedule arithmetic the claim computation runs against.
package vesting

import (
	"errors"

	"github.com/shadowvest/shadowvest-go/internal/hash"
	"github.com/shadowvest/shadowvest-go/internal/params"
)

var (
	// ErrInvalidSchedule rejects schedule parameters that cannot vest:
	// zero durations or a cliff longer than the whole schedule.
	ErrInvalidSchedule = errors.New("vesting: invalid schedule parameters")
	// ErrInactiveOrganization rejects writes against a deactivated
	// organization.
	ErrInactiveOrganization = errors.New("vesting: organization is not active")
	// ErrMalformedRecord indicates a compressed position record that fails
	// structural validation and must not be interpreted.
	ErrMalformedRecord = errors.New("vesting: malformed position record")
)

// Organization is the employer-side root record. The name is stored only as
// a hash; counters assign schedule and position identifiers.
type Organization struct {
	Admin         [32]byte
	NameHash      [32]byte
	ScheduleCount uint64
	PositionCount uint64
	Treasury      [32]byte
	TokenMint     [32]byte
	IsActive      bool
}

// NewOrganization creates an active organization controlled by admin.
func NewOrganization(admin [32]byte, name string, treasury, tokenMint [32]byte) *Organization {
	return &Organization{
		Admin:     admin,
		NameHash:  HashName(name),
		Treasury:  treasury,
		TokenMint: tokenMint,
		IsActive:  true,
	}
}

// Key returns the deterministic ledger key of the organization, derived from
// its admin. One organization per admin.
func (o *Organization) Key() [32]byte {
	return OrganizationKey(o.Admin)
}

// OrganizationKey derives the ledger key an organization with this admin
// would occupy, whether or not it exists yet.
func OrganizationKey(admin [32]byte) [32]byte {
	h := hash.New(params.DomainOrgKey)
	_ = h.WriteAny(admin[:])
	return h.Sum32()
}

// HashName commits to an organization's name without revealing it.
func HashName(name string) [32]byte {
	h := hash.New(params.DomainOrgName)
	_ = h.WriteAny([]byte(name))
	return h.Sum32()
}
