package tenants

import "time"

// Tenant represents a logical customer / club space.
type Tenant struct {
	ID           string // uuid
	Slug         string // short name (rovers)
	Name         string // display name (Riverside Rovers FC)
	OwnerSubject string // principal the first admin credential is issued to
	OwnerEmail   string

	// Provisioning side channel, written only by the provisioning actor.
	ProvisionState     string
	ProvisionReason    string
	ProvisionUpdatedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
