package tenants

import (
	"context"
)

type Provider interface {
	// Create inserts a new tenant. Slug collisions surface as Conflict.
	Create(ctx context.Context, t Tenant) (Tenant, error)
	GetByID(ctx context.Context, id string) (Tenant, error)
	GetBySlug(ctx context.Context, slug string) (Tenant, error)
	// SetProvisionState is the actor's side channel onto the tenant record.
	SetProvisionState(ctx context.Context, id, state, reason string) error
	List(ctx context.Context, limit int) ([]Tenant, error)
}
