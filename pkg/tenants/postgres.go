// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"matchday/pkg/problems"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE NOT NULL,
  name text NOT NULL DEFAULT '',
  owner_subject text NOT NULL DEFAULT '',
  owner_email text NOT NULL DEFAULT '',
  provision_state text NOT NULL DEFAULT 'PENDING',
  provision_reason text NOT NULL DEFAULT '',
  provision_updated_at timestamptz NOT NULL DEFAULT NOW(),
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill / ensure new columns exist (for upgrades)
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS owner_subject text DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS owner_email text DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS provision_state text DEFAULT 'PENDING';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS provision_reason text DEFAULT '';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS provision_updated_at timestamptz DEFAULT NOW();
CREATE INDEX IF NOT EXISTS tenants_provision_state_idx ON tenants(provision_state);
`)
	return err
}

// SeedFromEnv ingests initial tenant data for dev environments.
// jsonSeed format (TENANT_SEED_JSON):
// [{"id":"...","slug":"...","name":"...","owner_subject":"...","owner_email":"..."}]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []struct {
		ID           string `json:"id"`
		Slug         string `json:"slug"`
		Name         string `json:"name"`
		OwnerSubject string `json:"owner_subject"`
		OwnerEmail   string `json:"owner_email"`
	}
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, _ = dbPool.Exec(ctx, `INSERT INTO tenants(id,slug,name,owner_subject,owner_email)
		  VALUES ($1,$2,$3,$4,$5)
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,name=EXCLUDED.name,owner_subject=EXCLUDED.owner_subject,owner_email=EXCLUDED.owner_email,updated_at=NOW()`,
			id, e.Slug, e.Name, e.OwnerSubject, e.OwnerEmail)
	}
	return nil
}

const tenantColumns = `id,slug,name,owner_subject,owner_email,provision_state,COALESCE(provision_reason,''),provision_updated_at,created_at,updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.OwnerSubject, &t.OwnerEmail,
		&t.ProvisionState, &t.ProvisionReason, &t.ProvisionUpdatedAt,
		&t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (p *pgProvider) Create(ctx context.Context, t Tenant) (Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	row := p.dbPool.QueryRow(ctx, `INSERT INTO tenants(id,slug,name,owner_subject,owner_email)
	  VALUES ($1,$2,$3,$4,$5) RETURNING `+tenantColumns,
		t.ID, t.Slug, t.Name, t.OwnerSubject, t.OwnerEmail)
	created, err := scanTenant(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tenant{}, problems.Conflict("slug already in use")
		}
		return Tenant{}, err
	}
	return created, nil
}

func (p *pgProvider) GetByID(ctx context.Context, id string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id)
	t, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, problems.NotFound("tenant not found")
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgProvider) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug=$1`, slug)
	t, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, problems.NotFound("tenant not found")
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

func (p *pgProvider) SetProvisionState(ctx context.Context, id, state, reason string) error {
	tag, err := p.dbPool.Exec(ctx, `UPDATE tenants
	  SET provision_state=$2, provision_reason=$3, provision_updated_at=NOW(), updated_at=NOW()
	  WHERE id=$1`, id, state, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return problems.NotFound("tenant not found")
	}
	return nil
}

func (p *pgProvider) List(ctx context.Context, limit int) ([]Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.dbPool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
