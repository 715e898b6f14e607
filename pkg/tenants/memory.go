// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchday/pkg/problems"
)

type memProvider struct {
	log    *zap.SugaredLogger
	mu     sync.RWMutex
	byID   map[string]Tenant
	bySlug map[string]string // slug -> id
}

func NewMemoryProvider(log *zap.SugaredLogger) Provider {
	return &memProvider{log: log, byID: map[string]Tenant{}, bySlug: map[string]string{}}
}

// NewMemoryProviderFromEnv builds a memory provider seeded from
// TENANT_SEED_JSON, for running without Postgres.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger) Provider {
	p := NewMemoryProvider(log)
	seed := os.Getenv("TENANT_SEED_JSON")
	if seed == "" {
		return p
	}
	var entries []struct {
		ID           string `json:"id"`
		Slug         string `json:"slug"`
		Name         string `json:"name"`
		OwnerSubject string `json:"owner_subject"`
		OwnerEmail   string `json:"owner_email"`
	}
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		log.Warnw("tenant seed parse failed", "err", err)
		return p
	}
	for _, e := range entries {
		if _, err := p.Create(context.Background(), Tenant{
			ID: e.ID, Slug: e.Slug, Name: e.Name,
			OwnerSubject: e.OwnerSubject, OwnerEmail: e.OwnerEmail,
		}); err != nil {
			log.Warnw("tenant seed skipped", "slug", e.Slug, "err", err)
		}
	}
	return p
}

func (m *memProvider) Create(_ context.Context, t Tenant) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.bySlug[t.Slug]; taken {
		return Tenant{}, problems.Conflict("slug already in use")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.ProvisionState == "" {
		t.ProvisionState = "PENDING"
		t.ProvisionUpdatedAt = now
	}
	m.byID[t.ID] = t
	m.bySlug[t.Slug] = t.ID
	return t, nil
}

func (m *memProvider) GetByID(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return Tenant{}, problems.NotFound("tenant not found")
}

func (m *memProvider) GetBySlug(_ context.Context, slug string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.bySlug[slug]; ok {
		return m.byID[id], nil
	}
	return Tenant{}, problems.NotFound("tenant not found")
}

func (m *memProvider) SetProvisionState(_ context.Context, id, state, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return problems.NotFound("tenant not found")
	}
	now := time.Now().UTC()
	t.ProvisionState, t.ProvisionReason = state, reason
	t.ProvisionUpdatedAt, t.UpdatedAt = now, now
	m.byID[id] = t
	return nil
}

func (m *memProvider) List(_ context.Context, limit int) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
