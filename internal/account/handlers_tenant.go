// internal/account/handlers_tenant.go
package account

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"matchday/pkg/middleware"
	"matchday/pkg/problems"
	"matchday/pkg/tenants"
	"matchday/pkg/tokens"
)

func tenantView(t tenants.Tenant) map[string]any {
	v := map[string]any{
		"id":                   t.ID,
		"slug":                 t.Slug,
		"name":                 t.Name,
		"owner_subject":        t.OwnerSubject,
		"owner_email":          t.OwnerEmail,
		"provision_state":      t.ProvisionState,
		"provision_updated_at": t.ProvisionUpdatedAt.UTC().Format(time.RFC3339),
		"created_at":           t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.ProvisionReason != "" {
		v["provision_reason"] = t.ProvisionReason
	}
	return v
}

func (a *App) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.tenants.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		problems.WriteJSON(w, err)
		return
	}
	writeJSON(w, map[string]any{"tenant": tenantView(t)}, http.StatusOK)
}

// handleListTenants is a platform operator view across all tenants.
func (a *App) handleListTenants(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFrom(r.Context())
	if !id.Platform() {
		a.log.Infow("tenant list rejected", "reason", "requires_platform", "subject", id.Subject)
		problems.WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	all, err := a.tenants.List(r.Context(), limit)
	if err != nil {
		problems.WriteJSON(w, err)
		return
	}
	views := make([]map[string]any, 0, len(all))
	for _, t := range all {
		views = append(views, tenantView(t))
	}
	writeJSON(w, map[string]any{"tenants": views, "count": len(views)}, http.StatusOK)
}

type mintTokenRequest struct {
	Subject    string `json:"subject"`
	Audience   string `json:"audience,omitempty"` // tenant-member (default) or tenant-admin
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
}

// handleMintToken issues member and admin credentials for a tenant's
// principals. Internal-service credentials never cross this surface, and a
// requested TTL above the configured maximum is clamped by the issuer.
func (a *App) handleMintToken(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "id")
	if _, err := a.tenants.GetByID(r.Context(), tid); err != nil {
		problems.WriteJSON(w, err)
		return
	}

	var req mintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.WriteJSON(w, problems.Validation("invalid json body"))
		return
	}
	if req.Subject == "" {
		problems.WriteJSON(w, problems.Validation("subject is required"))
		return
	}
	aud := tokens.Audience(req.Audience)
	if req.Audience == "" {
		aud = tokens.AudienceTenantMember
	}
	var roles []string
	switch aud {
	case tokens.AudienceTenantMember:
		roles = []string{tokens.RoleMember}
	case tokens.AudienceTenantAdmin:
		roles = []string{tokens.RoleTenantAdmin, tokens.RoleAdmin}
	default:
		problems.WriteJSON(w, problems.Validation("audience must be tenant-member or tenant-admin"))
		return
	}

	token, minted, err := a.issuer.Issue(tokens.Claims{
		Subject:  req.Subject,
		TenantID: tid,
		Audience: aud,
		Roles:    roles,
		TTL:      time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		a.log.Errorw("mint credential", "tenant", tid, "audience", aud, "err", err)
		problems.WriteJSON(w, err)
		return
	}
	a.metrics.TokensIssued.WithLabelValues(string(aud)).Inc()
	a.log.Infow("credential issued", "tenant", tid, "subject", req.Subject, "audience", aud, "jti", minted.JTI)

	writeJSON(w, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"audience":     minted.Audience,
		"roles":        minted.Roles,
		"subject":      minted.Subject,
		"expires_at":   minted.ExpiresAt.UTC().Format(time.RFC3339),
	}, http.StatusCreated)
}
