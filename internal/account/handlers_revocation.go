// internal/account/handlers_revocation.go
package account

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"matchday/pkg/middleware"
	"matchday/pkg/problems"
	"matchday/pkg/revocation"
)

type revokeRequest struct {
	Level      string `json:"level"` // token | principal | tenant
	JTI        string `json:"jti,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Reason     string `json:"reason,omitempty"`
	TTLMinutes int    `json:"ttl_minutes,omitempty"` // 0 = maximum credential lifetime
}

// handleRevoke writes a revocation mark at token, principal or tenant
// level. Tenant-level marks kill every credential ever issued under the
// tenant, so they are reserved for platform operators.
func (a *App) handleRevoke(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "id")
	caller, _ := middleware.IdentityFrom(r.Context())

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problems.WriteJSON(w, problems.Validation("invalid json body"))
		return
	}
	ttl := time.Duration(req.TTLMinutes) * time.Minute

	var err error
	switch revocation.Level(req.Level) {
	case revocation.LevelToken:
		if req.JTI == "" {
			problems.WriteJSON(w, problems.Validation("jti is required for token-level revocation"))
			return
		}
		err = a.revoked.RevokeToken(r.Context(), req.JTI, tid, req.Reason, caller.Subject, ttl)
	case revocation.LevelPrincipal:
		if req.Subject == "" {
			problems.WriteJSON(w, problems.Validation("subject is required for principal-level revocation"))
			return
		}
		err = a.revoked.RevokePrincipal(r.Context(), tid, req.Subject, req.Reason, caller.Subject, ttl)
	case revocation.LevelTenant:
		if !caller.Platform() {
			a.log.Infow("revocation rejected", "reason", "tenant_level_requires_platform",
				"tenant", tid, "subject", caller.Subject)
			problems.WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		err = a.revoked.RevokeTenant(r.Context(), tid, req.Reason, caller.Subject, ttl)
	default:
		problems.WriteJSON(w, problems.Validation("level must be token, principal or tenant"))
		return
	}
	if err != nil {
		a.log.Errorw("revocation write failed", "tenant", tid, "level", req.Level, "err", err)
		problems.WriteJSON(w, problems.Transient("revocation ledger unavailable", err))
		return
	}

	a.metrics.Revocations.WithLabelValues(req.Level).Inc()
	a.log.Infow("revocation recorded", "tenant", tid, "level", req.Level,
		"subject", req.Subject, "jti", req.JTI, "by", caller.Subject)
	writeJSON(w, map[string]any{"ok": true, "level": req.Level}, http.StatusCreated)
}

func (a *App) handleListRevocations(w http.ResponseWriter, r *http.Request) {
	tid := chi.URLParam(r, "id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := a.revoked.List(r.Context(), tid, limit)
	if err != nil {
		problems.WriteJSON(w, problems.Transient("revocation ledger unavailable", err))
		return
	}
	writeJSON(w, map[string]any{"revocations": entries, "count": len(entries)}, http.StatusOK)
}
