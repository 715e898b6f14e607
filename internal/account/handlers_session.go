// internal/account/handlers_session.go
package account

import (
	"net/http"
	"time"

	"matchday/pkg/middleware"
	"matchday/pkg/problems"
	"matchday/pkg/tokens"
)

// handleWhoami echoes the verified claims back to the caller. Timestamps
// are RFC3339; the raw token and signing material never appear here.
func (a *App) handleWhoami(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		problems.WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	claims := map[string]any{
		"subject":    id.Subject,
		"audience":   id.Audience,
		"roles":      id.Roles,
		"jti":        id.JTI,
		"issued_at":  id.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at": id.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if id.TenantID != "" {
		claims["tenant_id"] = id.TenantID
	}
	writeJSON(w, claims, http.StatusOK)
}

// handleSessionStart exchanges a valid admin bearer for a cookie-backed
// session. The cookie carries its own freshly minted credential, so ending
// the session revokes the cookie token without touching the API token.
func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		problems.WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var (
		token  string
		minted tokens.Identity
		err    error
	)
	if id.Platform() {
		token, minted, err = a.issuer.PlatformAdmin(id.Subject)
	} else {
		token, minted, err = a.issuer.TenantAdmin(id.TenantID, id.Subject)
	}
	if err != nil {
		a.log.Errorw("mint session credential", "subject", id.Subject, "err", err)
		problems.WriteJSON(w, err)
		return
	}
	a.metrics.TokensIssued.WithLabelValues(string(minted.Audience)).Inc()

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  minted.ExpiresAt,
		HttpOnly: true,
		Secure:   a.cfg.SessionSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, map[string]any{
		"ok":         true,
		"expires_at": minted.ExpiresAt.UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// handleSessionEnd revokes the presented credential and clears the cookie.
// Revocation outlives the cookie: a copied token dies with the session.
func (a *App) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		problems.WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	ttl := time.Until(id.ExpiresAt)
	if err := a.revoked.RevokeToken(r.Context(), id.JTI, id.TenantID, "session ended", id.Subject, ttl); err != nil {
		a.log.Warnw("session revoke failed", "jti", id.JTI, "err", err)
	} else {
		a.metrics.Revocations.WithLabelValues("token").Inc()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.SessionSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
}
