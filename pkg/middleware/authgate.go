// pkg/middleware/authgate.go
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"matchday/pkg/kvstore"
	"matchday/pkg/problems"
	"matchday/pkg/revocation"
	"matchday/pkg/tokens"
)

// SessionCookie carries a tenant-admin token for browser clients.
const SessionCookie = "matchday_session"

const internalJTIPrefix = "internal:jti:"

// Gate verifies credentials and consults the revocation ledger before any
// handler runs. Rejections log a precise reason for audit; the response
// body stays generic so probing reveals nothing about which check failed.
type Gate struct {
	Verifier *tokens.Verifier
	Ledger   *revocation.Ledger
	Store    kvstore.Store
	Log      *zap.SugaredLogger
	Skew     time.Duration
	// Failures counts rejections by audit reason. Optional.
	Failures *prometheus.CounterVec
}

// FailureCounter builds the gate rejection counter for main to register.
func FailureCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchday",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Count of gate rejections by audit reason",
	}, []string{"reason"})
}

// bearer pulls the token out of the Authorization header, or the session
// cookie when allowed. The header wins when both are present.
func bearer(r *http.Request, allowCookie bool) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	if allowCookie {
		if c, err := r.Cookie(SessionCookie); err == nil {
			return c.Value
		}
	}
	return ""
}

// authenticate verifies raw against aud and the revocation ledger.
// The returned reason is for audit only.
func (g *Gate) authenticate(r *http.Request, raw string, aud tokens.Audience) (tokens.Identity, string, bool) {
	if raw == "" {
		return tokens.Identity{}, "missing_credential", false
	}
	id, err := g.Verifier.Verify(raw, aud)
	if err != nil {
		var pe *problems.Error
		reason := "invalid"
		if errors.As(err, &pe) {
			reason = pe.Code
		}
		return tokens.Identity{}, reason, false
	}
	if hit, level := g.Ledger.IsRevoked(r.Context(), id.JTI, id.TenantID, id.Subject); hit {
		return tokens.Identity{}, tokens.ReasonRevoked + ":" + string(level), false
	}
	return id, "", true
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, status int, reason string) {
	g.Log.Infow("auth rejected",
		"reason", reason,
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Context().Value(CtxKeyRequestID),
	)
	if g.Failures != nil {
		g.Failures.WithLabelValues(reason).Inc()
	}
	if status == http.StatusForbidden {
		problems.WriteError(w, status, "forbidden", "forbidden")
		return
	}
	problems.WriteError(w, status, "unauthorized", "unauthorized")
}

// RequireAuthenticated admits any valid, non-revoked credential regardless
// of audience. Used by surfaces like whoami that only introspect.
func (g *Gate) RequireAuthenticated() func(http.Handler) http.Handler {
	auds := []tokens.Audience{
		tokens.AudienceTenantAdmin,
		tokens.AudienceTenantMember,
		tokens.AudienceInternalService,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r, true)
			lastReason := "missing_credential"
			for _, aud := range auds {
				id, reason, ok := g.authenticate(r, raw, aud)
				if ok {
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
					return
				}
				// Keep the most telling reason: anything beats wrong_audience.
				if reason != tokens.ReasonWrongAudience || lastReason == "missing_credential" {
					lastReason = reason
				}
			}
			g.reject(w, r, http.StatusUnauthorized, lastReason)
		})
	}
}

// RequireAdmin admits tenant-admin audience credentials, via bearer header
// or session cookie (bearer takes precedence).
func (g *Gate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, reason, ok := g.authenticate(r, bearer(r, true), tokens.AudienceTenantAdmin)
			if !ok {
				g.reject(w, r, http.StatusUnauthorized, reason)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireTenantOrPlatform admits a platform admin unconditionally, or a
// tenant admin whose embedded tenant matches the {urlParam} route value.
// The matched scope lands in context for audit logging.
func (g *Gate) RequireTenantOrPlatform(urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, reason, ok := g.authenticate(r, bearer(r, true), tokens.AudienceTenantAdmin)
			if !ok {
				g.reject(w, r, http.StatusUnauthorized, reason)
				return
			}
			ctx := WithIdentity(r.Context(), id)
			switch {
			case id.Platform():
				ctx = WithMatchedScope(ctx, ScopePlatform)
			case id.TenantID != "" && id.TenantID == chi.URLParam(r, urlParam):
				ctx = WithMatchedScope(ctx, ScopeTenant)
			default:
				g.reject(w, r, http.StatusForbidden, "tenant_mismatch")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireInternal admits internal-service credentials. Each jti is claimed
// on first use, so a captured token cannot authorize a second call. A store
// outage skips the replay check (fail open), same posture as revocation.
func (g *Gate) RequireInternal() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, reason, ok := g.internalIdentity(r)
			if !ok {
				g.reject(w, r, http.StatusUnauthorized, reason)
				return
			}
			ctx := WithMatchedScope(WithIdentity(r.Context(), id), ScopeInternal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Gate) internalIdentity(r *http.Request) (tokens.Identity, string, bool) {
	id, reason, ok := g.authenticate(r, bearer(r, false), tokens.AudienceInternalService)
	if !ok {
		return tokens.Identity{}, reason, false
	}
	ttl := time.Until(id.ExpiresAt) + g.Skew
	if ttl <= 0 {
		ttl = g.Skew
	}
	won, err := g.Store.PutIfAbsent(r.Context(), internalJTIPrefix+id.JTI, []byte("1"), ttl)
	if err != nil {
		g.Log.Warnw("internal jti check failed open", "err", err)
	} else if !won {
		return tokens.Identity{}, "replay", false
	}
	return id, "", true
}

// RequireInternalOrTenant admits an internal-service credential, a platform
// admin, or the matching tenant's admin. Status surfaces use this so both
// machines and humans can read them.
func (g *Gate) RequireInternalOrTenant(urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, _, ok := g.internalIdentity(r); ok {
				ctx := WithMatchedScope(WithIdentity(r.Context(), id), ScopeInternal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			id, reason, ok := g.authenticate(r, bearer(r, true), tokens.AudienceTenantAdmin)
			if !ok {
				g.reject(w, r, http.StatusUnauthorized, reason)
				return
			}
			ctx := WithIdentity(r.Context(), id)
			switch {
			case id.Platform():
				ctx = WithMatchedScope(ctx, ScopePlatform)
			case id.TenantID != "" && id.TenantID == chi.URLParam(r, urlParam):
				ctx = WithMatchedScope(ctx, ScopeTenant)
			default:
				g.reject(w, r, http.StatusForbidden, "tenant_mismatch")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
