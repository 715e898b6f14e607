// internal/account/handlers_signup.go
package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"matchday/internal/provisionclient"
	"matchday/pkg/problems"
	"matchday/pkg/tenants"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

type signupRequest struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	OwnerSubject string `json:"owner_subject"`
	OwnerEmail   string `json:"owner_email,omitempty"`
	Plan         string `json:"plan,omitempty"`
}

// handleSignup creates the tenant, mints the owner's admin credential and
// hands the tenant to the provisioning actor. With an Idempotency-Key
// header the finalized response is stored and replayed on repeats; without
// one every submission executes.
func (a *App) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.metrics.Signups.WithLabelValues("invalid").Inc()
		problems.WriteJSON(w, problems.Validation("invalid json body"))
		return
	}
	if req.Name == "" || req.Slug == "" || req.OwnerSubject == "" {
		a.metrics.Signups.WithLabelValues("invalid").Inc()
		problems.WriteJSON(w, problems.Validation("name, slug and owner_subject are required"))
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		a.metrics.Signups.WithLabelValues("invalid").Inc()
		problems.WriteJSON(w, problems.Validation("slug must be lowercase letters, digits and hyphens"))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		rec, err := a.dedup.Begin(r.Context(), key)
		if err != nil {
			// Cannot rule out a prior execution, so refuse rather than
			// risk creating the tenant twice.
			a.metrics.Signups.WithLabelValues("unavailable").Inc()
			problems.WriteJSON(w, err)
			return
		}
		if rec != nil {
			a.metrics.Signups.WithLabelValues("replay").Inc()
			w.Header().Set("Idempotent-Replay", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.Status)
			_, _ = w.Write(rec.Body)
			return
		}
	}

	t, err := a.tenants.Create(r.Context(), tenants.Tenant{
		Slug:         req.Slug,
		Name:         req.Name,
		OwnerSubject: req.OwnerSubject,
		OwnerEmail:   req.OwnerEmail,
	})
	if err != nil {
		if problems.KindOf(err) == problems.KindConflict {
			a.metrics.Signups.WithLabelValues("conflict").Inc()
		} else {
			a.metrics.Signups.WithLabelValues("error").Inc()
		}
		problems.WriteJSON(w, err)
		return
	}

	token, minted, err := a.issuer.TenantAdmin(t.ID, req.OwnerSubject)
	if err != nil {
		a.log.Errorw("mint owner credential", "tenant", t.ID, "err", err)
		problems.WriteJSON(w, err)
		return
	}
	a.metrics.TokensIssued.WithLabelValues(string(minted.Audience)).Inc()

	provisioning := a.dispatchProvision(r.Context(), t.ID, req.Plan)

	// Pick up the provision side channel the run just wrote.
	if fresh, ferr := a.tenants.GetByID(r.Context(), t.ID); ferr == nil {
		t = fresh
	}

	body := map[string]any{
		"tenant": tenantView(t),
		"token": map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"audience":     minted.Audience,
			"expires_at":   minted.ExpiresAt.UTC().Format(time.RFC3339),
		},
		"provisioning": provisioning,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		problems.WriteJSON(w, err)
		return
	}
	if key != "" {
		if cerr := a.dedup.Commit(r.Context(), key, http.StatusCreated, raw); cerr != nil {
			a.log.Warnw("idempotency commit failed", "key", key, "err", cerr)
		}
	}
	a.metrics.Signups.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(raw)
}

// dispatchProvision runs queue+run on the provision service. Signup
// succeeds regardless of the outcome: the tenant row is the committed side
// effect, and a failed or unreachable run is reported in the response for
// an operator to retry later.
func (a *App) dispatchProvision(ctx context.Context, tenantID, plan string) map[string]any {
	st, err := a.provision.Provision(ctx, tenantID, plan)
	if err == nil {
		return map[string]any{"status": st.Status, "attempt": st.Attempt}
	}
	var runErr *provisionclient.RunError
	if errors.As(err, &runErr) {
		a.log.Warnw("provisioning failed", "tenant", tenantID, "attempts", runErr.Attempts, "reason", runErr.Message)
		return map[string]any{"status": "FAILED", "reason": runErr.Message, "attempts": runErr.Attempts}
	}
	a.log.Warnw("provisioning dispatch failed", "tenant", tenantID, "err", err)
	reason := "provisioning unavailable"
	var pe *problems.Error
	if errors.As(err, &pe) && pe.Kind != problems.KindInternal && pe.Message != "" {
		reason = pe.Message
	}
	return map[string]any{"status": "FAILED", "reason": reason}
}
