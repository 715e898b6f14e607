package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchday/pkg/kvstore"
	"matchday/pkg/middleware"
	"matchday/pkg/problems"
	"matchday/pkg/retry"
	"matchday/pkg/revocation"
	"matchday/pkg/tenants"
	"matchday/pkg/tokens"
)

const handlerSecret = "fedcba9876543210fedcba9876543210"

// flakyStepRunner fails a named step with a fixed error until cleared.
type flakyStepRunner struct {
	mu       sync.Mutex
	failStep string
	err      error
}

func (r *flakyStepRunner) RunStep(_ context.Context, _ string, step Step) (json.RawMessage, error) {
	r.mu.Lock()
	failStep, err := r.failStep, r.err
	r.mu.Unlock()
	if step.Name == failStep {
		return nil, err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (r *flakyStepRunner) set(step string, err error) {
	r.mu.Lock()
	r.failStep, r.err = step, err
	r.mu.Unlock()
}

type serverFixture struct {
	t        *testing.T
	handler  http.Handler
	issuer   *tokens.Issuer
	provider tenants.Provider
	runner   *flakyStepRunner
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := kvstore.NewMemory()
	provider := tenants.NewMemoryProvider(log)

	issuer := tokens.NewIssuer(tokens.IssuerConfig{
		Secret:      []byte(handlerSecret),
		Issuer:      "matchday",
		AdminTTL:    time.Hour,
		MemberTTL:   time.Hour,
		InternalTTL: 30 * time.Second,
		MaxTTL:      24 * time.Hour,
	})
	verifier := tokens.NewVerifier(tokens.VerifierConfig{
		Secret: []byte(handlerSecret),
		Issuer: "matchday",
		Skew:   10 * time.Second,
	})
	ledger := revocation.NewLedger(store, 24*time.Hour, log)
	gate := &middleware.Gate{Verifier: verifier, Ledger: ledger, Store: store, Log: log, Skew: 10 * time.Second}

	runner := &flakyStepRunner{}
	policy := retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Retryable:    problems.IsTransient,
	}
	svc := NewService(store, provider, runner, policy, NewMetrics(), log)
	plans, err := LoadPlans("", log)
	require.NoError(t, err)

	r := chi.NewRouter()
	NewServer(svc, plans, gate, log).Mount(r)

	return &serverFixture{t: t, handler: r, issuer: issuer, provider: provider, runner: runner}
}

func (f *serverFixture) internalToken() string {
	f.t.Helper()
	raw, _, err := f.issuer.InternalService("account-service")
	require.NoError(f.t, err)
	return raw
}

func (f *serverFixture) post(path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(f.t, err)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, r)
	return rr
}

func (f *serverFixture) get(path, token string) *httptest.ResponseRecorder {
	f.t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, r)
	return rr
}

func (f *serverFixture) createTenant(slug string) string {
	f.t.Helper()
	created, err := f.provider.Create(context.Background(), tenants.Tenant{Slug: slug, Name: slug})
	require.NoError(f.t, err)
	return created.ID
}

func TestQueueRequiresInternalCredential(t *testing.T) {
	f := newServerFixture(t)
	tid := f.createTenant("rovers")

	rr := f.post("/internal/provision/queue", "", map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	admin, _, err := f.issuer.TenantAdmin(tid, "owner")
	require.NoError(t, err)
	rr = f.post("/internal/provision/queue", admin, map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusUnauthorized, rr.Code, "admin credentials carry no weight on internal routes")
	require.Contains(t, rr.Body.String(), `"code":"unauthorized"`)
	require.NotContains(t, rr.Body.String(), "audience")
}

func TestQueueRunsPlanToCompletion(t *testing.T) {
	f := newServerFixture(t)
	tid := f.createTenant("rovers")

	rr := f.post("/internal/provision/queue", f.internalToken(), map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		State   struct {
			Status      string   `json:"status"`
			Checkpoints []string `json:"checkpoints"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Equal(t, "COMPLETED", out.State.Status)
	require.Equal(t, []string{"directory", "media-library", "notifications", "webhooks"}, out.State.Checkpoints)

	// The side channel reflects the run.
	tenant, err := f.provider.GetByID(context.Background(), tid)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", tenant.ProvisionState)
}

func TestInternalTokenIsSingleUse(t *testing.T) {
	f := newServerFixture(t)
	tid := f.createTenant("rovers")
	token := f.internalToken()

	require.Equal(t, http.StatusOK,
		f.post("/internal/provision/queue", token, map[string]any{"tenant_id": tid}).Code)
	rr := f.post("/internal/provision/retry", token, map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusUnauthorized, rr.Code, "a burned jti cannot authorize a second call")
}

func TestQueueValidation(t *testing.T) {
	f := newServerFixture(t)

	rr := f.post("/internal/provision/queue", f.internalToken(), map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.post("/internal/provision/queue", f.internalToken(), map[string]any{
		"tenant_id": "t1", "plan": "no-such-plan",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "unknown plan")
}

func TestQueueUnknownTenantStillRuns(t *testing.T) {
	// The actor provisions whatever tenant id it is handed; the side channel
	// write simply finds no row. Queueing unprovisioned ids is the account
	// service's bug to avoid, not this service's to reject.
	f := newServerFixture(t)
	rr := f.post("/internal/provision/queue", f.internalToken(), map[string]any{"tenant_id": "ghost"})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestFailedRunEnvelopeAndRetry(t *testing.T) {
	f := newServerFixture(t)
	tid := f.createTenant("rovers")
	f.runner.set("webhooks", problems.Permanent("adapter rejected with 400", nil))

	rr := f.post("/internal/provision/queue", f.internalToken(), map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var out struct {
		Error struct {
			Code     string `json:"code"`
			Message  string `json:"message"`
			Attempts int    `json:"attempts"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "PROVISIONING_FAILED", out.Error.Code)
	require.Contains(t, out.Error.Message, "webhooks")
	require.Equal(t, 1, out.Error.Attempts)

	// Fix the adapter and retry: the run resumes past the checkpoints.
	f.runner.set("", nil)
	rr = f.post("/internal/provision/retry", f.internalToken(), map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	tenant, err := f.provider.GetByID(context.Background(), tid)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", tenant.ProvisionState)
}

func TestExhaustedTransientRunReturnsServiceUnavailable(t *testing.T) {
	f := newServerFixture(t)
	tid := f.createTenant("rovers")
	f.runner.set("directory", problems.Transient("adapter returned 503", nil))

	rr := f.post("/internal/provision/queue", f.internalToken(), map[string]any{"tenant_id": tid})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var out struct {
		Error struct {
			Code     string `json:"code"`
			Attempts int    `json:"attempts"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "PROVISIONING_FAILED", out.Error.Code)
	require.Equal(t, 3, out.Error.Attempts)
}

func TestStatusEndpointAccess(t *testing.T) {
	f := newServerFixture(t)
	tid := f.createTenant("rovers")
	require.Equal(t, http.StatusOK,
		f.post("/internal/provision/queue", f.internalToken(), map[string]any{"tenant_id": tid}).Code)

	// Internal callers, the owning tenant's admin, and platform operators
	// can all read status; a foreign tenant admin cannot.
	rr := f.get("/tenants/"+tid+"/provision-status", f.internalToken())
	require.Equal(t, http.StatusOK, rr.Code)
	var view struct {
		Status    string `json:"status"`
		UpdatedAt string `json:"updated_at"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, "COMPLETED", view.Status)
	_, err := time.Parse(time.RFC3339, view.UpdatedAt)
	require.NoError(t, err)

	admin, _, err := f.issuer.TenantAdmin(tid, "owner")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, f.get("/tenants/"+tid+"/provision-status", admin).Code)

	other, _, err := f.issuer.TenantAdmin("other-tenant", "owner")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, f.get("/tenants/"+tid+"/provision-status", other).Code)

	platform, _, err := f.issuer.PlatformAdmin("ops")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, f.get("/tenants/"+tid+"/provision-status", platform).Code)
}

func TestStatusUnknownTenant(t *testing.T) {
	f := newServerFixture(t)
	rr := f.get("/tenants/nope/provision-status", f.internalToken())
	require.Equal(t, http.StatusNotFound, rr.Code)
}
