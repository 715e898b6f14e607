package provision

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"matchday/pkg/middleware"
	"matchday/pkg/openapi"
	"matchday/pkg/problems"
	"matchday/pkg/tokens"
)

// Server is the provision-service HTTP surface.
type Server struct {
	svc   *Service
	plans *PlanRegistry
	gate  *middleware.Gate
	log   *zap.SugaredLogger
}

func NewServer(svc *Service, plans *PlanRegistry, gate *middleware.Gate, log *zap.SugaredLogger) *Server {
	return &Server{svc: svc, plans: plans, gate: gate, log: log}
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/internal/provision", func(r chi.Router) {
		r.Use(s.gate.RequireInternal())
		r.Post("/queue", s.handleQueue)
		r.Post("/retry", s.handleRetry)
	})
	r.Route("/tenants/{id}", func(r chi.Router) {
		r.Use(s.gate.RequireInternalOrTenant("id"))
		r.Get("/provision-status", s.handleStatus)
	})
}

// Operations mirrors Mount for the service's OpenAPI self-description.
func Operations() []openapi.Operation {
	internal := string(tokens.AudienceInternalService)
	return []openapi.Operation{
		{Method: "POST", Path: "/internal/provision/queue", Summary: "Queue a club and run its provisioning plan", Tags: []string{"provisioning"}, Audience: internal},
		{Method: "POST", Path: "/internal/provision/retry", Summary: "Re-run a failed plan from its checkpoints", Tags: []string{"provisioning"}, Audience: internal},
		{Method: "GET", Path: "/tenants/{id}/provision-status", Summary: "Read a club's provisioning status", Tags: []string{"provisioning"}, Audience: internal + " or " + string(tokens.AudienceTenantAdmin)},
	}
}

type provisionRequest struct {
	TenantID string `json:"tenant_id"`
	Plan     string `json:"plan,omitempty"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var body provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TenantID == "" {
		problems.WriteJSON(w, problems.Validation("tenant_id is required"))
		return
	}
	plan, ok := s.plans.Get(body.Plan)
	if !ok {
		problems.WriteJSON(w, problems.Validation("unknown plan"))
		return
	}
	st, err := s.svc.QueueAndRun(r.Context(), body.TenantID, plan)
	s.writeRunResult(w, st, err)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var body provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TenantID == "" {
		problems.WriteJSON(w, problems.Validation("tenant_id is required"))
		return
	}
	st, err := s.svc.Retry(r.Context(), body.TenantID)
	s.writeRunResult(w, st, err)
}

func (s *Server) writeRunResult(w http.ResponseWriter, st State, err error) {
	if err == nil {
		writeJSON(w, map[string]any{
			"success": true,
			"message": "provisioning complete",
			"state":   stateView(st),
		}, http.StatusOK)
		return
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		status := problems.Status(problems.KindOf(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":     "PROVISIONING_FAILED",
				"message":  st.LastError,
				"attempts": stepErr.Attempts,
			},
		})
		return
	}
	problems.WriteJSON(w, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		problems.WriteJSON(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"status":     st.Status,
		"step":       st.CurrentStep,
		"reason":     st.LastError,
		"updated_at": st.UpdatedAt.UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// stateView trims checkpoints to their step names; callers polling status
// have no use for raw adapter payloads.
func stateView(st State) map[string]any {
	steps := make([]string, 0, len(st.Checkpoints))
	for name := range st.Checkpoints {
		steps = append(steps, name)
	}
	sort.Strings(steps)
	return map[string]any{
		"tenant_id":    st.TenantID,
		"status":       st.Status,
		"current_step": st.CurrentStep,
		"checkpoints":  steps,
		"attempt":      st.Attempt,
		"last_error":   st.LastError,
		"updated_at":   st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
