// internal/account/server.go
package account

import (
	"github.com/go-chi/chi/v5"

	"matchday/pkg/openapi"
	"matchday/pkg/tokens"
)

// Mount attaches the account routes. Signup is the only unauthenticated
// mutation; everything else passes the gate first.
func (a *App) Mount(r chi.Router) {
	r.Post("/v1/signup", a.handleSignup)

	r.Group(func(gr chi.Router) {
		gr.Use(a.gate.RequireAuthenticated())
		gr.Get("/whoami", a.handleWhoami)
	})

	r.Group(func(gr chi.Router) {
		gr.Use(a.gate.RequireAdmin())
		gr.Post("/v1/session", a.handleSessionStart)
		gr.Delete("/v1/session", a.handleSessionEnd)
		gr.Get("/v1/tenants", a.handleListTenants)
	})

	r.Route("/v1/tenants/{id}", func(tr chi.Router) {
		tr.Use(a.gate.RequireTenantOrPlatform("id"))
		tr.Get("/", a.handleGetTenant)
		tr.Post("/tokens", a.handleMintToken)
		tr.Post("/revocations", a.handleRevoke)
		tr.Get("/revocations", a.handleListRevocations)
	})
}

// Operations mirrors Mount for the service's OpenAPI self-description.
func Operations() []openapi.Operation {
	admin := string(tokens.AudienceTenantAdmin)
	return []openapi.Operation{
		{Method: "POST", Path: "/v1/signup", Summary: "Register a club and mint its owner credential", Tags: []string{"signup"}},
		{Method: "GET", Path: "/whoami", Summary: "Decode the presented credential", Tags: []string{"credentials"}, Audience: "any"},
		{Method: "POST", Path: "/v1/session", Summary: "Exchange a bearer credential for a session cookie", Tags: []string{"session"}, Audience: admin},
		{Method: "DELETE", Path: "/v1/session", Summary: "End the session and revoke its credential", Tags: []string{"session"}, Audience: admin},
		{Method: "GET", Path: "/v1/tenants", Summary: "List clubs (platform operators)", Tags: []string{"tenants"}, Audience: admin},
		{Method: "GET", Path: "/v1/tenants/{id}", Summary: "Fetch one club", Tags: []string{"tenants"}, Audience: admin},
		{Method: "POST", Path: "/v1/tenants/{id}/tokens", Summary: "Mint a member or admin credential", Tags: []string{"credentials"}, Audience: admin},
		{Method: "POST", Path: "/v1/tenants/{id}/revocations", Summary: "Revoke a credential, principal or whole club", Tags: []string{"revocations"}, Audience: admin},
		{Method: "GET", Path: "/v1/tenants/{id}/revocations", Summary: "List revocations for a club", Tags: []string{"revocations"}, Audience: admin},
	}
}
