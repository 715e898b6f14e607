package openapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDocument(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Operation{Method: "POST", Path: "/v1/signup", Summary: "signup"})
	reg.Register(Operation{Method: "GET", Path: "/whoami", Audience: "tenant-admin"})

	doc := reg.Build("account-service", "v1")
	require.Equal(t, "3.1.0", doc["openapi"])

	paths := doc["paths"].(map[string]any)
	require.Contains(t, paths, "/v1/signup")
	signup := paths["/v1/signup"].(map[string]any)
	require.Contains(t, signup, "post", "methods are lowercased")

	whoami := paths["/whoami"].(map[string]any)["get"].(map[string]any)
	require.Equal(t, "tenant-admin", whoami["x-required-audience"])
	// Register fills a default 200 response when none is given.
	require.Contains(t, whoami["responses"].(map[string]any), "200")
}

func TestServeHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Operation{Method: "GET", Path: "/ping"})

	rr := httptest.NewRecorder()
	reg.ServeHandler("svc", "v1")(rr, httptest.NewRequest("GET", "/.well-known/openapi.json", nil))

	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Equal(t, "svc", doc["info"].(map[string]any)["title"])
}
