package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchday/pkg/problems"
)

func TestHTTPRunnerSuccessWithExtract(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/directory/spaces", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"space_id":"sp-42","region":"eu"}`))
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL, zap.NewNop().Sugar())
	out, err := r.RunStep(context.Background(), "t1", Step{
		Name:    "directory",
		Path:    "/v1/directory/spaces",
		Extract: "space_id",
		Payload: map[string]any{"plan": "standard"},
	})
	require.NoError(t, err)
	require.Equal(t, `"sp-42"`, string(out))
	require.Equal(t, "t1", gotBody["tenant_id"])
	require.Equal(t, "standard", gotBody["plan"])
}

func TestHTTPRunnerKeepsBodyWithoutExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL, zap.NewNop().Sugar())
	out, err := r.RunStep(context.Background(), "t1", Step{Name: "webhooks", Path: "/v1/webhooks/subscriptions"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(out))
}

func TestHTTPRunnerClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   problems.Kind
	}{
		{http.StatusInternalServerError, problems.KindTransient},
		{http.StatusBadGateway, problems.KindTransient},
		{http.StatusTooManyRequests, problems.KindTransient},
		{http.StatusBadRequest, problems.KindPermanent},
		{http.StatusConflict, problems.KindPermanent},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		r := NewHTTPRunner(srv.URL, zap.NewNop().Sugar())
		_, err := r.RunStep(context.Background(), "t1", Step{Name: "s", Path: "/x"})
		require.Error(t, err, "status %d", tc.status)
		require.Equal(t, tc.want, problems.KindOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestHTTPRunnerUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	r := NewHTTPRunner(srv.URL, zap.NewNop().Sugar())
	_, err := r.RunStep(context.Background(), "t1", Step{Name: "s", Path: "/x"})
	require.Equal(t, problems.KindTransient, problems.KindOf(err))
}

func TestHTTPRunnerStepTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL, zap.NewNop().Sugar())
	start := time.Now()
	_, err := r.RunStep(context.Background(), "t1", Step{Name: "s", Path: "/x", TimeoutMS: 50})
	require.Equal(t, problems.KindTransient, problems.KindOf(err))
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPRunnerExtractMissIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"something_else":1}`))
	}))
	defer srv.Close()

	r := NewHTTPRunner(srv.URL, zap.NewNop().Sugar())
	_, err := r.RunStep(context.Background(), "t1", Step{Name: "s", Path: "/x", Extract: "space_id"})
	require.Equal(t, problems.KindPermanent, problems.KindOf(err))
}

func TestStaticRunner(t *testing.T) {
	r := &StaticRunner{Log: zap.NewNop().Sugar()}
	out, err := r.RunStep(context.Background(), "t1", Step{Name: "directory", Path: "/x"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true,"step":"directory"}`, string(out))
}
