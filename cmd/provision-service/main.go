// cmd/provision-service/main.go
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchday/internal/provision"
	"matchday/pkg/config"
	"matchday/pkg/db"
	"matchday/pkg/logger"
	"matchday/pkg/middleware"
	"matchday/pkg/openapi"
	"matchday/pkg/problems"
	"matchday/pkg/retry"
	"matchday/pkg/revocation"
	"matchday/pkg/tenants"
	"matchday/pkg/tokens"
)

func main() {
	cfg := config.Load()
	log := logger.Named(cfg.Env, "provision-service")

	var pool = db.MustConnect(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
	}

	store := db.MustStore(cfg, log)
	secret := signingSecret(cfg, log)

	verifier := tokens.NewVerifier(tokens.VerifierConfig{
		Secret: secret,
		Issuer: cfg.TokenIssuer,
		Skew:   cfg.ClockSkew,
	})
	revoked := revocation.NewLedger(store, cfg.MaxTokenTTL, log)
	gate := &middleware.Gate{
		Verifier: verifier,
		Ledger:   revoked,
		Store:    store,
		Log:      log,
		Skew:     cfg.ClockSkew,
		Failures: middleware.FailureCounter(),
	}
	prometheus.MustRegister(gate.Failures)

	plans, err := provision.LoadPlans(cfg.PlanDir, log)
	if err != nil {
		log.Fatalw("plans", "err", err)
	}
	var runner provision.StepRunner
	if cfg.ProvisionTarget != "" {
		runner = provision.NewHTTPRunner(cfg.ProvisionTarget, log)
	} else {
		log.Warnw("PROVISION_BASE_URL not set, steps run against the static stub")
		runner = &provision.StaticRunner{Log: log}
	}
	policy := retry.Policy{
		MaxAttempts:    cfg.RetryMax,
		InitialDelay:   cfg.RetryInitial,
		MaxDelay:       cfg.RetryMaxDelay,
		AttemptTimeout: cfg.RetryAttempt,
		Retryable:      problems.IsTransient,
	}
	metrics := provision.NewMetrics()
	prometheus.MustRegister(metrics.PrometheusCollectors()...)
	svc := provision.NewService(store, prov, runner, policy, metrics, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing("provision-service"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("pong")) })
	provision.NewServer(svc, plans, gate, log).Mount(r)
	doc := openapi.NewRegistry()
	for _, op := range provision.Operations() {
		doc.Register(op)
	}
	r.Get("/.well-known/openapi.json", doc.ServeHandler("provision-service", "v1"))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.ProvisionAddr, Handler: r}
	go func() {
		log.Infow("provision-service listening", "addr", cfg.ProvisionAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("provision-service stopped")
}

// signingSecret returns the configured HMAC key, or a random per-process one
// for dev. Verifying tokens minted by account-service needs TOKEN_SECRET set
// on both services; config.Load already warns when it is missing.
func signingSecret(cfg config.Config, log logger.Sugared) []byte {
	if cfg.TokenSecret != "" {
		return []byte(cfg.TokenSecret)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalw("signing key", "err", err)
	}
	return secret
}
