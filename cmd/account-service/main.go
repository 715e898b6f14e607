// cmd/account-service/main.go
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

	"matchday/internal/account"
	"matchday/internal/provisionclient"
	"matchday/pkg/config"
	"matchday/pkg/db"
	"matchday/pkg/dedup"
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
	log := logger.Named(cfg.Env, "account-service")

	var pool = db.MustConnect(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := tenants.SeedFromEnv(context.Background(), pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
	}

	store := db.MustStore(cfg, log)
	secret := signingSecret(cfg, log)

	issuer := tokens.NewIssuer(tokens.IssuerConfig{
		Secret:      secret,
		Issuer:      cfg.TokenIssuer,
		AdminTTL:    cfg.AdminTTL,
		MemberTTL:   cfg.MemberTTL,
		InternalTTL: cfg.InternalTTL,
		MaxTTL:      cfg.MaxTokenTTL,
	})
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

	policy := retry.Policy{
		MaxAttempts:    cfg.RetryMax,
		InitialDelay:   cfg.RetryInitial,
		MaxDelay:       cfg.RetryMaxDelay,
		AttemptTimeout: cfg.RetryAttempt,
		Retryable:      problems.IsTransient,
	}
	app := account.New(log, cfg, account.Deps{
		Tenants:   prov,
		Issuer:    issuer,
		Gate:      gate,
		Dedup:     dedup.NewLedger(store, cfg.DedupTTL),
		Revoked:   revoked,
		Provision: provisionclient.New(cfg.ProvisionURL, issuer, policy, log),
	})
	prometheus.MustRegister(app.PrometheusCollectors()...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing("account-service"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("pong")) })
	app.Mount(r)
	doc := openapi.NewRegistry()
	for _, op := range account.Operations() {
		doc.Register(op)
	}
	r.Get("/.well-known/openapi.json", doc.ServeHandler("account-service", "v1"))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.AccountAddr, Handler: r}
	go func() {
		log.Infow("account-service listening", "addr", cfg.AccountAddr)
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
	fmt.Println("account-service stopped")
}

// signingSecret returns the configured HMAC key, or a random per-process one
// for dev. Cross-service token verification needs TOKEN_SECRET set on both
// services; config.Load already warns when it is missing.
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
