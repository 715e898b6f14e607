// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env             string
	AccountAddr     string // account-service
	ProvisionAddr   string // provision-service
	BasePublicURL   string
	ProvisionURL    string // account-service -> provision-service base URL
	ProvisionTarget string // base URL the step runner calls adapters on

	// Token signing & verification
	TokenSecret  string
	TokenIssuer  string
	AdminTTL     time.Duration
	MemberTTL    time.Duration
	InternalTTL  time.Duration
	MaxTokenTTL  time.Duration
	ClockSkew    time.Duration
	DedupTTL     time.Duration
	SessionSecure bool // Secure flag on session cookies

	// Provisioning run tuning
	PlanDir       string
	RetryMax      int
	RetryInitial  time.Duration
	RetryMaxDelay time.Duration
	RetryAttempt  time.Duration

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:             env("MATCHDAY_ENV", "dev"),
		AccountAddr:     env("ACCOUNT_HTTP_ADDR", ":8080"),
		ProvisionAddr:   env("PROVISION_HTTP_ADDR", ":8081"),
		BasePublicURL:   env("BASE_PUBLIC_URL", "http://localhost:8080"),
		ProvisionURL:    env("PROVISION_SERVICE_URL", "http://localhost:8081"),
		ProvisionTarget: env("PROVISION_BASE_URL", ""),
		TokenSecret:     env("TOKEN_SECRET", ""),
		TokenIssuer:     env("TOKEN_ISSUER", "matchday"),
		AdminTTL:        envDur("ADMIN_TOKEN_TTL_MIN", 60) * time.Minute,
		MemberTTL:       envDur("MEMBER_TOKEN_TTL_MIN", 60) * time.Minute,
		InternalTTL:     envDur("INTERNAL_TOKEN_TTL_SEC", 30) * time.Second,
		MaxTokenTTL:     envDur("MAX_TOKEN_TTL_HOURS", 24) * time.Hour,
		ClockSkew:       envDur("CLOCK_SKEW_SEC", 10) * time.Second,
		DedupTTL:        envDur("DEDUP_TTL_HOURS", 24) * time.Hour,
		SessionSecure:   envBool("SESSION_COOKIE_SECURE", false),
		PlanDir:         env("PROVISION_PLAN_DIR", ""),
		RetryMax:        envInt("RETRY_MAX_ATTEMPTS", 5),
		RetryInitial:    envDur("RETRY_INITIAL_DELAY_MS", 200) * time.Millisecond,
		RetryMaxDelay:   envDur("RETRY_MAX_DELAY_SEC", 30) * time.Second,
		RetryAttempt:    envDur("RETRY_ATTEMPT_TIMEOUT_SEC", 10) * time.Second,
		RedisURL:        env("REDIS_URL", ""),
		DatabaseURL:     env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory tenant store for dev")
	}
	if cfg.TokenSecret == "" {
		log.Println("[WARN] TOKEN_SECRET not set — using ephemeral dev signing key")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
