// internal/account/app.go
package account

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"matchday/internal/provisionclient"
	"matchday/pkg/config"
	"matchday/pkg/dedup"
	"matchday/pkg/middleware"
	"matchday/pkg/revocation"
	"matchday/pkg/tenants"
	"matchday/pkg/tokens"
)

// App is the account-service application container.
// Handlers and middleware have methods on this type.
//
// Keep it lean: shared deps and config only.
// Request-scoped work should use context.
type App struct {
	log       *zap.SugaredLogger
	cfg       config.Config
	tenants   tenants.Provider
	issuer    *tokens.Issuer
	gate      *middleware.Gate
	dedup     *dedup.Ledger
	revoked   *revocation.Ledger
	provision *provisionclient.Client
	metrics   *Metrics
}

// Deps carries the collaborators wired up in main (or by tests).
type Deps struct {
	Tenants   tenants.Provider
	Issuer    *tokens.Issuer
	Gate      *middleware.Gate
	Dedup     *dedup.Ledger
	Revoked   *revocation.Ledger
	Provision *provisionclient.Client
}

func New(log *zap.SugaredLogger, cfg config.Config, d Deps) *App {
	return &App{
		log:       log,
		cfg:       cfg,
		tenants:   d.Tenants,
		issuer:    d.Issuer,
		gate:      d.Gate,
		dedup:     d.Dedup,
		revoked:   d.Revoked,
		provision: d.Provision,
		metrics:   NewMetrics(),
	}
}

// PrometheusCollectors exposes the app's metrics for registration in main.
func (a *App) PrometheusCollectors() []prometheus.Collector {
	return a.metrics.PrometheusCollectors()
}
