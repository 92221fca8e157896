package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/topup-engine/api/controllers"
	webhookcontrollers "github.com/example/topup-engine/api/controllers/webhooks"
	"github.com/example/topup-engine/api/middleware"
	"github.com/example/topup-engine/internal/deposits"
	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/internal/tiers"
	"github.com/example/topup-engine/pkg/config"
	"github.com/example/topup-engine/pkg/logger"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	DBPinger    controllers.Pinger
	RedisPinger controllers.Pinger

	Orders   orders.Service
	Deposits deposits.Service
	Leases   leases.Service
	Ledger   ledger.Service
	Tiers    tiers.Service

	PaymentGuard  *webhookcontrollers.IdempotencyGuard
	ProviderGuard *webhookcontrollers.IdempotencyGuard
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DBPinger, deps.RedisPinger))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", webhookcontrollers.PaymentWebhook(deps.Orders, deps.Deposits, deps.PaymentGuard, cfg.Payment.WebhookSecret, logg))
		r.Post("/provider/fulfillment", webhookcontrollers.FulfillmentWebhook(deps.Orders, deps.ProviderGuard, cfg.Provider.WebhookSecret, logg))
		r.Post("/provider/sms", webhookcontrollers.SMSWebhook(deps.Leases, deps.ProviderGuard, cfg.Provider.WebhookSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderCreate(deps.Orders, logg))
			r.Get("/", controllers.OrderList(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderGet(deps.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(deps.Orders, logg))
		})

		r.Route("/deposits", func(r chi.Router) {
			r.Post("/", controllers.DepositCreate(deps.Deposits, logg))
			r.Get("/", controllers.DepositList(deps.Deposits, logg))
			r.Get("/{depositId}", controllers.DepositGet(deps.Deposits, logg))
			r.Post("/{depositId}/cancel", controllers.DepositCancel(deps.Deposits, logg))
		})

		r.Route("/leases", func(r chi.Router) {
			r.Post("/", controllers.LeaseCreate(deps.Leases, logg))
			r.Get("/", controllers.LeaseList(deps.Leases, logg))
			r.Get("/active", controllers.LeaseActive(deps.Leases, logg))
			r.Get("/{leaseId}", controllers.LeaseGet(deps.Leases, logg))
			r.Post("/{leaseId}/cancel", controllers.LeaseCancel(deps.Leases, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletGet(deps.Ledger, deps.Tiers, logg))
			r.Get("/transactions", controllers.WalletTransactions(deps.Ledger, logg))
		})

		r.Post("/pricing/quote", controllers.PricingQuote(deps.Ledger, deps.Tiers, logg))
	})

	return r
}
