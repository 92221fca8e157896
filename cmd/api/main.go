package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	webhookcontrollers "github.com/example/topup-engine/api/controllers/webhooks"
	"github.com/example/topup-engine/api/routes"
	"github.com/example/topup-engine/internal/deposits"
	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/internal/provider/providertest"
	"github.com/example/topup-engine/internal/tiers"
	"github.com/example/topup-engine/pkg/config"
	"github.com/example/topup-engine/pkg/db"
	"github.com/example/topup-engine/pkg/enums"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
	"github.com/example/topup-engine/pkg/redis"
)

const (
	lockShards       = 64
	webhookEventTTL  = 24 * time.Hour
	shutdownDeadline = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	providers := newProviderRegistry(cfg, logg)
	locks := keymutex.New(lockShards)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	tierSvc, err := tiers.NewService(tiers.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create tier service", err)
		os.Exit(1)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:            orders.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Ledger:          ledgerSvc,
		Tiers:           tierSvc,
		Providers:       providers,
		Locks:           locks,
		Log:             logg,
		PaymentExpiry:   cfg.Payment.Expiry,
		GatewayFeeIDR:   cfg.Payment.GatewayFeeIDR,
		MaxPollAttempts: cfg.Reconciler.MaxPollAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	depositSvc, err := deposits.NewService(deposits.ServiceParams{
		Repo:          deposits.NewRepository(dbClient.DB()),
		Tx:            dbClient,
		Ledger:        ledgerSvc,
		Locks:         locks,
		Log:           logg,
		PaymentExpiry: cfg.Payment.Expiry,
		GatewayFeeIDR: cfg.Payment.GatewayFeeIDR,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create deposit service", err)
		os.Exit(1)
	}

	leaseMargin, err := decimal.NewFromString(cfg.Lease.MarginPercent)
	if err != nil {
		logg.Error(context.Background(), "invalid lease margin percent", err)
		os.Exit(1)
	}
	leaseSvc, err := leases.NewService(leases.ServiceParams{
		Repo:            leases.NewRepository(dbClient.DB()),
		Tx:              dbClient,
		Ledger:          ledgerSvc,
		Tiers:           tierSvc,
		Providers:       providers,
		Locks:           locks,
		Log:             logg,
		TTL:             cfg.Lease.TTL,
		ProtectedWindow: cfg.Lease.ProtectedWindow,
		MarginPercent:   leaseMargin,
		TierEnabled:     cfg.Lease.TierEnabled,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lease service", err)
		os.Exit(1)
	}

	paymentGuard, err := webhookcontrollers.NewIdempotencyGuard(redisClient, webhookEventTTL, "payment-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook guard", err)
		os.Exit(1)
	}
	providerGuard, err := webhookcontrollers.NewIdempotencyGuard(redisClient, webhookEventTTL, "provider-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create provider webhook guard", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:        cfg,
		Logger:        logg,
		DBPinger:      dbClient,
		RedisPinger:   redisClient,
		Orders:        orderSvc,
		Deposits:      depositSvc,
		Leases:        leaseSvc,
		Ledger:        ledgerSvc,
		Tiers:         tierSvc,
		PaymentGuard:  paymentGuard,
		ProviderGuard: providerGuard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}

// newProviderRegistry wires the upstream adapters. Outside production the
// fake adapter backs every provider code so the whole flow runs locally
// without upstream credentials.
func newProviderRegistry(cfg *config.Config, logg *logger.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	if cfg.App.IsProd() {
		logg.Warn(context.Background(), "no upstream adapters registered, placements will fail until wired")
		return registry
	}
	for _, code := range []enums.ProviderCode{
		enums.ProviderDigiflazz,
		enums.ProviderTokoVoucher,
		enums.ProviderAPIGames,
		enums.ProviderMedanPedia,
		enums.ProviderVakSMS,
	} {
		if err := registry.Register(code, &providertest.Fake{}); err != nil {
			logg.Error(context.Background(), "failed to register fake adapter", err)
		}
	}
	return registry
}
