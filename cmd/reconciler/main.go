package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/example/topup-engine/internal/deposits"
	"github.com/example/topup-engine/internal/leases"
	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/orders"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/internal/provider/providertest"
	"github.com/example/topup-engine/internal/reconciler"
	"github.com/example/topup-engine/internal/tiers"
	"github.com/example/topup-engine/pkg/config"
	"github.com/example/topup-engine/pkg/db"
	"github.com/example/topup-engine/pkg/enums"
	"github.com/example/topup-engine/pkg/keymutex"
	"github.com/example/topup-engine/pkg/logger"
	"github.com/example/topup-engine/pkg/metrics"
	"github.com/example/topup-engine/pkg/redis"
)

const lockShards = 64

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconciler"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconciler",
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

	orderRepo := orders.NewRepository(dbClient.DB())
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:            orderRepo,
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

	depositRepo := deposits.NewRepository(dbClient.DB())
	depositSvc, err := deposits.NewService(deposits.ServiceParams{
		Repo:          depositRepo,
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
	leaseRepo := leases.NewRepository(dbClient.DB())
	leaseSvc, err := leases.NewService(leases.ServiceParams{
		Repo:            leaseRepo,
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

	paymentJob, err := reconciler.NewPaymentExpiryJob(reconciler.PaymentExpiryJobParams{
		Logger:     logg,
		Orders:     orderRepo,
		Deposits:   depositRepo,
		OrderSvc:   orderSvc,
		DepositSvc: depositSvc,
		BatchSize:  cfg.Reconciler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment expiry job", err)
		os.Exit(1)
	}
	statusJob, err := reconciler.NewOrderStatusJob(reconciler.OrderStatusJobParams{
		Logger:    logg,
		Reader:    orderRepo,
		OrderSvc:  orderSvc,
		Providers: providers,
		BatchSize: cfg.Reconciler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order status job", err)
		os.Exit(1)
	}
	leaseJob, err := reconciler.NewLeaseJob(reconciler.LeaseJobParams{
		Logger:    logg,
		Reader:    leaseRepo,
		LeaseSvc:  leaseSvc,
		Providers: providers,
		BatchSize: cfg.Reconciler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lease job", err)
		os.Exit(1)
	}

	lock, err := reconciler.NewRedisLock(redisClient, redisClient.LockKey("reconciler"), cfg.Reconciler.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler lock", err)
		os.Exit(1)
	}

	service, err := reconciler.NewService(reconciler.ServiceParams{
		Logger:   logg,
		Registry: reconciler.NewRegistry(paymentJob, statusJob, leaseJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconciler.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "starting reconciler")

	go serveMetrics(ctx, logg, cfg.App.Port)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconciler stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconciler shutting down gracefully")
}

func serveMetrics(ctx context.Context, logg *logger.Logger, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}

func newProviderRegistry(cfg *config.Config, logg *logger.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	if cfg.App.IsProd() {
		logg.Warn(context.Background(), "no upstream adapters registered, polling will fail until wired")
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
