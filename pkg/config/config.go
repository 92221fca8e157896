package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Payment    PaymentConfig
	Lease      LeaseConfig
	Provider   ProviderConfig
	Reconciler ReconcilerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TOPUP_APP_ENV" required:"true"`
	Port         string `envconfig:"TOPUP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TOPUP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TOPUP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"TOPUP_DB_DSN"`

	Host     string `envconfig:"TOPUP_DB_HOST"`
	Port     int    `envconfig:"TOPUP_DB_PORT" default:"5432"`
	User     string `envconfig:"TOPUP_DB_USER"`
	Password string `envconfig:"TOPUP_DB_PASSWORD"`
	Name     string `envconfig:"TOPUP_DB_NAME"`
	SSLMode  string `envconfig:"TOPUP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TOPUP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TOPUP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TOPUP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TOPUP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either TOPUP_DB_DSN or TOPUP_DB_HOST/USER/NAME must be set")
	}
	d.DSN = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"TOPUP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TOPUP_REDIS_ADDR"`
	Password     string        `envconfig:"TOPUP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TOPUP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TOPUP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TOPUP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TOPUP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TOPUP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TOPUP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string        `envconfig:"TOPUP_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"TOPUP_JWT_ISSUER" default:"topup-engine"`
	TTL    time.Duration `envconfig:"TOPUP_JWT_TTL" default:"1h"`
}

// PaymentConfig covers the asynchronous payment gateway (QR-code style).
type PaymentConfig struct {
	WebhookSecret string        `envconfig:"TOPUP_PAYMENT_WEBHOOK_SECRET" required:"true"`
	Expiry        time.Duration `envconfig:"TOPUP_PAYMENT_EXPIRY" default:"15m"`
	GatewayFeeIDR int64         `envconfig:"TOPUP_PAYMENT_GATEWAY_FEE_IDR" default:"0"`
}

// LeaseConfig controls the virtual-number rental window.
type LeaseConfig struct {
	TTL             time.Duration `envconfig:"TOPUP_LEASE_TTL" default:"5m"`
	ProtectedWindow time.Duration `envconfig:"TOPUP_LEASE_PROTECTED_WINDOW" default:"2m"`
	MarginPercent   string        `envconfig:"TOPUP_LEASE_MARGIN_PERCENT" default:"20"`
	TierEnabled     bool          `envconfig:"TOPUP_LEASE_TIER_ENABLED" default:"true"`
}

type ProviderConfig struct {
	WebhookSecret string `envconfig:"TOPUP_PROVIDER_WEBHOOK_SECRET" required:"true"`
}

// ReconcilerConfig tunes the background polling loops.
type ReconcilerConfig struct {
	Interval        time.Duration `envconfig:"TOPUP_RECONCILER_INTERVAL" default:"15s"`
	BatchSize       int           `envconfig:"TOPUP_RECONCILER_BATCH_SIZE" default:"50"`
	MaxPollAttempts int           `envconfig:"TOPUP_RECONCILER_MAX_POLL_ATTEMPTS" default:"20"`
	LockTTL         time.Duration `envconfig:"TOPUP_RECONCILER_LOCK_TTL" default:"1m"`
}
