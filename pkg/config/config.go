package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Auction      AuctionConfig
	Supplier     SupplierConfig
	Alerts       AlertsConfig
	Cron         CronConfig
	Fulfillment  FulfillmentConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fulfillment.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DROPSHIP_APP_ENV" required:"true"`
	Port         string `envconfig:"DROPSHIP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"DROPSHIP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DROPSHIP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DROPSHIP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DROPSHIP_DB_DSN"`
	Driver string `envconfig:"DROPSHIP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DROPSHIP_DB_HOST"`
	LegacyPort     int    `envconfig:"DROPSHIP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DROPSHIP_DB_USER"`
	LegacyPassword string `envconfig:"DROPSHIP_DB_PASSWORD"`
	LegacyName     string `envconfig:"DROPSHIP_DB_NAME"`
	LegacySSLMode  string `envconfig:"DROPSHIP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DROPSHIP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DROPSHIP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DROPSHIP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DROPSHIP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DROPSHIP_REDIS_URL"`
	Address      string        `envconfig:"DROPSHIP_REDIS_ADDR"`
	Password     string        `envconfig:"DROPSHIP_REDIS_PASSWORD"`
	DB           int           `envconfig:"DROPSHIP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DROPSHIP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DROPSHIP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DROPSHIP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DROPSHIP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DROPSHIP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DROPSHIP_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"DROPSHIP_STRIPE_API_KEY" required:"true"`
	Secret string `envconfig:"DROPSHIP_STRIPE_SECRET" required:"true"`
	Env    string `envconfig:"DROPSHIP_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// AuctionConfig points at the auction platform's GraphQL API.
type AuctionConfig struct {
	GraphQLURL    string        `envconfig:"DROPSHIP_AUCTION_GRAPHQL_URL" required:"true"`
	APIToken      string        `envconfig:"DROPSHIP_AUCTION_API_TOKEN" required:"true"`
	WebhookSecret string        `envconfig:"DROPSHIP_AUCTION_WEBHOOK_SECRET" required:"true"`
	Timeout       time.Duration `envconfig:"DROPSHIP_AUCTION_TIMEOUT" default:"10s"`
	PageSize      int           `envconfig:"DROPSHIP_AUCTION_PAGE_SIZE" default:"100"`
}

type SupplierConfig struct {
	BaseURL     string        `envconfig:"DROPSHIP_SUPPLIER_BASE_URL" default:"https://developers.cjdropshipping.com/api2.0/v1"`
	AccessToken string        `envconfig:"DROPSHIP_SUPPLIER_ACCESS_TOKEN" required:"true"`
	Timeout     time.Duration `envconfig:"DROPSHIP_SUPPLIER_TIMEOUT" default:"15s"`
	RatePerSec  float64       `envconfig:"DROPSHIP_SUPPLIER_RATE_PER_SEC" default:"1"`
	Burst       int           `envconfig:"DROPSHIP_SUPPLIER_BURST" default:"1"`
}

type AlertsConfig struct {
	SlackWebhookURL string        `envconfig:"DROPSHIP_ALERTS_SLACK_WEBHOOK_URL"`
	Timeout         time.Duration `envconfig:"DROPSHIP_ALERTS_TIMEOUT" default:"5s"`
}

type CronConfig struct {
	Secret   string        `envconfig:"DROPSHIP_CRON_SECRET" required:"true"`
	Interval time.Duration `envconfig:"DROPSHIP_CRON_INTERVAL" default:"10m"`
	LockTTL  time.Duration `envconfig:"DROPSHIP_CRON_LOCK_TTL" default:"9m"`
}

// FulfillmentConfig holds the financial guard rails.
type FulfillmentConfig struct {
	DailySpendCapCents  int64           `envconfig:"DROPSHIP_DAILY_SPEND_CAP_CENTS" default:"50000"`
	PriceDriftTolerance decimal.Decimal `envconfig:"DROPSHIP_PRICE_DRIFT_TOLERANCE" default:"0.20"`
	MarginFloor         decimal.Decimal `envconfig:"DROPSHIP_MARGIN_FLOOR" default:"-0.05"`
	MarginWindow        time.Duration   `envconfig:"DROPSHIP_MARGIN_WINDOW" default:"168h"`
	QuotaLowWater       int             `envconfig:"DROPSHIP_SUPPLIER_QUOTA_LOW_WATER" default:"100"`
	StaleAfter          time.Duration   `envconfig:"DROPSHIP_STALE_AFTER" default:"2h"`
	MaxRecoveryAttempts int             `envconfig:"DROPSHIP_MAX_RECOVERY_ATTEMPTS" default:"3"`
	PollLookback        time.Duration   `envconfig:"DROPSHIP_POLL_LOOKBACK" default:"24h"`
	BatchLimit          int             `envconfig:"DROPSHIP_RECOVERY_BATCH_LIMIT" default:"50"`
	InvoiceRetryGrace   time.Duration   `envconfig:"DROPSHIP_INVOICE_RETRY_GRACE" default:"10m"`
}

func (f FulfillmentConfig) validate() error {
	if f.DailySpendCapCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvDailySpendCap)
	}
	if !f.PriceDriftTolerance.IsPositive() {
		return fmt.Errorf("price drift tolerance must be positive")
	}
	if f.MarginFloor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be below 1", EnvMarginFloor)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
