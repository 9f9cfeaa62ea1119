package config

const (
	// EnvPrefix is passed to envconfig; the explicit tags below carry the full names.
	EnvPrefix = "DROPSHIP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "DROPSHIP_APP_ENV"
	EnvPort     = "DROPSHIP_APP_PORT"
	EnvDBDSN    = "DROPSHIP_DB_DSN"
	EnvDBHost   = "DROPSHIP_DB_HOST"
	EnvDBUser   = "DROPSHIP_DB_USER"
	EnvDBName   = "DROPSHIP_DB_NAME"
	EnvRedisURL = "DROPSHIP_REDIS_URL"

	EnvStripeAPIKey = "DROPSHIP_STRIPE_API_KEY"
	EnvStripeSecret = "DROPSHIP_STRIPE_SECRET"

	EnvAuctionURL           = "DROPSHIP_AUCTION_GRAPHQL_URL"
	EnvAuctionToken         = "DROPSHIP_AUCTION_API_TOKEN"
	EnvAuctionWebhookSecret = "DROPSHIP_AUCTION_WEBHOOK_SECRET"

	EnvSupplierToken = "DROPSHIP_SUPPLIER_ACCESS_TOKEN"
	EnvCronSecret    = "DROPSHIP_CRON_SECRET"

	EnvDailySpendCap = "DROPSHIP_DAILY_SPEND_CAP_CENTS"
	EnvMarginFloor   = "DROPSHIP_MARGIN_FLOOR"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
