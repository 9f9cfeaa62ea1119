package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PASLLC7291/high-end-auction-sub002/api/controllers"
	webhookcontrollers "github.com/PASLLC7291/high-end-auction-sub002/api/controllers/webhooks"
	"github.com/PASLLC7291/high-end-auction-sub002/api/middleware"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/recovery"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/redis"
)

type webhookLedger interface {
	MarkProcessed(ctx context.Context, provider enums.WebhookProvider, key string, payload []byte) (bool, error)
	RecordResult(ctx context.Context, provider enums.WebhookProvider, key string, procErr error) error
}

type signingSecretSource interface {
	SigningSecret() string
}

type recoveryRunner interface {
	Trigger(ctx context.Context) (bool, error)
}

type recoveryReports interface {
	LastReport() *recovery.Report
}

type listingStore interface {
	UpsertListing(ctx context.Context, listing *models.DropshipListing) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gatherer prometheus.Gatherer,
	ledger webhookLedger,
	auctionWebhookService webhookcontrollers.AuctionWebhookService,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeClient signingSecretSource,
	cronRunner recoveryRunner,
	reports recoveryReports,
	listings listingStore,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/auction", webhookcontrollers.AuctionWebhook(auctionWebhookService, cfg.Auction.WebhookSecret, ledger, logg))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, ledger, logg))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerSecret(cfg.Cron.Secret, logg))

		recoveryHandler := controllers.CronRecovery(cronRunner, reports, logg)
		r.Get("/api/v1/cron/recovery", recoveryHandler)
		r.Post("/api/v1/cron/recovery", recoveryHandler)

		r.Put("/api/v1/listings", controllers.ListingUpsert(listings, logg))
	})

	return r
}
