// Package pipeline assembles the fulfillment object graph shared by the api
// and cron-worker binaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/buyers"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/cron"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/fulfillment"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/invoicing"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/lots"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/recovery"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/salesclosed"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/webhooks"
	auctionwebhook "github.com/PASLLC7291/high-end-auction-sub002/internal/webhooks/auction"
	stripewebhook "github.com/PASLLC7291/high-end-auction-sub002/internal/webhooks/stripe"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/alerts"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/metrics"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/stripe"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/supplier"
)

// alertWindow suppresses repeats of an identical alert across cron runs.
const alertWindow = time.Hour

// Store is the redis surface the graph needs: the cron lock and the alert
// throttle.
type Store interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	DelIfEquals(ctx context.Context, key, value string) (bool, error)
	LockKey(env, name string) string
	AlertKey(fingerprint string) string
}

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      Store
	Registerer prometheus.Registerer
	// Service names the binary in alerts.
	Service string
}

// Components exposes the wired services to the binaries.
type Components struct {
	Lots           lots.Repository
	Orders         orders.Repository
	Ledger         *webhooks.Ledger
	StripeClient   *stripe.Client
	Processor      *salesclosed.Processor
	Placer         *fulfillment.Placer
	PaidHandler    *fulfillment.PaidHandler
	Scheduler      *recovery.Scheduler
	AuctionWebhook *auctionwebhook.Service
	StripeWebhook  *stripewebhook.Service
	RecoveryJob    *cron.RecoveryJob
	Cron           *cron.Service
}

func Build(ctx context.Context, params Params) (*Components, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db client required")
	case params.Redis == nil:
		return nil, errors.New("redis client required")
	}
	cfg := params.Config
	logg := params.Logger
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	gateway := stripe.NewGateway(stripeClient)

	platform, err := auction.NewClient(cfg.Auction.GraphQLURL, cfg.Auction.APIToken,
		auction.WithTimeout(cfg.Auction.Timeout),
		auction.WithPageSize(cfg.Auction.PageSize),
	)
	if err != nil {
		return nil, fmt.Errorf("auction client: %w", err)
	}

	supplierClient, err := supplier.NewClient(cfg.Supplier.AccessToken,
		supplier.WithBaseURL(cfg.Supplier.BaseURL),
		supplier.WithTimeout(cfg.Supplier.Timeout),
		supplier.WithRateLimit(cfg.Supplier.RatePerSec, cfg.Supplier.Burst),
	)
	if err != nil {
		return nil, fmt.Errorf("supplier client: %w", err)
	}

	service := params.Service
	if service == "" {
		service = cfg.Service.Kind
	}
	notifier := alerts.NewThrottled(alerts.New(cfg.Alerts, service, logg), params.Redis, alertWindow, logg)
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(reg)

	conn := params.DB.DB()
	lotRepo := lots.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)

	resolver, err := buyers.NewResolver(gateway)
	if err != nil {
		return nil, err
	}

	issuer, err := invoicing.NewIssuer(invoicing.IssuerParams{
		Orders:   orderRepo,
		Stripe:   gateway,
		Platform: platform,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("invoice issuer: %w", err)
	}

	processor, err := salesclosed.NewProcessor(salesclosed.ProcessorParams{
		DB:       params.DB,
		Orders:   orderRepo,
		Lots:     lotRepo,
		Platform: platform,
		Profiles: resolver,
		Issuer:   issuer,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("sale processor: %w", err)
	}

	placer, err := fulfillment.NewPlacer(fulfillment.PlacerParams{
		Lots:                lotRepo,
		Supplier:            supplierClient,
		Alerts:              notifier,
		Metrics:             fulfillmentMetrics,
		Logger:              logg,
		DailySpendCapCents:  cfg.Fulfillment.DailySpendCapCents,
		PriceDriftTolerance: cfg.Fulfillment.PriceDriftTolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("placer: %w", err)
	}

	paid, err := fulfillment.NewPaidHandler(fulfillment.PaidHandlerParams{
		Orders:    orderRepo,
		Lots:      lotRepo,
		Addresses: resolver,
		Placer:    placer,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("paid handler: %w", err)
	}

	scheduler, err := recovery.NewScheduler(recovery.SchedulerParams{
		Lots:      lotRepo,
		Orders:    orderRepo,
		Platform:  platform,
		Processor: processor,
		Placer:    placer,
		Addresses: resolver,
		Refunds:   gateway,
		Invoices:  gateway,
		Paid:      paid,
		Supplier:  supplierClient,
		Alerts:    notifier,
		Metrics:   fulfillmentMetrics,
		Logger:    logg,
		Config:    cfg.Fulfillment,
	})
	if err != nil {
		return nil, fmt.Errorf("recovery scheduler: %w", err)
	}

	auctionSvc, err := auctionwebhook.NewService(auctionwebhook.ServiceParams{Processor: processor, Logger: logg})
	if err != nil {
		return nil, err
	}
	stripeSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{Paid: paid, Logger: logg})
	if err != nil {
		return nil, err
	}

	job, err := cron.NewRecoveryJob(cron.RecoveryJobParams{Logger: logg, Scheduler: scheduler})
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(params.Redis, params.Redis.LockKey(cfg.App.Env, cron.RecoveryJobName), cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}
	registry, err := cron.NewRegistry(job)
	if err != nil {
		return nil, err
	}
	cronSvc, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("cron service: %w", err)
	}

	return &Components{
		Lots:           lotRepo,
		Orders:         orderRepo,
		Ledger:         webhooks.NewLedger(conn),
		StripeClient:   stripeClient,
		Processor:      processor,
		Placer:         placer,
		PaidHandler:    paid,
		Scheduler:      scheduler,
		AuctionWebhook: auctionSvc,
		StripeWebhook:  stripeSvc,
		RecoveryJob:    job,
		Cron:           cronSvc,
	}, nil
}
