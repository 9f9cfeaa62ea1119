package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/fulfillment"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/lots"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/salesclosed"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/alerts"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/metrics"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/supplier"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

// Step names as they appear in the run report and metrics.
const (
	StepSpendCap         = "spend_cap"
	StepPollSales        = "poll_sales"
	StepRetryInvoices    = "retry_invoices"
	StepRetryFulfillment = "retry_fulfillment"
	StepRefunds          = "refunds"
	StepMarginFloor      = "margin_floor"
	StepSupplierQuota    = "supplier_quota"
	StepStuckLots        = "stuck_lots"
	StepInvoiceBacklog   = "invoice_backlog"
)

type salePoller interface {
	ClosedSalesSince(ctx context.Context, since time.Time) ([]auction.Sale, error)
}

type saleProcessor interface {
	ProcessSale(ctx context.Context, saleID string) (*salesclosed.Result, error)
	SettleOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type lotPlacer interface {
	PlaceOrder(ctx context.Context, lotID uuid.UUID, addr types.ShippingAddress) (*fulfillment.Result, error)
	ResumePayment(ctx context.Context, lotID uuid.UUID) (*fulfillment.Result, error)
}

type addressResolver interface {
	ShippingAddress(ctx context.Context, buyerID string) (types.ShippingAddress, error)
}

type refundGateway interface {
	InvoicePaymentIntentID(ctx context.Context, invoiceID string) (string, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type invoiceReader interface {
	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
}

type paidReplayer interface {
	HandleInvoicePaid(ctx context.Context, invoiceID string) ([]fulfillment.Result, error)
}

type supplierAPI interface {
	Quotas(ctx context.Context) ([]supplier.Quota, error)
	GetOrder(ctx context.Context, orderID string) (*supplier.Order, error)
}

// SchedulerParams groups the recovery scheduler dependencies.
type SchedulerParams struct {
	Lots      lots.Repository
	Orders    orders.Repository
	Platform  salePoller
	Processor saleProcessor
	Placer    lotPlacer
	Addresses addressResolver
	Refunds   refundGateway
	Invoices  invoiceReader
	Paid      paidReplayer
	Supplier  supplierAPI
	Alerts    alerts.Notifier
	Metrics   *metrics.FulfillmentMetrics
	Logger    *logger.Logger
	Config    config.FulfillmentConfig
	Now       func() time.Time
}

// Scheduler runs one recovery pass over the pipeline. Nothing is cached
// between runs; spend and margin are recomputed from the lot store.
type Scheduler struct {
	lots      lots.Repository
	orders    orders.Repository
	platform  salePoller
	processor saleProcessor
	placer    lotPlacer
	addresses addressResolver
	refunds   refundGateway
	invoices  invoiceReader
	paid      paidReplayer
	supplier  supplierAPI
	alerts    alerts.Notifier
	metrics   *metrics.FulfillmentMetrics
	logg      *logger.Logger
	cfg       config.FulfillmentConfig
	now       func() time.Time
}

// StepReport is the outcome of one scheduler step.
type StepReport struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Detail    string `json:"detail,omitempty"`
}

// Report is the structured result of a run. Failures live in the body; a
// run always completes with a report.
type Report struct {
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	Halted          bool         `json:"halted"`
	HaltReason      string       `json:"halt_reason,omitempty"`
	SpentTodayCents int64        `json:"spent_today_cents"`
	AwaitingInvoice int64        `json:"awaiting_invoice"`
	Steps           []StepReport `json:"steps"`

	errs error
}

// Err combines every step error of the run, or nil.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	return r.errs
}

// FailedSteps lists the steps that reported an error.
func (r *Report) FailedSteps() []string {
	var failed []string
	for _, step := range r.Steps {
		if !step.OK {
			failed = append(failed, step.Name)
		}
	}
	return failed
}

// Step returns the named step report, or nil when it did not run.
func (r *Report) Step(name string) *StepReport {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	switch {
	case params.Lots == nil:
		return nil, errors.New("lots repository required")
	case params.Orders == nil:
		return nil, errors.New("orders repository required")
	case params.Platform == nil:
		return nil, errors.New("auction platform client required")
	case params.Processor == nil:
		return nil, errors.New("sale processor required")
	case params.Placer == nil:
		return nil, errors.New("placer required")
	case params.Addresses == nil:
		return nil, errors.New("address resolver required")
	case params.Refunds == nil:
		return nil, errors.New("refund gateway required")
	case params.Invoices == nil:
		return nil, errors.New("invoice reader required")
	case params.Paid == nil:
		return nil, errors.New("paid handler required")
	case params.Supplier == nil:
		return nil, errors.New("supplier client required")
	case params.Alerts == nil:
		return nil, errors.New("alert notifier required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Config.DailySpendCapCents <= 0:
		return nil, errors.New("daily spend cap must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	cfg := params.Config
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &Scheduler{
		lots:      params.Lots,
		orders:    params.Orders,
		platform:  params.Platform,
		processor: params.Processor,
		placer:    params.Placer,
		addresses: params.Addresses,
		refunds:   params.Refunds,
		invoices:  params.Invoices,
		paid:      params.Paid,
		supplier:  params.Supplier,
		alerts:    params.Alerts,
		metrics:   params.Metrics,
		logg:      params.Logger,
		cfg:       cfg,
		now:       now,
	}, nil
}

type stepFunc func(ctx context.Context, report *Report, step *StepReport) error

// Run executes the recovery steps in order. Each step is isolated: its
// failure is recorded and alerted, and the next step still runs. The spend
// and margin breakers stop the remaining steps of the run.
func (s *Scheduler) Run(ctx context.Context) *Report {
	report := &Report{StartedAt: s.now().UTC()}

	steps := []struct {
		name string
		fn   stepFunc
	}{
		{StepSpendCap, s.checkSpendCap},
		{StepPollSales, s.pollClosedSales},
		{StepRetryInvoices, s.retryInvoices},
		{StepRetryFulfillment, s.retryFulfillment},
		{StepRefunds, s.processRefunds},
		{StepMarginFloor, s.checkMarginFloor},
		{StepSupplierQuota, s.checkSupplierQuota},
		{StepStuckLots, s.recoverStuckLots},
	}
	for _, st := range steps {
		s.runStep(ctx, report, st.name, st.fn)
		if report.Halted {
			break
		}
	}
	s.runStep(ctx, report, StepInvoiceBacklog, s.reportInvoiceBacklog)

	if failed := report.FailedSteps(); len(failed) > 0 {
		s.alerts.Send(ctx, enums.AlertSeverityNormal, "recovery run finished with failed steps: "+strings.Join(failed, ", "))
	}
	report.FinishedAt = s.now().UTC()
	s.logg.Info(ctx, fmt.Sprintf("recovery run finished: %d steps, %d failed, halted=%t", len(report.Steps), len(report.FailedSteps()), report.Halted))
	return report
}

func (s *Scheduler) runStep(ctx context.Context, report *Report, name string, fn stepFunc) {
	ctx = s.logg.WithField(ctx, "recovery_step", name)
	step := StepReport{Name: name, OK: true}
	if err := fn(ctx, report, &step); err != nil {
		step.OK = false
		step.Error = err.Error()
		report.errs = multierr.Append(report.errs, fmt.Errorf("%s: %w", name, err))
		s.metrics.IncStepFailure(name)
		s.logg.Error(ctx, "recovery step failed", err)
		s.alerts.Send(ctx, enums.AlertSeverityNormal, fmt.Sprintf("recovery step %s failed: %v", name, err))
	}
	report.Steps = append(report.Steps, step)
}

func (s *Scheduler) halt(ctx context.Context, report *Report, breaker, reason string) {
	report.Halted = true
	report.HaltReason = reason
	s.metrics.IncHalt(breaker)
	s.logg.Warn(ctx, "recovery halted: "+reason)
	s.alerts.Send(ctx, enums.AlertSeverityCritical, "recovery halted: "+reason)
}

// checkSpendCap halts the run once today's supplier spend reaches the cap,
// before anything else can spend.
func (s *Scheduler) checkSpendCap(ctx context.Context, report *Report, step *StepReport) error {
	dayStart := s.now().UTC().Truncate(24 * time.Hour)
	spent, err := s.lots.SpendBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return err
	}
	report.SpentTodayCents = spent
	s.metrics.SetDailySpend(spent)
	step.Detail = fmt.Sprintf("spent %d of %d cents today", spent, s.cfg.DailySpendCapCents)
	if spent >= s.cfg.DailySpendCapCents {
		s.halt(ctx, report, StepSpendCap, fmt.Sprintf("daily spend %d cents reached cap %d cents", spent, s.cfg.DailySpendCapCents))
	}
	return nil
}

// pollClosedSales feeds recently closed sales back through the processor;
// its item dedupe makes repeated polling harmless.
func (s *Scheduler) pollClosedSales(ctx context.Context, _ *Report, step *StepReport) error {
	since := s.now().UTC().Add(-s.cfg.PollLookback)
	sales, err := s.platform.ClosedSalesSince(ctx, since)
	if err != nil {
		return err
	}
	var errs error
	for _, sale := range sales {
		result, err := s.processor.ProcessSale(ctx, sale.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sale %s: %w", sale.ID, err))
			continue
		}
		if result.ItemsNew == 0 {
			step.Skipped++
			continue
		}
		step.Processed++
	}
	return errs
}

// retryInvoices settles orders an earlier run left without a finalized
// invoice: a first invoice that failed, or a draft that was never finalized.
// Orders touched within the grace window belong to a run still in flight.
func (s *Scheduler) retryInvoices(ctx context.Context, _ *Report, step *StepReport) error {
	var before time.Time
	if s.cfg.InvoiceRetryGrace > 0 {
		before = s.now().UTC().Add(-s.cfg.InvoiceRetryGrace)
	}
	pending, err := s.orders.ListInvoicePending(ctx, "", before, s.cfg.BatchLimit)
	if err != nil {
		return err
	}
	var errs error
	for _, order := range pending {
		orderCtx := s.logg.WithOrderID(ctx, order.ID.String())
		issued, err := s.processor.SettleOrder(orderCtx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if issued {
			step.Processed++
		} else {
			step.Skipped++
		}
	}
	return errs
}

// retryFulfillment re-drives PAID lots that never got a supplier order.
func (s *Scheduler) retryFulfillment(ctx context.Context, _ *Report, step *StepReport) error {
	pending, err := s.lots.ListPaidWithoutSupplierOrder(ctx, s.cfg.BatchLimit)
	if err != nil {
		return err
	}
	var errs error
	for _, lot := range pending {
		lotCtx := s.logg.WithLotID(ctx, lot.ID.String())
		addr, err := s.addresses.ShippingAddress(lotCtx, lot.BuyerID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lot %s: %w", lot.ID, err))
			if setErr := s.lots.SetError(lotCtx, lot.ID, "resolve shipping address: "+err.Error()); setErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("lot %s: %w", lot.ID, setErr))
			}
			continue
		}
		result, err := s.placer.PlaceOrder(lotCtx, lot.ID, addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lot %s: %w", lot.ID, err))
			continue
		}
		if result.Success {
			step.Processed++
		} else {
			step.Skipped++
		}
	}
	return errs
}

// checkMarginFloor halts when the realized margin over the window falls
// below the floor. A margin exactly on the floor passes.
func (s *Scheduler) checkMarginFloor(ctx context.Context, report *Report, step *StepReport) error {
	totals, err := s.lots.MarginSince(ctx, s.now().UTC().Add(-s.cfg.MarginWindow))
	if err != nil {
		return err
	}
	if totals.RevenueCents <= 0 {
		step.Detail = "no fulfilled lots in window"
		return nil
	}
	margin := decimal.NewFromInt(totals.ProfitCents).Div(decimal.NewFromInt(totals.RevenueCents))
	step.Processed = int(totals.Lots)
	step.Detail = fmt.Sprintf("margin %s over %d lots", margin.StringFixed(4), totals.Lots)
	if margin.LessThan(s.cfg.MarginFloor) {
		s.halt(ctx, report, StepMarginFloor, fmt.Sprintf("realized margin %s below floor %s", margin.StringFixed(4), s.cfg.MarginFloor.String()))
	}
	return nil
}

func (s *Scheduler) checkSupplierQuota(ctx context.Context, _ *Report, step *StepReport) error {
	quotas, err := s.supplier.Quotas(ctx)
	if err != nil {
		return err
	}
	var low []string
	for _, q := range quotas {
		if q.Remaining < s.cfg.QuotaLowWater {
			low = append(low, fmt.Sprintf("%s (%d left)", q.Endpoint, q.Remaining))
		}
	}
	step.Processed = len(quotas)
	if len(low) > 0 {
		step.Detail = "low quota: " + strings.Join(low, ", ")
		s.alerts.Send(ctx, enums.AlertSeverityCritical, "supplier quota below low-water mark: "+strings.Join(low, ", "))
	}
	return nil
}

func (s *Scheduler) reportInvoiceBacklog(ctx context.Context, report *Report, step *StepReport) error {
	count, err := s.orders.CountInvoiceBacklog(ctx)
	if err != nil {
		return err
	}
	report.AwaitingInvoice = count
	step.Processed = int(count)
	if count > 0 {
		s.alerts.Send(ctx, enums.AlertSeverityNormal, fmt.Sprintf("%d orders have items awaiting the next invoice", count))
	}
	return nil
}
