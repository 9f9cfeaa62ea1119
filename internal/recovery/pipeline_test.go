package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/buyers"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/invoicing"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/salesclosed"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
)

type fakePlatform struct {
	items      []auction.Item
	orders     int
	registered []auction.RegisterInvoiceInput
}

func (f *fakePlatform) ListSaleItems(_ context.Context, saleID string) (*auction.SaleItems, error) {
	return &auction.SaleItems{SaleID: saleID, Currency: "USD", Items: f.items}, nil
}

func (f *fakePlatform) CreateOrder(_ context.Context, input auction.CreateOrderInput) (string, error) {
	f.orders++
	return fmt.Sprintf("plat-%s-%d", input.BuyerID, f.orders), nil
}

func (f *fakePlatform) AddOrderLines(context.Context, string, []auction.OrderLine) error { return nil }

func (f *fakePlatform) PublishOrder(context.Context, string) error { return nil }

func (f *fakePlatform) RegisterInvoice(_ context.Context, input auction.RegisterInvoiceInput) error {
	f.registered = append(f.registered, input)
	return nil
}

func (f *fakePlatform) ClosedSalesSince(context.Context, time.Time) ([]auction.Sale, error) {
	return []auction.Sale{{ID: "sale-1", Status: "CLOSED"}}, nil
}

// buyerProfiles lets a test take a buyer's default card away.
type buyerProfiles struct {
	fakeProfiles
	withoutCard map[string]bool
}

func (b *buyerProfiles) PaymentProfile(ctx context.Context, buyerID string) (*buyers.PaymentProfile, error) {
	if b.withoutCard[buyerID] {
		return &buyers.PaymentProfile{CustomerID: "cus_" + buyerID}, nil
	}
	return b.fakeProfiles.PaymentProfile(ctx, buyerID)
}

type pipeline struct {
	*fixture
	platform  *fakePlatform
	profiles  *buyerProfiles
	processor *salesclosed.Processor
}

// newPipeline wires the real processor, issuer and paid handler around the
// recovery fixture so a lot can be driven from sale close to the supplier.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	f := newFixture(t, testConfig())
	p := &pipeline{fixture: f, platform: &fakePlatform{}, profiles: &buyerProfiles{withoutCard: map[string]bool{}}}

	issuer, err := invoicing.NewIssuer(invoicing.IssuerParams{
		Orders:   f.orders,
		Stripe:   f.invoices,
		Platform: p.platform,
		Logger:   f.logg,
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	p.processor, err = salesclosed.NewProcessor(salesclosed.ProcessorParams{
		DB:       db.Wrap(f.db),
		Orders:   f.orders,
		Lots:     f.lots,
		Platform: p.platform,
		Profiles: p.profiles,
		Issuer:   issuer,
		Logger:   f.logg,
	})
	require.NoError(t, err)

	f.scheduler, err = NewScheduler(SchedulerParams{
		Lots:      f.lots,
		Orders:    f.orders,
		Platform:  p.platform,
		Processor: p.processor,
		Placer:    f.placer,
		Addresses: f.addresses,
		Refunds:   f.refunds,
		Invoices:  f.invoices,
		Paid:      f.paid,
		Supplier:  f.supplier,
		Alerts:    f.alerts,
		Logger:    f.logg,
		Config:    testConfig(),
		Now:       func() time.Time { return f.now },
	})
	require.NoError(t, err)

	require.NoError(t, f.lots.UpsertListing(context.Background(), &models.DropshipListing{
		ItemID:                "item-1",
		SupplierProductID:     "p-1",
		SupplierVariantID:     "v-1",
		SupplierCostCents:     4000,
		SupplierShippingCents: 500,
		LogisticName:          "CJPacket",
		Active:                true,
	}))
	p.platform.items = []auction.Item{
		{ID: "item-1", Title: "Vintage lamp", Status: "CLOSED", LeaderID: "buyer-x", CurrentBidCents: 10000},
	}
	return p
}

func (p *pipeline) closeAndPay(t *testing.T) *models.Lot {
	t.Helper()
	ctx := context.Background()

	result, err := p.processor.ProcessSale(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.LotsCreated)
	require.Equal(t, 1, result.InvoicesIssued)

	lot, err := p.lots.FindByItemID(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, lot)
	require.Equal(t, enums.LotStatusAuctionClosed, lot.Status)

	_, err = p.paid.HandleInvoicePaid(ctx, "in_1")
	require.NoError(t, err)
	return p.lot(t, lot.ID)
}

func TestPipelineFulfillsPaidLot(t *testing.T) {
	p := newPipeline(t)

	lot := p.closeAndPay(t)

	assert.Equal(t, enums.LotStatusCJPaid, lot.Status)
	require.NotNil(t, lot.SupplierOrderID)
	assert.Equal(t, "cj-1", *lot.SupplierOrderID)
	require.NotNil(t, lot.ProfitCents)
	assert.Equal(t, int64(10000-(4000+500)), *lot.ProfitCents)
	assert.NotNil(t, lot.SupplierPaidAt)
	assert.Equal(t, []enums.LotStatus{
		enums.LotStatusAuctionClosed,
		enums.LotStatusPaid,
		enums.LotStatusCJOrdered,
		enums.LotStatusCJPaid,
	}, p.lots.history(lot.ID))

	order, err := p.orders.FindByInvoiceID(context.Background(), "in_1")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	require.Len(t, p.platform.registered, 1)
	assert.Equal(t, int64(10000), p.platform.registered[0].AmountCents)

	// a recovery pass re-polls the sale without double-invoicing or re-ordering
	report := p.scheduler.Run(context.Background())
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Step(StepPollSales).Skipped)
	assert.Equal(t, 1, p.invoices.created)
	assert.Equal(t, 1, p.supplier.createdCount)
	assert.Equal(t, int64(4500), report.SpentTodayCents)
}

func TestPipelineRefundsPriceChangedLot(t *testing.T) {
	p := newPipeline(t)
	p.supplier.priceCents = 5000

	lot := p.closeAndPay(t)

	require.Equal(t, enums.LotStatusCJPriceChanged, lot.Status)
	require.NotNil(t, lot.LatestSupplierCostCents)
	assert.Equal(t, int64(5000), *lot.LatestSupplierCostCents)
	assert.Zero(t, p.supplier.createdCount)

	report := p.scheduler.Run(context.Background())
	require.NoError(t, report.Err())
	require.Len(t, p.refunds.refunds, 1)
	assert.Equal(t, int64(10000), *p.refunds.refunds[0].Amount)

	lot = p.lot(t, lot.ID)
	assert.Equal(t, enums.LotStatusCancelled, lot.Status)
	assert.Equal(t, []enums.LotStatus{
		enums.LotStatusAuctionClosed,
		enums.LotStatusPaid,
		enums.LotStatusCJPriceChanged,
		enums.LotStatusCancelled,
	}, p.lots.history(lot.ID))

	// cancelled lots are left alone by later passes
	p.age(t, lot.ID, 3*time.Hour)
	report = p.scheduler.Run(context.Background())
	require.NoError(t, report.Err())
	assert.Len(t, p.refunds.refunds, 1)
	assert.Zero(t, p.supplier.createdCount)
	assert.Empty(t, p.supplier.paid)
	assert.Empty(t, p.supplier.statusCalls)
	assert.Equal(t, enums.LotStatusCancelled, p.lot(t, lot.ID).Status)
}

func TestPipelineInvoicesBuyerAfterCardIsAdded(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.profiles.withoutCard["buyer-x"] = true

	_, err := p.processor.ProcessSale(ctx, "sale-1")
	require.Error(t, err)
	assert.Zero(t, p.invoices.created)

	// still no card: the retry fails again and nothing is billed
	report := p.scheduler.Run(ctx)
	assert.Contains(t, report.FailedSteps(), StepPollSales)
	assert.Zero(t, p.invoices.created)

	delete(p.profiles.withoutCard, "buyer-x")
	report = p.scheduler.Run(ctx)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, p.invoices.created)

	order, err := p.orders.FindBySaleAndBuyer(ctx, "sale-1", "buyer-x")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.True(t, order.Finalized())
	assert.Equal(t, enums.OrderStatusInvoiceIssued, order.Status)
	require.Len(t, p.platform.registered, 1)

	_, err = p.paid.HandleInvoicePaid(ctx, "in_1")
	require.NoError(t, err)
	lot, err := p.lots.FindByItemID(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, enums.LotStatusCJPaid, lot.Status)
}

func TestPipelineResumesDraftAfterFailedFinalize(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.invoices.finalizeErr = errors.New("stripe 502")

	_, err := p.processor.ProcessSale(ctx, "sale-1")
	require.Error(t, err)
	order, err := p.orders.FindBySaleAndBuyer(ctx, "sale-1", "buyer-x")
	require.NoError(t, err)
	require.True(t, order.Invoiced())
	require.False(t, order.Finalized())

	p.invoices.finalizeErr = nil
	report := p.scheduler.Run(ctx)
	require.NoError(t, report.Err())

	order, err = p.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, order.Finalized())
	assert.Equal(t, 1, p.invoices.created)
	require.Len(t, p.invoices.lines, 2)
	assert.Equal(t, *p.invoices.lines[0].IdempotencyKey, *p.invoices.lines[1].IdempotencyKey)
	require.Len(t, p.platform.registered, 1)
	assert.Equal(t, "in_1", p.platform.registered[0].InvoiceID)
}
