package recovery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/buyers"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/fulfillment"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/lots"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/salesclosed"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/config"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/dbtest"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/supplier"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

type fakeSupplier struct {
	stock        int
	priceCents   int64
	payErr       error
	quotas       []supplier.Quota
	quotaErr     error
	orderStatus  map[string]string
	createdCount int
	paid         []string
	statusCalls  []string
}

func newFakeSupplier() *fakeSupplier {
	return &fakeSupplier{stock: 5, priceCents: 4000, orderStatus: map[string]string{}}
}

func (f *fakeSupplier) Stock(context.Context, string) (int, error) { return f.stock, nil }

func (f *fakeSupplier) VariantPriceCents(context.Context, string) (int64, error) {
	return f.priceCents, nil
}

func (f *fakeSupplier) CreateOrder(_ context.Context, req supplier.CreateOrderRequest) (*supplier.Order, error) {
	f.createdCount++
	id := fmt.Sprintf("cj-%d", f.createdCount)
	f.orderStatus[id] = supplier.OrderStatusCreated
	return &supplier.Order{OrderID: id, OrderNumber: req.OrderNumber, Status: supplier.OrderStatusCreated}, nil
}

func (f *fakeSupplier) PayOrder(_ context.Context, orderID string) error {
	f.paid = append(f.paid, orderID)
	return f.payErr
}

func (f *fakeSupplier) ConfirmOrder(context.Context, string) error { return nil }

func (f *fakeSupplier) Quotas(context.Context) ([]supplier.Quota, error) { return f.quotas, f.quotaErr }

func (f *fakeSupplier) GetOrder(_ context.Context, orderID string) (*supplier.Order, error) {
	f.statusCalls = append(f.statusCalls, orderID)
	return &supplier.Order{OrderID: orderID, Status: f.orderStatus[orderID]}, nil
}

type fakeRefunds struct {
	paymentIntent string
	refunds       []*stripe.RefundParams
}

func (f *fakeRefunds) InvoicePaymentIntentID(context.Context, string) (string, error) {
	return f.paymentIntent, nil
}

func (f *fakeRefunds) CreateRefund(_ context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	f.refunds = append(f.refunds, params)
	return &stripe.Refund{ID: fmt.Sprintf("re_%d", len(f.refunds))}, nil
}

// fakeInvoices is a Stripe invoice API keeping one status per invoice.
type fakeInvoices struct {
	created     int
	lines       []*stripe.InvoiceItemParams
	finalizeErr error
	status      map[string]stripe.InvoiceStatus
	err         error
	calls       []string
}

func (f *fakeInvoices) CreateInvoice(context.Context, *stripe.InvoiceParams) (*stripe.Invoice, error) {
	f.created++
	id := fmt.Sprintf("in_%d", f.created)
	f.status[id] = stripe.InvoiceStatusDraft
	return &stripe.Invoice{ID: id, Status: stripe.InvoiceStatusDraft}, nil
}

func (f *fakeInvoices) AddInvoiceItem(_ context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	f.lines = append(f.lines, params)
	return &stripe.InvoiceItem{ID: fmt.Sprintf("ii_%d", len(f.lines))}, nil
}

func (f *fakeInvoices) FinalizeInvoice(_ context.Context, id string, _ *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.status[id] = stripe.InvoiceStatusOpen
	return &stripe.Invoice{ID: id, Status: stripe.InvoiceStatusOpen, HostedInvoiceURL: "https://pay.test/" + id}, nil
}

func (f *fakeInvoices) GetInvoice(_ context.Context, id string) (*stripe.Invoice, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	status, ok := f.status[id]
	if !ok {
		status = stripe.InvoiceStatusOpen
	}
	inv := &stripe.Invoice{ID: id, Status: status}
	if status != stripe.InvoiceStatusDraft {
		inv.HostedInvoiceURL = "https://pay.test/" + id
	}
	return inv, nil
}

type fakePoller struct {
	sales []auction.Sale
	err   error
	calls int
}

func (f *fakePoller) ClosedSalesSince(context.Context, time.Time) ([]auction.Sale, error) {
	f.calls++
	return f.sales, f.err
}

type fakeProcessor struct {
	sales   []string
	settled []uuid.UUID
}

func (f *fakeProcessor) ProcessSale(_ context.Context, saleID string) (*salesclosed.Result, error) {
	f.sales = append(f.sales, saleID)
	return &salesclosed.Result{SaleID: saleID, ItemsNew: 1}, nil
}

func (f *fakeProcessor) SettleOrder(_ context.Context, orderID uuid.UUID) (bool, error) {
	f.settled = append(f.settled, orderID)
	return true, nil
}

type fakeProfiles struct{}

func (fakeProfiles) PaymentProfile(_ context.Context, buyerID string) (*buyers.PaymentProfile, error) {
	return &buyers.PaymentProfile{CustomerID: "cus_" + buyerID, DefaultPaymentMethodID: "pm_" + buyerID}, nil
}

func (fakeProfiles) ShippingAddress(context.Context, string) (types.ShippingAddress, error) {
	return types.ShippingAddress{Name: "Ada Buyer", Line1: "1 Main St", City: "Austin", PostalCode: "78701", Country: "US"}, nil
}

type fakeAddresses struct {
	err error
}

func (f *fakeAddresses) ShippingAddress(ctx context.Context, buyerID string) (types.ShippingAddress, error) {
	if f.err != nil {
		return types.ShippingAddress{}, f.err
	}
	return fakeProfiles{}.ShippingAddress(ctx, buyerID)
}

type sentAlert struct {
	severity enums.AlertSeverity
	message  string
}

type fakeAlerts struct {
	mu   sync.Mutex
	sent []sentAlert
}

func (f *fakeAlerts) Send(_ context.Context, severity enums.AlertSeverity, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentAlert{severity: severity, message: message})
}

func (f *fakeAlerts) count(severity enums.AlertSeverity) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.sent {
		if a.severity == severity {
			n++
		}
	}
	return n
}

// transitionLog records every lot status change made through it.
type transitionLog struct {
	lots.Repository
	mu       sync.Mutex
	steps    map[uuid.UUID][]enums.LotStatus
	setError error
}

func (l *transitionLog) SetError(ctx context.Context, id uuid.UUID, message string) error {
	if l.setError != nil {
		return l.setError
	}
	return l.Repository.SetError(ctx, id, message)
}

func (l *transitionLog) Transition(ctx context.Context, id uuid.UUID, from, to enums.LotStatus, updates map[string]any) error {
	if err := l.Repository.Transition(ctx, id, from, to, updates); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.steps[id]) == 0 {
		l.steps[id] = append(l.steps[id], from)
	}
	l.steps[id] = append(l.steps[id], to)
	return nil
}

func (l *transitionLog) history(id uuid.UUID) []enums.LotStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]enums.LotStatus(nil), l.steps[id]...)
}

func testConfig() config.FulfillmentConfig {
	return config.FulfillmentConfig{
		DailySpendCapCents:  100000,
		PriceDriftTolerance: decimal.RequireFromString("0.20"),
		MarginFloor:         decimal.RequireFromString("-0.05"),
		MarginWindow:        7 * 24 * time.Hour,
		QuotaLowWater:       100,
		StaleAfter:          2 * time.Hour,
		MaxRecoveryAttempts: 3,
		PollLookback:        24 * time.Hour,
		BatchLimit:          50,
	}
}

type fixture struct {
	db        *gorm.DB
	lots      *transitionLog
	orders    orders.Repository
	supplier  *fakeSupplier
	refunds   *fakeRefunds
	invoices  *fakeInvoices
	addresses *fakeAddresses
	poller    *fakePoller
	processor *fakeProcessor
	alerts    *fakeAlerts
	placer    *fulfillment.Placer
	paid      *fulfillment.PaidHandler
	scheduler *Scheduler
	logg      *logger.Logger
	now       time.Time
}

func newFixture(t *testing.T, cfg config.FulfillmentConfig) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{
		db:        conn,
		lots:      &transitionLog{Repository: lots.NewRepository(conn), steps: map[uuid.UUID][]enums.LotStatus{}},
		orders:    orders.NewRepository(conn),
		supplier:  newFakeSupplier(),
		refunds:   &fakeRefunds{paymentIntent: "pi_1"},
		invoices:  &fakeInvoices{status: map[string]stripe.InvoiceStatus{}},
		addresses: &fakeAddresses{},
		poller:    &fakePoller{},
		processor: &fakeProcessor{},
		alerts:    &fakeAlerts{},
		logg:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		now:       time.Now().UTC(),
	}
	clock := func() time.Time { return f.now }

	placer, err := fulfillment.NewPlacer(fulfillment.PlacerParams{
		Lots:                f.lots,
		Supplier:            f.supplier,
		Alerts:              f.alerts,
		Logger:              f.logg,
		DailySpendCapCents:  cfg.DailySpendCapCents,
		PriceDriftTolerance: cfg.PriceDriftTolerance,
		Now:                 clock,
	})
	require.NoError(t, err)
	f.placer = placer

	f.paid, err = fulfillment.NewPaidHandler(fulfillment.PaidHandlerParams{
		Orders:    f.orders,
		Lots:      f.lots,
		Addresses: f.addresses,
		Placer:    placer,
		Logger:    f.logg,
		Now:       clock,
	})
	require.NoError(t, err)

	scheduler, err := NewScheduler(SchedulerParams{
		Lots:      f.lots,
		Orders:    f.orders,
		Platform:  f.poller,
		Processor: f.processor,
		Placer:    placer,
		Addresses: f.addresses,
		Refunds:   f.refunds,
		Invoices:  f.invoices,
		Paid:      f.paid,
		Supplier:  f.supplier,
		Alerts:    f.alerts,
		Logger:    f.logg,
		Config:    cfg,
		Now:       clock,
	})
	require.NoError(t, err)
	f.scheduler = scheduler
	return f
}

// seedLot inserts a lot and forces its status and any extra columns
// without going through transitions.
func (f *fixture) seedLot(t *testing.T, itemID string, status enums.LotStatus, columns map[string]any) *models.Lot {
	t.Helper()
	lot := &models.Lot{
		ItemID:                itemID,
		SaleID:                "sale-1",
		BuyerID:               "buyer-x",
		SupplierProductID:     "p-1",
		SupplierVariantID:     "v-1",
		SupplierCostCents:     4000,
		SupplierShippingCents: 500,
		LogisticName:          "CJPacket",
		WinningBidCents:       10000,
		Currency:              "USD",
	}
	created, err := f.lots.Create(context.Background(), lot)
	require.NoError(t, err)
	require.True(t, created)

	values := map[string]any{"status": status}
	for k, v := range columns {
		values[k] = v
	}
	require.NoError(t, f.db.Model(&models.Lot{}).Where("id = ?", lot.ID).UpdateColumns(values).Error)
	return lot
}

// seedInvoicedOrder creates an order whose invoice in_1 was finalized for
// the items and walks it to status. PAID also records the payment.
func (f *fixture) seedInvoicedOrder(t *testing.T, status enums.OrderStatus, itemIDs ...string) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, _, err := f.orders.Create(ctx, &models.Order{PlatformOrderID: "plat-1", SaleID: "sale-1", BuyerID: "buyer-x", Currency: "USD"})
	require.NoError(t, err)
	items := make([]models.OrderItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		items = append(items, models.OrderItem{OrderID: order.ID, ItemID: id, AmountCents: 10000, Description: id})
	}
	require.NoError(t, f.orders.UpsertItems(ctx, items))
	require.NoError(t, f.orders.SetInvoiceID(ctx, order.ID, "in_1"))
	require.NoError(t, f.orders.TransitionStatus(ctx, order.ID, enums.OrderStatusOpen, enums.OrderStatusInvoiceIssued,
		map[string]any{"invoice_url": "https://pay.test/in_1"}))
	require.NoError(t, f.orders.MarkItemsInvoiced(ctx, order.ID, itemIDs, f.now))
	if status == enums.OrderStatusPaid {
		_, err = f.orders.MarkPaid(ctx, order.ID, f.now)
		require.NoError(t, err)
		require.NoError(t, f.orders.TransitionStatus(ctx, order.ID, enums.OrderStatusInvoiceIssued, enums.OrderStatusPaid, nil))
	}
	order, err = f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	return order
}

func (f *fixture) lot(t *testing.T, id uuid.UUID) *models.Lot {
	t.Helper()
	lot, err := f.lots.FindByID(context.Background(), id)
	require.NoError(t, err)
	return lot
}

func (f *fixture) age(t *testing.T, id uuid.UUID, by time.Duration) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Lot{}).Where("id = ?", id).UpdateColumn("updated_at", f.now.Add(-by)).Error)
}
