package invoicing

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/buyers"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/dbtest"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

type fakeGateway struct {
	created     []*stripe.InvoiceParams
	items       []*stripe.InvoiceItemParams
	finalized   []string
	hostedURL   string
	createErr   error
	itemErr     error
	finalizeErr error
	invoices    map[string]*stripe.Invoice
}

func (f *fakeGateway) CreateInvoice(_ context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	inv := &stripe.Invoice{ID: "in_test", Status: stripe.InvoiceStatusDraft}
	f.store(inv)
	return inv, nil
}

func (f *fakeGateway) GetInvoice(_ context.Context, id string) (*stripe.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, errors.New("no such invoice")
	}
	copied := *inv
	return &copied, nil
}

func (f *fakeGateway) AddInvoiceItem(_ context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	f.items = append(f.items, params)
	return &stripe.InvoiceItem{ID: "ii_" + params.Metadata[metadataItemID]}, nil
}

func (f *fakeGateway) FinalizeInvoice(_ context.Context, id string, _ *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error) {
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.finalized = append(f.finalized, id)
	inv := &stripe.Invoice{ID: id, Status: stripe.InvoiceStatusOpen, HostedInvoiceURL: f.hostedURL}
	f.store(inv)
	return inv, nil
}

func (f *fakeGateway) store(inv *stripe.Invoice) {
	if f.invoices == nil {
		f.invoices = map[string]*stripe.Invoice{}
	}
	f.invoices[inv.ID] = inv
}

// idempotentItems collapses repeated item keys the way Stripe does.
func (f *fakeGateway) idempotentItems() map[string]int {
	seen := map[string]int{}
	for _, item := range f.items {
		seen[*item.IdempotencyKey]++
	}
	return seen
}

type fakeRegistrar struct {
	inputs []auction.RegisterInvoiceInput
	err    error
}

func (f *fakeRegistrar) RegisterInvoice(_ context.Context, input auction.RegisterInvoiceInput) error {
	f.inputs = append(f.inputs, input)
	return f.err
}

type fixture struct {
	repo     orders.Repository
	gateway  *fakeGateway
	platform *fakeRegistrar
	issuer   *Issuer
	order    *models.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := orders.NewRepository(dbtest.Open(t))
	gateway := &fakeGateway{hostedURL: "https://invoice.stripe.test/in_test"}
	platform := &fakeRegistrar{}
	issuer, err := NewIssuer(IssuerParams{
		Orders:   repo,
		Stripe:   gateway,
		Platform: platform,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:      func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	ctx := context.Background()
	order, _, err := repo.Create(ctx, &models.Order{PlatformOrderID: "plat-1", SaleID: "sale-1", BuyerID: "buyer-x", Currency: "USD"})
	require.NoError(t, err)
	require.NoError(t, repo.UpsertItems(ctx, []models.OrderItem{
		{OrderID: order.ID, ItemID: "item-a", AmountCents: 10000, Description: "Lamp"},
		{OrderID: order.ID, ItemID: "item-b", AmountCents: 2500, Description: "Vase"},
	}))
	return &fixture{repo: repo, gateway: gateway, platform: platform, issuer: issuer, order: order}
}

func profile() *buyers.PaymentProfile {
	return &buyers.PaymentProfile{CustomerID: "cus_1", DefaultPaymentMethodID: "pm_1"}
}

func TestIssueCreatesOneInvoiceWithAllLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.issuer.Issue(ctx, f.order, profile())
	require.NoError(t, err)
	assert.Equal(t, "in_test", inv.ID)
	assert.Equal(t, int64(12500), inv.AmountCents)
	assert.Equal(t, 2, inv.Lines)

	require.Len(t, f.gateway.created, 1)
	assert.Equal(t, "usd", *f.gateway.created[0].Currency)
	assert.Equal(t, "pm_1", *f.gateway.created[0].DefaultPaymentMethod)
	require.Len(t, f.gateway.items, 2)
	for _, item := range f.gateway.items {
		assert.Equal(t, "in_test", *item.Invoice)
	}
	assert.Equal(t, []string{"in_test"}, f.gateway.finalized)

	stored, err := f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusInvoiceIssued, stored.Status)
	require.NotNil(t, stored.InvoiceURL)
	assert.Equal(t, f.gateway.hostedURL, *stored.InvoiceURL)

	pending, err := f.repo.ListUninvoicedItems(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Len(t, f.platform.inputs, 1)
	assert.Equal(t, "plat-1", f.platform.inputs[0].OrderID)
	assert.Equal(t, int64(12500), f.platform.inputs[0].AmountCents)
}

func TestIssueRejectsMissingDefaultPaymentMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.Issue(context.Background(), f.order, &buyers.PaymentProfile{CustomerID: "cus_1"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.gateway.created)
}

func TestIssueRejectsAlreadyInvoicedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, f.order, profile())
	require.NoError(t, err)

	_, err = f.issuer.Issue(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Len(t, f.gateway.created, 1)
}

func TestIssueWithoutHostedURLIsFatalButKeepsInvoiceID(t *testing.T) {
	f := newFixture(t)
	f.gateway.hostedURL = ""
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUpstreamMalformed))
	assert.Empty(t, f.platform.inputs)

	stored, err := f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Invoiced())
	assert.Equal(t, enums.OrderStatusOpen, stored.Status)
}

func TestIssueSurfacesStripeFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = errors.New("stripe unavailable")
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	stored, err := f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.False(t, stored.Invoiced())
}

func TestResumeFinishesDraftAfterFailedFinalize(t *testing.T) {
	f := newFixture(t)
	f.gateway.finalizeErr = errors.New("stripe 502")
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	stored, err := f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	require.True(t, stored.Invoiced())
	require.False(t, stored.Finalized())

	_, err = f.issuer.Issue(ctx, stored, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	f.gateway.finalizeErr = nil
	inv, err := f.issuer.Resume(ctx, stored, profile())
	require.NoError(t, err)
	assert.Equal(t, "in_test", inv.ID)
	assert.Equal(t, int64(12500), inv.AmountCents)

	assert.Len(t, f.gateway.created, 1)
	assert.Equal(t, []string{"in_test"}, f.gateway.finalized)
	assert.Equal(t, map[string]int{"invoice-item-item-a": 2, "invoice-item-item-b": 2}, f.gateway.idempotentItems())

	stored, err = f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusInvoiceIssued, stored.Status)
	assert.True(t, stored.Finalized())
	pending, err := f.repo.ListUninvoicedItems(ctx, f.order.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, f.platform.inputs, 1)
	assert.Equal(t, "in_test", f.platform.inputs[0].InvoiceID)
}

func TestResumeRecordsInvoiceFinalizedUpstream(t *testing.T) {
	f := newFixture(t)
	f.gateway.hostedURL = ""
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUpstreamMalformed))

	// Stripe filled in the hosted page after finalizing
	f.gateway.invoices["in_test"].HostedInvoiceURL = "https://invoice.stripe.test/in_test"
	itemsBefore := len(f.gateway.items)

	stored, err := f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	inv, err := f.issuer.Resume(ctx, stored, profile())
	require.NoError(t, err)
	assert.Equal(t, "https://invoice.stripe.test/in_test", inv.HostedURL)
	assert.Len(t, f.gateway.items, itemsBefore)
	assert.Len(t, f.gateway.finalized, 1)
}

func TestResumeRejectsOrdersWithoutDraftOrAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.issuer.Resume(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.issuer.Issue(ctx, f.order, profile())
	require.NoError(t, err)
	_, err = f.issuer.Resume(ctx, f.order, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestResumeRefusesVoidedDraft(t *testing.T) {
	f := newFixture(t)
	f.gateway.itemErr = errors.New("stripe 500")
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, f.order, profile())
	require.Error(t, err)
	f.gateway.invoices["in_test"].Status = stripe.InvoiceStatusVoid
	f.gateway.itemErr = nil

	stored, err := f.repo.FindByID(ctx, f.order.ID)
	require.NoError(t, err)
	_, err = f.issuer.Resume(ctx, stored, profile())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Empty(t, f.gateway.finalized)
}
