package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/buyers"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

const (
	metadataOrderID   = "order_id"
	metadataSaleID    = "sale_id"
	metadataItemID    = "item_id"
	pendingItemsClose = "exclude"
)

type invoiceGateway interface {
	CreateInvoice(ctx context.Context, params *stripe.InvoiceParams) (*stripe.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
	AddInvoiceItem(ctx context.Context, params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error)
	FinalizeInvoice(ctx context.Context, id string, params *stripe.InvoiceFinalizeInvoiceParams) (*stripe.Invoice, error)
}

type invoiceRegistrar interface {
	RegisterInvoice(ctx context.Context, input auction.RegisterInvoiceInput) error
}

// IssuerParams groups the issuer dependencies.
type IssuerParams struct {
	Orders   orders.Repository
	Stripe   invoiceGateway
	Platform invoiceRegistrar
	Logger   *logger.Logger
	Now      func() time.Time
}

// Issuer turns an order's un-invoiced items into one finalized Stripe invoice.
type Issuer struct {
	orders   orders.Repository
	stripe   invoiceGateway
	platform invoiceRegistrar
	logg     *logger.Logger
	now      func() time.Time
}

// Invoice describes a finalized invoice.
type Invoice struct {
	ID          string
	HostedURL   string
	AmountCents int64
	Lines       int
}

func NewIssuer(params IssuerParams) (*Issuer, error) {
	if params.Orders == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Stripe == nil {
		return nil, errors.New("stripe gateway required")
	}
	if params.Platform == nil {
		return nil, errors.New("auction platform client required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		orders:   params.Orders,
		stripe:   params.Stripe,
		platform: params.Platform,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Issue bills every un-invoiced item of the order. The invoice id is stored
// on the order as soon as the draft exists, so an order can never receive a
// second invoice even when a later step fails. Such an order is finished
// with Resume.
func (i *Issuer) Issue(ctx context.Context, order *models.Order, profile *buyers.PaymentProfile) (*Invoice, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	ctx = i.logg.WithOrderID(ctx, order.ID.String())
	ctx = i.logg.WithSaleID(ctx, order.SaleID)

	if order.Invoiced() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already invoiced").
			WithDetails(map[string]any{"order_id": order.ID.String(), "invoice_id": *order.StripeInvoiceID})
	}
	if err := checkProfile(order, profile); err != nil {
		return nil, err
	}
	items, err := i.pendingItems(ctx, order)
	if err != nil {
		return nil, err
	}

	draft, err := i.stripe.CreateInvoice(ctx, i.invoiceParams(order, profile, strings.ToLower(order.Currency)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe invoice")
	}
	if draft == nil || draft.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "stripe invoice missing id")
	}
	if err := i.orders.SetInvoiceID(ctx, order.ID, draft.ID); err != nil {
		return nil, err
	}
	order.StripeInvoiceID = &draft.ID

	return i.complete(ctx, order, profile, draft, items)
}

// Resume finishes an order whose draft invoice was claimed but never
// finalized. Lines are re-attached with their original idempotency keys, so
// lines Stripe already holds are not duplicated. An invoice finalized
// upstream is only recorded.
func (i *Issuer) Resume(ctx context.Context, order *models.Order, profile *buyers.PaymentProfile) (*Invoice, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	ctx = i.logg.WithOrderID(ctx, order.ID.String())
	ctx = i.logg.WithSaleID(ctx, order.SaleID)

	if !order.Invoiced() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no draft invoice to resume")
	}
	if order.Finalized() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order invoice already finalized").
			WithDetails(map[string]any{"order_id": order.ID.String(), "invoice_id": *order.StripeInvoiceID})
	}
	if err := checkProfile(order, profile); err != nil {
		return nil, err
	}
	items, err := i.pendingItems(ctx, order)
	if err != nil {
		return nil, err
	}

	current, err := i.stripe.GetInvoice(ctx, *order.StripeInvoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get stripe invoice")
	}
	if current == nil || current.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "stripe invoice missing id")
	}
	switch current.Status {
	case stripe.InvoiceStatusVoid, stripe.InvoiceStatusUncollectible:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("draft invoice is %s", current.Status)).
			WithDetails(map[string]any{"invoice_id": current.ID})
	}
	i.logg.Info(ctx, fmt.Sprintf("resuming invoice %s in status %s", current.ID, current.Status))
	return i.complete(ctx, order, profile, current, items)
}

// complete attaches the items to a draft, finalizes it and records the
// hosted URL. Invoices already past draft skip straight to recording.
func (i *Issuer) complete(ctx context.Context, order *models.Order, profile *buyers.PaymentProfile, inv *stripe.Invoice, items []models.OrderItem) (*Invoice, error) {
	currency := strings.ToLower(order.Currency)
	var total int64
	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		total += item.AmountCents
		itemIDs = append(itemIDs, item.ItemID)
	}

	finalized := inv
	if inv.Status == "" || inv.Status == stripe.InvoiceStatusDraft {
		for _, item := range items {
			params := &stripe.InvoiceItemParams{
				Customer:    stripe.String(profile.CustomerID),
				Invoice:     stripe.String(inv.ID),
				Amount:      stripe.Int64(item.AmountCents),
				Currency:    stripe.String(currency),
				Description: stripe.String(item.Description),
			}
			params.AddMetadata(metadataItemID, item.ItemID)
			params.SetIdempotencyKey("invoice-item-" + item.ItemID)
			if _, err := i.stripe.AddInvoiceItem(ctx, params); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add stripe invoice item").
					WithDetails(map[string]any{"item_id": item.ItemID, "invoice_id": inv.ID})
			}
		}

		var err error
		finalized, err = i.stripe.FinalizeInvoice(ctx, inv.ID, &stripe.InvoiceFinalizeInvoiceParams{AutoAdvance: stripe.Bool(true)})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize stripe invoice")
		}
	}
	if finalized == nil || strings.TrimSpace(finalized.HostedInvoiceURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "finalized invoice has no hosted url").
			WithDetails(map[string]any{"invoice_id": inv.ID})
	}

	err := i.orders.TransitionStatus(ctx, order.ID, enums.OrderStatusOpen, enums.OrderStatusInvoiceIssued,
		map[string]any{"invoice_url": finalized.HostedInvoiceURL})
	if err != nil {
		return nil, err
	}
	if err := i.orders.MarkItemsInvoiced(ctx, order.ID, itemIDs, i.now().UTC()); err != nil {
		return nil, err
	}
	order.InvoiceURL = &finalized.HostedInvoiceURL
	order.Status = enums.OrderStatusInvoiceIssued

	err = i.platform.RegisterInvoice(ctx, auction.RegisterInvoiceInput{
		OrderID:     order.PlatformOrderID,
		InvoiceID:   inv.ID,
		InvoiceURL:  finalized.HostedInvoiceURL,
		AmountCents: total,
		Currency:    order.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("register invoice with auction platform: %w", err)
	}

	i.logg.Info(ctx, fmt.Sprintf("invoice %s issued for %d items", inv.ID, len(items)))
	return &Invoice{ID: inv.ID, HostedURL: finalized.HostedInvoiceURL, AmountCents: total, Lines: len(items)}, nil
}

func (i *Issuer) pendingItems(ctx context.Context, order *models.Order) ([]models.OrderItem, error) {
	items, err := i.orders.ListUninvoicedItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no items to invoice")
	}
	return items, nil
}

func checkProfile(order *models.Order, profile *buyers.PaymentProfile) error {
	if profile == nil || strings.TrimSpace(profile.CustomerID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer payment profile is required").
			WithDetails(map[string]any{"buyer_id": order.BuyerID})
	}
	if strings.TrimSpace(profile.DefaultPaymentMethodID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer has no default payment method").
			WithDetails(map[string]any{"buyer_id": order.BuyerID, "customer_id": profile.CustomerID})
	}
	return nil
}

func (i *Issuer) invoiceParams(order *models.Order, profile *buyers.PaymentProfile, currency string) *stripe.InvoiceParams {
	params := &stripe.InvoiceParams{
		Customer:                    stripe.String(profile.CustomerID),
		Currency:                    stripe.String(currency),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically)),
		DefaultPaymentMethod:        stripe.String(profile.DefaultPaymentMethodID),
		PendingInvoiceItemsBehavior: stripe.String(pendingItemsClose),
		AutoAdvance:                 stripe.Bool(false),
	}
	params.AddMetadata(metadataOrderID, order.ID.String())
	params.AddMetadata(metadataSaleID, order.SaleID)
	params.SetIdempotencyKey("invoice-order-" + order.ID.String())
	return params
}
