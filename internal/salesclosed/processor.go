package salesclosed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/buyers"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/invoicing"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/lots"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type platform interface {
	ListSaleItems(ctx context.Context, saleID string) (*auction.SaleItems, error)
	CreateOrder(ctx context.Context, input auction.CreateOrderInput) (string, error)
	AddOrderLines(ctx context.Context, orderID string, lines []auction.OrderLine) error
	PublishOrder(ctx context.Context, orderID string) error
}

type profileResolver interface {
	PaymentProfile(ctx context.Context, buyerID string) (*buyers.PaymentProfile, error)
}

type invoiceIssuer interface {
	Issue(ctx context.Context, order *models.Order, profile *buyers.PaymentProfile) (*invoicing.Invoice, error)
	Resume(ctx context.Context, order *models.Order, profile *buyers.PaymentProfile) (*invoicing.Invoice, error)
}

// ProcessorParams groups the sale-closed processor dependencies.
type ProcessorParams struct {
	DB       txRunner
	Orders   orders.Repository
	Lots     lots.Repository
	Platform platform
	Profiles profileResolver
	Issuer   invoiceIssuer
	Logger   *logger.Logger
}

// Processor turns a closed sale into orders, order items, lots and invoices.
type Processor struct {
	db       txRunner
	orders   orders.Repository
	lots     lots.Repository
	platform platform
	profiles profileResolver
	issuer   invoiceIssuer
	logg     *logger.Logger
}

// Result summarizes one sale run.
type Result struct {
	SaleID          string `json:"sale_id"`
	ItemsSeen       int    `json:"items_seen"`
	ItemsNew        int    `json:"items_new"`
	Buyers          int    `json:"buyers"`
	LotsCreated     int    `json:"lots_created"`
	InvoicesIssued  int    `json:"invoices_issued"`
	AwaitingInvoice int    `json:"awaiting_invoice"`
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db required")
	case params.Orders == nil:
		return nil, errors.New("orders repository required")
	case params.Lots == nil:
		return nil, errors.New("lots repository required")
	case params.Platform == nil:
		return nil, errors.New("auction platform client required")
	case params.Profiles == nil:
		return nil, errors.New("buyer profile resolver required")
	case params.Issuer == nil:
		return nil, errors.New("invoice issuer required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Processor{
		db:       params.DB,
		orders:   params.Orders,
		lots:     params.Lots,
		platform: params.Platform,
		profiles: params.Profiles,
		issuer:   params.Issuer,
		logg:     params.Logger,
	}, nil
}

type buyerGroup struct {
	buyerID string
	items   []auction.Item
}

// ProcessSale is safe to call repeatedly for the same sale: items already in
// the order-item set are skipped. Orders of the sale still missing a
// finalized invoice are settled again on every call. Platform failures abort
// the sale and are returned as-is. Invoicing failures are collected per
// buyer so one buyer never blocks another.
func (p *Processor) ProcessSale(ctx context.Context, saleID string) (*Result, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id is required")
	}
	ctx = p.logg.WithSaleID(ctx, saleID)

	sale, err := p.platform.ListSaleItems(ctx, saleID)
	if err != nil {
		return nil, err
	}
	result := &Result{SaleID: saleID, ItemsSeen: len(sale.Items)}

	groups, err := p.newItemsByBuyer(ctx, sale.Items)
	if err != nil {
		return result, err
	}

	var invoiceErrs error
	settled := make(map[uuid.UUID]bool, len(groups))
	for _, group := range groups {
		result.ItemsNew += len(group.items)
		result.Buyers++

		order, lotsCreated, err := p.recordBuyer(ctx, sale, group)
		if err != nil {
			return result, err
		}
		result.LotsCreated += lotsCreated
		settled[order.ID] = true

		issued, err := p.settleInvoice(ctx, order)
		if err != nil {
			invoiceErrs = multierr.Append(invoiceErrs, fmt.Errorf("buyer %s: %w", group.buyerID, err))
			continue
		}
		if issued {
			result.InvoicesIssued++
		} else {
			result.AwaitingInvoice++
		}
	}

	pending, err := p.orders.ListInvoicePending(ctx, saleID, time.Time{}, 0)
	if err != nil {
		return result, multierr.Append(invoiceErrs, err)
	}
	for i := range pending {
		order := &pending[i]
		if settled[order.ID] {
			continue
		}
		if _, err := p.settleInvoice(ctx, order); err != nil {
			invoiceErrs = multierr.Append(invoiceErrs, fmt.Errorf("buyer %s: %w", order.BuyerID, err))
			continue
		}
		result.InvoicesIssued++
	}

	if len(groups) == 0 {
		p.logg.Info(ctx, "sale has no new winning items")
	} else {
		p.logg.Info(ctx, fmt.Sprintf("sale processed: %d new items for %d buyers", result.ItemsNew, result.Buyers))
	}
	return result, invoiceErrs
}

// SettleOrder retries invoicing for one order left without a finalized
// invoice. It reports false without error when the order is already
// finalized.
func (p *Processor) SettleOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	order, err := p.orders.FindByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"order_id": orderID.String()})
	}
	if order.Finalized() {
		return false, nil
	}
	return p.settleInvoice(p.logg.WithSaleID(ctx, order.SaleID), order)
}

func (p *Processor) newItemsByBuyer(ctx context.Context, items []auction.Item) ([]buyerGroup, error) {
	won := make([]auction.Item, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !item.Won() {
			continue
		}
		won = append(won, item)
		ids = append(ids, item.ID)
	}
	if len(won) == 0 {
		return nil, nil
	}

	seen, err := p.orders.ExistingItemIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byBuyer := map[string][]auction.Item{}
	for _, item := range won {
		if seen[item.ID] {
			continue
		}
		byBuyer[item.LeaderID] = append(byBuyer[item.LeaderID], item)
	}

	groups := make([]buyerGroup, 0, len(byBuyer))
	for buyerID, buyerItems := range byBuyer {
		groups = append(groups, buyerGroup{buyerID: buyerID, items: buyerItems})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].buyerID < groups[j].buyerID })
	return groups, nil
}

// recordBuyer makes sure the platform order exists and carries the new
// lines, then stores the order items and drop-ship lots in one transaction.
func (p *Processor) recordBuyer(ctx context.Context, sale *auction.SaleItems, group buyerGroup) (*models.Order, int, error) {
	lines := make([]auction.OrderLine, 0, len(group.items))
	for _, item := range group.items {
		lines = append(lines, auction.OrderLine{ItemID: item.ID, AmountCents: item.CurrentBidCents, Description: describe(item)})
	}

	order, err := p.ensureOrder(ctx, sale, group.buyerID, lines)
	if err != nil {
		return nil, 0, err
	}
	ctx = p.logg.WithOrderID(ctx, order.ID.String())

	itemIDs := make([]string, 0, len(group.items))
	for _, item := range group.items {
		itemIDs = append(itemIDs, item.ID)
	}
	listings, err := p.lots.FindListings(ctx, itemIDs)
	if err != nil {
		return nil, 0, err
	}

	created := 0
	err = p.db.WithTx(ctx, func(tx *gorm.DB) error {
		orderItems := make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			orderItems = append(orderItems, models.OrderItem{
				OrderID:     order.ID,
				ItemID:      line.ItemID,
				AmountCents: line.AmountCents,
				Description: line.Description,
			})
		}
		if err := p.orders.WithTx(tx).UpsertItems(ctx, orderItems); err != nil {
			return err
		}

		lotRepo := p.lots.WithTx(tx)
		for _, item := range group.items {
			listing, ok := listings[item.ID]
			if !ok {
				continue
			}
			inserted, err := lotRepo.Create(ctx, lotFromListing(sale, item, listing))
			if err != nil {
				return err
			}
			if inserted {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return order, created, nil
}

func (p *Processor) ensureOrder(ctx context.Context, sale *auction.SaleItems, buyerID string, lines []auction.OrderLine) (*models.Order, error) {
	existing, err := p.orders.FindBySaleAndBuyer(ctx, sale.SaleID, buyerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := p.platform.AddOrderLines(ctx, existing.PlatformOrderID, lines); err != nil {
			return nil, err
		}
		return existing, nil
	}

	platformID, err := p.platform.CreateOrder(ctx, auction.CreateOrderInput{
		SaleID:   sale.SaleID,
		BuyerID:  buyerID,
		Currency: sale.Currency,
		Lines:    lines,
	})
	if err != nil {
		return nil, err
	}
	if err := p.platform.PublishOrder(ctx, platformID); err != nil {
		return nil, err
	}

	order, created, err := p.orders.Create(ctx, &models.Order{
		PlatformOrderID: platformID,
		SaleID:          sale.SaleID,
		BuyerID:         buyerID,
		Currency:        sale.Currency,
		Status:          enums.OrderStatusOpen,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// another run won the race; our platform order stays unused
		p.logg.Warn(ctx, fmt.Sprintf("order for buyer %s already recorded, platform order %s orphaned", buyerID, platformID))
		if err := p.platform.AddOrderLines(ctx, order.PlatformOrderID, lines); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// settleInvoice issues the first invoice of an order, or finishes a draft a
// previous run left behind. Orders whose invoice is already finalized are
// flagged for the next invoicing cycle instead.
func (p *Processor) settleInvoice(ctx context.Context, order *models.Order) (bool, error) {
	ctx = p.logg.WithOrderID(ctx, order.ID.String())
	if order.Finalized() {
		if err := p.awaitNextInvoice(ctx, order); err != nil {
			return false, err
		}
		p.logg.Warn(ctx, "order already invoiced, new items await the next invoice")
		return false, nil
	}

	profile, err := p.profiles.PaymentProfile(ctx, order.BuyerID)
	if err != nil {
		p.logg.Error(ctx, "resolve buyer payment profile", err)
		return false, err
	}
	if order.Invoiced() {
		_, err = p.issuer.Resume(ctx, order, profile)
	} else {
		_, err = p.issuer.Issue(ctx, order, profile)
	}
	if err != nil {
		p.logg.Error(ctx, "issue invoice", err)
		return false, err
	}
	return true, nil
}

// awaitNextInvoice moves a finalized order to AWAITING_NEXT_INVOICE through
// the gated transition. Payment state lives in paid_at and is not touched.
// A status that changed underneath is re-read once.
func (p *Processor) awaitNextInvoice(ctx context.Context, order *models.Order) error {
	for attempt := 0; attempt < 2; attempt++ {
		if order.Status == enums.OrderStatusAwaitingNextInvoice {
			return nil
		}
		err := p.orders.TransitionStatus(ctx, order.ID, order.Status, enums.OrderStatusAwaitingNextInvoice, nil)
		if err == nil {
			order.Status = enums.OrderStatusAwaitingNextInvoice
			return nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return err
		}
		reloaded, err := p.orders.FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if reloaded == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		*order = *reloaded
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot await next invoice from %s", order.Status))
}

func lotFromListing(sale *auction.SaleItems, item auction.Item, listing models.DropshipListing) *models.Lot {
	return &models.Lot{
		ItemID:                item.ID,
		SaleID:                sale.SaleID,
		BuyerID:               item.LeaderID,
		SupplierProductID:     listing.SupplierProductID,
		SupplierVariantID:     listing.SupplierVariantID,
		SupplierCostCents:     listing.SupplierCostCents,
		SupplierShippingCents: listing.SupplierShippingCents,
		FromCountry:           listing.FromCountry,
		LogisticName:          listing.LogisticName,
		WinningBidCents:       item.CurrentBidCents,
		Currency:              sale.Currency,
		Status:                enums.LotStatusAuctionClosed,
	}
}

func describe(item auction.Item) string {
	if title := strings.TrimSpace(item.Title); title != "" {
		return title
	}
	return "Lot " + item.ID
}
