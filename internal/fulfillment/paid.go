package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/lots"
	"github.com/PASLLC7291/high-end-auction-sub002/internal/orders"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

type addressResolver interface {
	ShippingAddress(ctx context.Context, buyerID string) (types.ShippingAddress, error)
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, lotID uuid.UUID, addr types.ShippingAddress) (*Result, error)
}

// PaidHandlerParams groups the invoice-paid handler dependencies.
type PaidHandlerParams struct {
	Orders    orders.Repository
	Lots      lots.Repository
	Addresses addressResolver
	Placer    orderPlacer
	Logger    *logger.Logger
	Now       func() time.Time
}

// PaidHandler reacts to a paid Stripe invoice: the order is marked paid and
// each drop-ship lot on the invoice is released to the supplier.
type PaidHandler struct {
	orders    orders.Repository
	lots      lots.Repository
	addresses addressResolver
	placer    orderPlacer
	logg      *logger.Logger
	now       func() time.Time
}

func NewPaidHandler(params PaidHandlerParams) (*PaidHandler, error) {
	if params.Orders == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Lots == nil {
		return nil, errors.New("lots repository required")
	}
	if params.Addresses == nil {
		return nil, errors.New("address resolver required")
	}
	if params.Placer == nil {
		return nil, errors.New("placer required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &PaidHandler{
		orders:    params.Orders,
		lots:      params.Lots,
		addresses: params.Addresses,
		placer:    params.Placer,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// markPaid records the payment. Only an INVOICE_ISSUED order changes status;
// an order awaiting its next invoice keeps that status so the backlog stays
// visible.
func (h *PaidHandler) markPaid(ctx context.Context, order *models.Order) error {
	if _, err := h.orders.MarkPaid(ctx, order.ID, h.now().UTC()); err != nil {
		return err
	}
	if order.Status != enums.OrderStatusInvoiceIssued {
		return nil
	}
	err := h.orders.TransitionStatus(ctx, order.ID, enums.OrderStatusInvoiceIssued, enums.OrderStatusPaid, nil)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		return err
	}
	return nil
}

// HandleInvoicePaid is safe to run more than once for the same invoice:
// lots that already left AUCTION_CLOSED or carry a supplier order are skipped.
func (h *PaidHandler) HandleInvoicePaid(ctx context.Context, invoiceID string) ([]Result, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	order, err := h.orders.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for invoice").
			WithDetails(map[string]any{"invoice_id": invoiceID})
	}
	ctx = h.logg.WithOrderID(ctx, order.ID.String())
	ctx = h.logg.WithSaleID(ctx, order.SaleID)

	if err := h.markPaid(ctx, order); err != nil {
		return nil, err
	}

	items, err := h.orders.ListItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	itemIDs := make([]string, 0, len(items))
	for _, item := range items {
		if item.InvoicedAt != nil {
			itemIDs = append(itemIDs, item.ItemID)
		}
	}
	orderLots, err := h.lots.ListByItemIDs(ctx, itemIDs)
	if err != nil {
		return nil, err
	}

	var (
		results []Result
		errs    error
		addr    *types.ShippingAddress
	)
	for _, lot := range orderLots {
		lotCtx := h.logg.WithLotID(ctx, lot.ID.String())
		if lot.Status == enums.LotStatusAuctionClosed {
			err := h.lots.Transition(lotCtx, lot.ID, enums.LotStatusAuctionClosed, enums.LotStatusPaid, nil)
			if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				errs = multierr.Append(errs, err)
				continue
			}
			if err == nil {
				lot.Status = enums.LotStatusPaid
			}
		}
		if lot.Status != enums.LotStatusPaid || lot.HasSupplierOrder() {
			continue
		}

		if addr == nil {
			resolved, err := h.addresses.ShippingAddress(lotCtx, order.BuyerID)
			if err != nil {
				h.logg.Error(lotCtx, "resolve buyer shipping address", err)
				if setErr := h.lots.SetError(lotCtx, lot.ID, "resolve shipping address: "+err.Error()); setErr != nil {
					errs = multierr.Append(errs, setErr)
				}
				errs = multierr.Append(errs, err)
				continue
			}
			addr = &resolved
		}

		result, err := h.placer.PlaceOrder(lotCtx, lot.ID, *addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lot %s: %w", lot.ID, err))
			continue
		}
		results = append(results, *result)
	}
	return results, errs
}
