package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/lots"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/alerts"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/metrics"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/supplier"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

// Failure reasons reported on a non-successful Result.
const (
	ReasonSpendCap       = "spend_cap"
	ReasonOutOfStock     = "out_of_stock"
	ReasonPriceChanged   = "price_changed"
	ReasonOrderFailed    = "order_failed"
	ReasonMalformedOrder = "malformed_order"
	ReasonPaymentFailed  = "payment_failed"

	outcomePlaced = "placed"
)

type supplierAPI interface {
	Stock(ctx context.Context, variantID string) (int, error)
	VariantPriceCents(ctx context.Context, variantID string) (int64, error)
	CreateOrder(ctx context.Context, req supplier.CreateOrderRequest) (*supplier.Order, error)
	PayOrder(ctx context.Context, orderID string) error
	ConfirmOrder(ctx context.Context, orderID string) error
}

// PlacerParams groups the placer dependencies.
type PlacerParams struct {
	Lots                lots.Repository
	Supplier            supplierAPI
	Alerts              alerts.Notifier
	Metrics             *metrics.FulfillmentMetrics
	Logger              *logger.Logger
	DailySpendCapCents  int64
	PriceDriftTolerance decimal.Decimal
	Now                 func() time.Time
}

// Placer guards and places the supplier order for one lot.
type Placer struct {
	lots      lots.Repository
	supplier  supplierAPI
	alerts    alerts.Notifier
	metrics   *metrics.FulfillmentMetrics
	logg      *logger.Logger
	spendCap  int64
	tolerance decimal.Decimal
	now       func() time.Time
}

// Result is the outcome of a placement attempt. When Success is false,
// Reason and Status tell the caller whether a retry can help.
type Result struct {
	LotID               uuid.UUID       `json:"lot_id"`
	Success             bool            `json:"success"`
	SupplierOrderID     string          `json:"supplier_order_id,omitempty"`
	SupplierOrderNumber string          `json:"supplier_order_number,omitempty"`
	Status              enums.LotStatus `json:"status"`
	Reason              string          `json:"reason,omitempty"`
	Retryable           bool            `json:"retryable"`
}

func NewPlacer(params PlacerParams) (*Placer, error) {
	if params.Lots == nil {
		return nil, errors.New("lots repository required")
	}
	if params.Supplier == nil {
		return nil, errors.New("supplier client required")
	}
	if params.Alerts == nil {
		return nil, errors.New("alert notifier required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.DailySpendCapCents <= 0 {
		return nil, errors.New("daily spend cap must be positive")
	}
	if !params.PriceDriftTolerance.IsPositive() {
		return nil, errors.New("price drift tolerance must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Placer{
		lots:      params.Lots,
		supplier:  params.Supplier,
		alerts:    params.Alerts,
		metrics:   params.Metrics,
		logg:      params.Logger,
		spendCap:  params.DailySpendCapCents,
		tolerance: params.PriceDriftTolerance,
		now:       now,
	}, nil
}

// PlaceOrder runs the spend, stock and price guards, then creates and pays
// the supplier order. Guard outcomes and transient supplier failures come
// back as a non-successful Result; the error return is reserved for lots
// in the wrong status, bad input and store failures.
func (p *Placer) PlaceOrder(ctx context.Context, lotID uuid.UUID, addr types.ShippingAddress) (*Result, error) {
	ctx = p.logg.WithLotID(ctx, lotID.String())

	lot, err := p.lots.FindByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Status != enums.LotStatusPaid && lot.Status != enums.LotStatusAuctionClosed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("lot in status %s cannot be fulfilled", lot.Status)).
			WithDetails(map[string]any{"lot_id": lot.ID.String()})
	}
	if lot.HasSupplierOrder() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "lot already has a supplier order")
	}
	addr = addr.Normalize()
	if err := addr.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}

	if blocked, err := p.spendBlocked(ctx, lot); err != nil {
		return nil, err
	} else if blocked != nil {
		return blocked, nil
	}
	if result, err := p.checkStock(ctx, lot); err != nil || result != nil {
		return result, err
	}
	quoted := lot.SupplierCostCents
	if result, err := p.checkPrice(ctx, lot); err != nil || result != nil {
		return result, err
	}
	if lot.SupplierCostCents > quoted {
		if blocked, err := p.spendBlocked(ctx, lot); err != nil || blocked != nil {
			return blocked, err
		}
	}

	orderNumber := fmt.Sprintf("%s-%d", lot.ItemID, p.now().Unix())
	order, err := p.supplier.CreateOrder(ctx, supplier.CreateOrderRequest{
		OrderNumber:  orderNumber,
		Address:      addr,
		FromCountry:  lot.FromCountry,
		LogisticName: lot.LogisticName,
		Products:     []supplier.OrderProduct{{VariantID: lot.SupplierVariantID, Quantity: 1}},
	})
	if err != nil {
		p.logg.Error(ctx, "create supplier order", err)
		return p.fail(ctx, lot, ReasonOrderFailed, "create supplier order: "+err.Error(), true)
	}
	if order == nil || order.OrderID == "" {
		p.logg.Warn(ctx, "supplier order response missing order id")
		return p.fail(ctx, lot, ReasonMalformedOrder, "supplier order response missing order id", true)
	}
	if order.OrderNumber == "" {
		order.OrderNumber = orderNumber
	}

	total := lot.CostCents()
	err = p.lots.Transition(ctx, lot.ID, lot.Status, enums.LotStatusCJOrdered, map[string]any{
		"supplier_order_id":     order.OrderID,
		"supplier_order_number": order.OrderNumber,
		"supplier_order_status": order.Status,
		"shipping_address":      addr,
		"shipping_name":         addr.Name,
		"total_cost_cents":      total,
		"last_error":            nil,
	})
	if err != nil {
		p.logg.Error(ctx, fmt.Sprintf("record supplier order %s", order.OrderID), err)
		return nil, err
	}
	lot.Status = enums.LotStatusCJOrdered
	lot.SupplierOrderID = &order.OrderID
	lot.SupplierOrderNumber = &order.OrderNumber
	lot.TotalCostCents = &total

	return p.pay(ctx, lot)
}

// ResumePayment pays the supplier order already recorded on a CJ_ORDERED
// lot. It never creates a new supplier order.
func (p *Placer) ResumePayment(ctx context.Context, lotID uuid.UUID) (*Result, error) {
	ctx = p.logg.WithLotID(ctx, lotID.String())

	lot, err := p.lots.FindByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Status != enums.LotStatusCJOrdered || !lot.HasSupplierOrder() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("lot in status %s has no supplier order to pay", lot.Status)).
			WithDetails(map[string]any{"lot_id": lot.ID.String()})
	}
	return p.pay(ctx, lot)
}

func (p *Placer) pay(ctx context.Context, lot *models.Lot) (*Result, error) {
	orderID := *lot.SupplierOrderID
	orderNumber := ""
	if lot.SupplierOrderNumber != nil {
		orderNumber = *lot.SupplierOrderNumber
	}
	result := &Result{LotID: lot.ID, SupplierOrderID: orderID, SupplierOrderNumber: orderNumber, Status: enums.LotStatusCJOrdered}

	if err := p.supplier.PayOrder(ctx, orderID); err != nil {
		p.logg.Error(ctx, "pay supplier order", err)
		if setErr := p.lots.SetError(ctx, lot.ID, "pay supplier order: "+err.Error()); setErr != nil {
			return nil, setErr
		}
		p.metrics.IncOutcome(ReasonPaymentFailed)
		result.Reason = ReasonPaymentFailed
		result.Retryable = true
		return result, nil
	}

	total := lot.CostCents()
	if lot.TotalCostCents != nil {
		total = *lot.TotalCostCents
	}
	profit := lot.WinningBidCents - total
	err := p.lots.Transition(ctx, lot.ID, enums.LotStatusCJOrdered, enums.LotStatusCJPaid, map[string]any{
		"supplier_paid_at":      p.now().UTC(),
		"supplier_order_status": supplier.OrderStatusUnshipped,
		"profit_cents":          profit,
		"last_error":            nil,
	})
	if err != nil {
		return nil, err
	}

	if err := p.supplier.ConfirmOrder(ctx, orderID); err != nil {
		p.logg.Warn(ctx, "confirm supplier order failed: "+err.Error())
	}

	p.metrics.IncOutcome(outcomePlaced)
	p.logg.Info(ctx, fmt.Sprintf("supplier order %s paid, profit %d cents", orderID, profit))
	result.Success = true
	result.Status = enums.LotStatusCJPaid
	return result, nil
}

// spendBlocked refuses the lot when it would push today's supplier spend
// (UTC day) past the cap.
func (p *Placer) spendBlocked(ctx context.Context, lot *models.Lot) (*Result, error) {
	dayStart := p.now().UTC().Truncate(24 * time.Hour)
	spent, err := p.lots.SpendBetween(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	if spent+lot.CostCents() <= p.spendCap {
		return nil, nil
	}
	msg := fmt.Sprintf("daily spend cap reached: spent %d + cost %d > cap %d cents", spent, lot.CostCents(), p.spendCap)
	p.logg.Warn(ctx, msg)
	return p.fail(ctx, lot, ReasonSpendCap, msg, true)
}

// checkStock is advisory: a failed lookup lets placement continue.
func (p *Placer) checkStock(ctx context.Context, lot *models.Lot) (*Result, error) {
	stock, err := p.supplier.Stock(ctx, lot.SupplierVariantID)
	if err != nil {
		p.logg.Warn(ctx, "supplier stock check failed, proceeding: "+err.Error())
		return nil, nil
	}
	if stock > 0 {
		return nil, nil
	}

	msg := fmt.Sprintf("supplier variant %s is out of stock", lot.SupplierVariantID)
	if err := p.lots.Transition(ctx, lot.ID, lot.Status, enums.LotStatusCJOutOfStock, map[string]any{"last_error": msg}); err != nil {
		return nil, err
	}
	p.alerts.Send(ctx, enums.AlertSeverityNormal, fmt.Sprintf("lot %s (item %s): %s", lot.ID, lot.ItemID, msg))
	p.metrics.IncOutcome(ReasonOutOfStock)
	return &Result{LotID: lot.ID, Status: enums.LotStatusCJOutOfStock, Reason: ReasonOutOfStock}, nil
}

// checkPrice compares the live supplier price with the recorded cost. A
// rise above the tolerance is a guard failure; a rise up to and including
// the tolerance is accepted and becomes the lot's cost. A lot without a
// positive recorded cost has no baseline and fails the guard.
func (p *Placer) checkPrice(ctx context.Context, lot *models.Lot) (*Result, error) {
	current, err := p.supplier.VariantPriceCents(ctx, lot.SupplierVariantID)
	if err != nil {
		p.logg.Warn(ctx, "supplier price check failed, proceeding: "+err.Error())
		return nil, nil
	}

	baseline := lot.SupplierCostCents
	drifted := baseline <= 0
	if !drifted {
		drift := decimal.NewFromInt(current - baseline).Div(decimal.NewFromInt(baseline))
		drifted = drift.GreaterThan(p.tolerance)
	}

	if !drifted {
		if current != baseline {
			if err := p.lots.Update(ctx, lot.ID, map[string]any{"supplier_cost_cents": current}); err != nil {
				return nil, err
			}
			lot.SupplierCostCents = current
		}
		return nil, nil
	}

	msg := fmt.Sprintf("supplier price moved from %d to %d cents", baseline, current)
	err = p.lots.Transition(ctx, lot.ID, lot.Status, enums.LotStatusCJPriceChanged, map[string]any{
		"latest_supplier_cost_cents": current,
		"last_error":                 msg,
	})
	if err != nil {
		return nil, err
	}
	p.alerts.Send(ctx, enums.AlertSeverityNormal, fmt.Sprintf("lot %s (item %s): %s", lot.ID, lot.ItemID, msg))
	p.metrics.IncOutcome(ReasonPriceChanged)
	return &Result{LotID: lot.ID, Status: enums.LotStatusCJPriceChanged, Reason: ReasonPriceChanged}, nil
}

func (p *Placer) fail(ctx context.Context, lot *models.Lot, reason, msg string, retryable bool) (*Result, error) {
	if err := p.lots.SetError(ctx, lot.ID, msg); err != nil {
		return nil, err
	}
	p.metrics.IncOutcome(reason)
	return &Result{LotID: lot.ID, Status: lot.Status, Reason: reason, Retryable: retryable}, nil
}
