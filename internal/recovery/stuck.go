package recovery

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/supplier"
)

var (
	awaitingPaymentStatuses = []enums.LotStatus{enums.LotStatusAuctionClosed}
	unpaidOrderStatuses     = []enums.LotStatus{enums.LotStatusCJOrdered}
	inTransitStatuses       = []enums.LotStatus{enums.LotStatusCJPaid, enums.LotStatusShipped}
)

// recoverStuckLots re-drives lots that stopped progressing. Terminal and
// guard-failed lots are never selected.
func (s *Scheduler) recoverStuckLots(ctx context.Context, _ *Report, step *StepReport) error {
	before := s.now().UTC().Add(-s.cfg.StaleAfter)
	var errs error

	closed, err := s.lots.ListStale(ctx, awaitingPaymentStatuses, before, s.cfg.BatchLimit)
	if err != nil {
		return err
	}
	for _, lot := range closed {
		progressed, err := s.releasePaidLot(s.logg.WithLotID(ctx, lot.ID.String()), lot)
		errs = multierr.Append(errs, err)
		countOutcome(step, progressed, err)
	}

	ordered, err := s.lots.ListStale(ctx, unpaidOrderStatuses, before, s.cfg.BatchLimit)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for _, lot := range ordered {
		progressed, err := s.resumeOrderedLot(s.logg.WithLotID(ctx, lot.ID.String()), lot)
		errs = multierr.Append(errs, err)
		countOutcome(step, progressed, err)
	}

	transit, err := s.lots.ListStale(ctx, inTransitStatuses, before, s.cfg.BatchLimit)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for _, lot := range transit {
		progressed, err := s.syncShipment(s.logg.WithLotID(ctx, lot.ID.String()), lot)
		errs = multierr.Append(errs, err)
		countOutcome(step, progressed, err)
	}
	return errs
}

func countOutcome(step *StepReport, progressed bool, err error) {
	switch {
	case err != nil:
	case progressed:
		step.Processed++
	default:
		step.Skipped++
	}
}

// releasePaidLot catches lots whose order was paid but whose paid
// notification never reached them. Orders without a recorded payment are
// checked against the Stripe invoice.
func (s *Scheduler) releasePaidLot(ctx context.Context, lot models.Lot) (bool, error) {
	order, err := s.orders.FindByItemID(ctx, lot.ItemID)
	if err != nil {
		return false, err
	}
	if order == nil || !order.Finalized() {
		// not billed yet; retry_invoices owns it
		return false, nil
	}
	if !order.Paid() {
		if order.StripeInvoiceID == nil {
			return false, nil
		}
		return s.reconcileInvoice(ctx, lot, order)
	}

	if err := s.lots.Transition(ctx, lot.ID, enums.LotStatusAuctionClosed, enums.LotStatusPaid, nil); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return false, nil
		}
		return false, err
	}
	addr, err := s.addresses.ShippingAddress(ctx, lot.BuyerID)
	if err != nil {
		errs := fmt.Errorf("lot %s: %w", lot.ID, err)
		if setErr := s.lots.SetError(ctx, lot.ID, "resolve shipping address: "+err.Error()); setErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("lot %s: %w", lot.ID, setErr))
		}
		return false, errs
	}
	result, err := s.placer.PlaceOrder(ctx, lot.ID, addr)
	if err != nil {
		return false, fmt.Errorf("lot %s: %w", lot.ID, err)
	}
	return result.Success, nil
}

// reconcileInvoice replays a paid invoice whose payment never got recorded.
// An invoice still unpaid costs a recovery attempt and escalates once the
// budget is spent.
func (s *Scheduler) reconcileInvoice(ctx context.Context, lot models.Lot, order *models.Order) (bool, error) {
	invoiceID := *order.StripeInvoiceID
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get stripe invoice").
			WithDetails(map[string]any{"lot_id": lot.ID.String(), "invoice_id": invoiceID})
	}
	if inv != nil && inv.Status == stripe.InvoiceStatusPaid {
		s.logg.Warn(ctx, fmt.Sprintf("invoice %s paid without a recorded payment, replaying", invoiceID))
		if _, err := s.paid.HandleInvoicePaid(ctx, invoiceID); err != nil {
			return false, fmt.Errorf("lot %s: %w", lot.ID, err)
		}
		return true, nil
	}

	attempts, err := s.lots.IncrementRecoveryAttempts(ctx, lot.ID)
	if err != nil {
		return false, err
	}
	if attempts > s.cfg.MaxRecoveryAttempts {
		status := "unknown"
		if inv != nil {
			status = string(inv.Status)
		}
		s.alerts.Send(ctx, enums.AlertSeverityCritical, fmt.Sprintf(
			"lot %s (item %s) still awaiting payment of invoice %s (%s) after %d recovery attempts",
			lot.ID, lot.ItemID, invoiceID, status, attempts-1))
	}
	return false, nil
}

// resumeOrderedLot pays the existing supplier order of a CJ_ORDERED lot and
// escalates once the attempt budget is spent.
func (s *Scheduler) resumeOrderedLot(ctx context.Context, lot models.Lot) (bool, error) {
	attempts, err := s.lots.IncrementRecoveryAttempts(ctx, lot.ID)
	if err != nil {
		return false, err
	}
	if attempts > s.cfg.MaxRecoveryAttempts {
		s.alerts.Send(ctx, enums.AlertSeverityCritical, fmt.Sprintf(
			"lot %s (item %s) stuck in %s after %d recovery attempts", lot.ID, lot.ItemID, lot.Status, attempts-1))
		return false, nil
	}
	result, err := s.placer.ResumePayment(ctx, lot.ID)
	if err != nil {
		return false, fmt.Errorf("lot %s: %w", lot.ID, err)
	}
	if !result.Success {
		return false, fmt.Errorf("lot %s: supplier payment still failing (attempt %d)", lot.ID, attempts)
	}
	return true, nil
}

// syncShipment copies the supplier order status onto a paid lot.
func (s *Scheduler) syncShipment(ctx context.Context, lot models.Lot) (bool, error) {
	if !lot.HasSupplierOrder() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("lot %s in %s has no supplier order", lot.ID, lot.Status))
	}
	order, err := s.supplier.GetOrder(ctx, *lot.SupplierOrderID)
	if err != nil {
		return false, fmt.Errorf("lot %s: %w", lot.ID, err)
	}

	var next enums.LotStatus
	switch order.Status {
	case supplier.OrderStatusDelivered:
		next = enums.LotStatusDelivered
	case supplier.OrderStatusShipped:
		next = enums.LotStatusShipped
	}
	if next == "" || next == lot.Status {
		// bump updated_at so the lot waits another staleness window
		return false, s.lots.Update(ctx, lot.ID, map[string]any{"supplier_order_status": order.Status})
	}
	err = s.lots.Transition(ctx, lot.ID, lot.Status, next, map[string]any{"supplier_order_status": order.Status})
	if err != nil {
		return false, err
	}
	return true, nil
}
