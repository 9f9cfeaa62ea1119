package recovery

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

var guardFailureStatuses = []enums.LotStatus{enums.LotStatusCJOutOfStock, enums.LotStatusCJPriceChanged}

// processRefunds refunds the winning bid of every guard-failed lot and
// cancels it. Lots whose invoice is not paid yet are left for a later run.
func (s *Scheduler) processRefunds(ctx context.Context, _ *Report, step *StepReport) error {
	failed, err := s.lots.ListByStatus(ctx, guardFailureStatuses, s.cfg.BatchLimit)
	if err != nil {
		return err
	}
	var errs error
	for _, lot := range failed {
		lotCtx := s.logg.WithLotID(ctx, lot.ID.String())
		refunded, err := s.refundLot(lotCtx, lot)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lot %s: %w", lot.ID, err))
			continue
		}
		if refunded {
			step.Processed++
		} else {
			step.Skipped++
		}
	}
	return errs
}

func (s *Scheduler) refundLot(ctx context.Context, lot models.Lot) (bool, error) {
	order, err := s.orders.FindByItemID(ctx, lot.ItemID)
	if err != nil {
		return false, err
	}
	if order == nil || !order.Invoiced() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "lot has no invoiced order to refund")
	}
	if !order.Paid() {
		s.logg.Info(ctx, "invoice not paid yet, refund deferred")
		return false, nil
	}

	paymentIntentID, err := s.refunds.InvoicePaymentIntentID(ctx, *order.StripeInvoiceID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find invoice payment")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(lot.WinningBidCents),
	}
	params.AddMetadata("lot_id", lot.ID.String())
	params.AddMetadata("item_id", lot.ItemID)
	params.AddMetadata("reason", lot.Status.String())
	params.SetIdempotencyKey("refund-lot-" + lot.ID.String())

	refund, err := s.refunds.CreateRefund(ctx, params)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe refund")
	}
	if refund == nil || refund.ID == "" {
		return false, pkgerrors.New(pkgerrors.CodeUpstreamMalformed, "stripe refund missing id")
	}

	err = s.lots.Transition(ctx, lot.ID, lot.Status, enums.LotStatusCancelled, map[string]any{
		"refund_id":   refund.ID,
		"refunded_at": s.now().UTC(),
	})
	if err != nil {
		return false, err
	}
	s.logg.Info(ctx, fmt.Sprintf("refunded %d cents as %s", lot.WinningBidCents, refund.ID))
	return true, nil
}
