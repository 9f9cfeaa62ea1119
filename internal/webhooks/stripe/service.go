package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/PASLLC7291/high-end-auction-sub002/internal/fulfillment"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

type invoicePaidHandler interface {
	HandleInvoicePaid(ctx context.Context, invoiceID string) ([]fulfillment.Result, error)
}

type ServiceParams struct {
	Paid   invoicePaidHandler
	Logger *logger.Logger
}

// Service dispatches verified Stripe events.
type Service struct {
	paid invoicePaidHandler
	logg *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Paid == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice paid handler required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{paid: params.Paid, logg: params.Logger}, nil
}

// HandleEvent acts on invoice.paid only; every other event type is accepted
// and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
		}
		if inv.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing")
		}
		results, err := s.paid.HandleInvoicePaid(ctx, inv.ID)
		placed := 0
		for _, r := range results {
			if r.Success {
				placed++
			}
		}
		s.logg.Info(ctx, fmt.Sprintf("invoice %s paid: %d of %d lots placed", inv.ID, placed, len(results)))
		return err
	default:
		return nil
	}
}
