package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/PASLLC7291/high-end-auction-sub002/api/responses"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies and records Stripe events, then dispatches the first
// delivery of each. Processing failures are stored on the ledger row and the
// event is still acknowledged; recovery re-drives the affected lots.
func StripeWebhook(svc StripeWebhookService, client stripeClient, ledger webhookLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
		}

		first, err := ledger.MarkProcessed(ctx, enums.WebhookProviderStripe, event.ID, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !first {
			if logg != nil {
				logg.Info(ctx, "duplicate stripe event ignored")
			}
			responses.WriteSuccess(w, map[string]any{"duplicate": true})
			return
		}

		procErr := svc.HandleEvent(ctx, &event)
		if procErr != nil && logg != nil {
			logg.Error(ctx, "stripe event processing failed", procErr)
		}
		if err := ledger.RecordResult(ctx, enums.WebhookProviderStripe, event.ID, procErr); err != nil && logg != nil {
			logg.Error(ctx, "record stripe event result", err)
		}

		if logg != nil && procErr == nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteSuccess(w, map[string]any{"duplicate": false})
	}
}
