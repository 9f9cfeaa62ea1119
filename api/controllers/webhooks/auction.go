package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/PASLLC7291/high-end-auction-sub002/api/responses"
	auctionwebhook "github.com/PASLLC7291/high-end-auction-sub002/internal/webhooks/auction"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/logger"
)

type AuctionWebhookService interface {
	HandleNotification(ctx context.Context, n *auctionwebhook.Notification) error
}

// AuctionWebhook verifies the platform HMAC, claims the idempotency key and
// runs the sale-closed processor for the first delivery.
func AuctionWebhook(svc AuctionWebhookService, secret string, ledger webhookLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auction webhook not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if !auctionwebhook.VerifySignature(payload, r.Header.Get(auctionwebhook.SignatureHeader), secret) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid auction signature"))
			return
		}

		notification, err := auctionwebhook.ParseNotification(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"idempotency_key": notification.IdempotencyKey,
				"auction_event":   notification.Event,
			})
		}

		first, err := ledger.MarkProcessed(ctx, enums.WebhookProviderAuction, notification.IdempotencyKey, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !first {
			if logg != nil {
				logg.Info(ctx, "duplicate auction notification ignored")
			}
			responses.WriteSuccess(w, map[string]any{"duplicate": true})
			return
		}

		procErr := svc.HandleNotification(ctx, notification)
		if procErr != nil && logg != nil {
			logg.Error(ctx, "auction notification processing failed", procErr)
		}
		if err := ledger.RecordResult(ctx, enums.WebhookProviderAuction, notification.IdempotencyKey, procErr); err != nil && logg != nil {
			logg.Error(ctx, "record auction notification result", err)
		}
		responses.WriteSuccess(w, map[string]any{"duplicate": false})
	}
}
