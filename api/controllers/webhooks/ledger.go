package webhooks

import (
	"context"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
)

type webhookLedger interface {
	MarkProcessed(ctx context.Context, provider enums.WebhookProvider, key string, payload []byte) (bool, error)
	RecordResult(ctx context.Context, provider enums.WebhookProvider, key string, procErr error) error
}
