package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

const maxErrorLength = 2000

// Ledger is the durable record of inbound notifications. A key is claimed by
// a single INSERT ... ON CONFLICT DO NOTHING; the affected row count decides
// who proceeds, so concurrent redeliveries cannot both win.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// MarkProcessed stores the payload and reports true only for the first
// delivery of (provider, key).
func (l *Ledger) MarkProcessed(ctx context.Context, provider enums.WebhookProvider, key string, payload []byte) (bool, error) {
	if !provider.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown webhook provider")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	event := models.WebhookEvent{
		Provider:       provider,
		IdempotencyKey: key,
		Payload:        auditPayload(payload),
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(&event)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "record webhook event")
	}
	return res.RowsAffected == 1, nil
}

// RecordResult stamps the outcome of processing on the ledger row.
func (l *Ledger) RecordResult(ctx context.Context, provider enums.WebhookProvider, key string, procErr error) error {
	updates := map[string]any{"processed_at": l.now()}
	if procErr != nil {
		msg := procErr.Error()
		if len(msg) > maxErrorLength {
			msg = msg[:maxErrorLength]
		}
		updates["processing_error"] = msg
	} else {
		updates["processing_error"] = nil
	}

	err := l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("provider = ? AND idempotency_key = ?", provider, key).
		Updates(updates).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook result")
	}
	return nil
}

// Find returns the ledger row for (provider, key), or nil when absent.
func (l *Ledger) Find(ctx context.Context, provider enums.WebhookProvider, key string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := l.db.WithContext(ctx).
		Where("provider = ? AND idempotency_key = ?", provider, key).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find webhook event")
	}
	return &event, nil
}

// auditPayload keeps non-JSON bodies by storing them as a JSON string.
func auditPayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return quoted
}
