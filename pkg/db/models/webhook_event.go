package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
)

// WebhookEvent is an append-only ledger row keyed by (provider, idempotency key).
type WebhookEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.WebhookProvider `gorm:"column:provider;not null"`
	IdempotencyKey  string                `gorm:"column:idempotency_key;not null"`
	Payload         json.RawMessage       `gorm:"column:payload;type:jsonb;serializer:json"`
	ProcessedAt     *time.Time            `gorm:"column:processed_at"`
	ProcessingError *string               `gorm:"column:processing_error"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
