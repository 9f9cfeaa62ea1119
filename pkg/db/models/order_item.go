package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem records which auction item rides on which order. ItemID is
// unique so a re-delivered sale-closed notification can never bill twice.
type OrderItem struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	ItemID      string     `gorm:"column:item_id;not null;uniqueIndex"`
	AmountCents int64      `gorm:"column:amount_cents;not null"`
	Description string     `gorm:"column:description;not null"`
	InvoicedAt  *time.Time `gorm:"column:invoiced_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
