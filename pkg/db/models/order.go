package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
)

// Order maps one (sale, buyer) pair to its platform order and Stripe invoice.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PlatformOrderID string            `gorm:"column:platform_order_id;not null"`
	SaleID          string            `gorm:"column:sale_id;not null"`
	BuyerID         string            `gorm:"column:buyer_id;not null"`
	Currency        string            `gorm:"column:currency;not null;default:'USD'"`
	StripeInvoiceID *string           `gorm:"column:stripe_invoice_id"`
	InvoiceURL      *string           `gorm:"column:invoice_url"`
	Status          enums.OrderStatus `gorm:"column:status;not null;default:'OPEN'"`
	PaidAt          *time.Time        `gorm:"column:paid_at"`
	Items           []OrderItem       `gorm:"foreignKey:OrderID"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Invoiced reports whether a Stripe invoice was ever created for the order.
func (o Order) Invoiced() bool {
	return o.StripeInvoiceID != nil && *o.StripeInvoiceID != ""
}

// Finalized reports whether the invoice was finalized and its hosted URL stored.
func (o Order) Finalized() bool {
	return o.InvoiceURL != nil && *o.InvoiceURL != ""
}

// Paid reports whether the order's invoice has been paid.
func (o Order) Paid() bool {
	return o.PaidAt != nil
}
