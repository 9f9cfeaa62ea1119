package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/types"
)

// Lot is the drop-ship lifecycle record for one auction item.
type Lot struct {
	ID                      uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID                  string                 `gorm:"column:item_id;not null;uniqueIndex"`
	SaleID                  string                 `gorm:"column:sale_id;not null"`
	BuyerID                 string                 `gorm:"column:buyer_id;not null"`
	SupplierProductID       string                 `gorm:"column:supplier_product_id;not null"`
	SupplierVariantID       string                 `gorm:"column:supplier_variant_id;not null"`
	SupplierOrderID         *string                `gorm:"column:supplier_order_id"`
	SupplierOrderNumber     *string                `gorm:"column:supplier_order_number"`
	SupplierOrderStatus     *string                `gorm:"column:supplier_order_status"`
	SupplierCostCents       int64                  `gorm:"column:supplier_cost_cents;not null"`
	SupplierShippingCents   int64                  `gorm:"column:supplier_shipping_cents;not null;default:0"`
	TotalCostCents          *int64                 `gorm:"column:total_cost_cents"`
	LatestSupplierCostCents *int64                 `gorm:"column:latest_supplier_cost_cents"`
	FromCountry             string                 `gorm:"column:from_country;not null;default:'CN'"`
	LogisticName            string                 `gorm:"column:logistic_name;not null"`
	WinningBidCents         int64                  `gorm:"column:winning_bid_cents;not null"`
	Currency                string                 `gorm:"column:currency;not null;default:'USD'"`
	ProfitCents             *int64                 `gorm:"column:profit_cents"`
	ShippingAddress         *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	ShippingName            *string                `gorm:"column:shipping_name"`
	SupplierPaidAt          *time.Time             `gorm:"column:supplier_paid_at"`
	Status                  enums.LotStatus        `gorm:"column:status;not null;default:'AUCTION_CLOSED'"`
	LastError               *string                `gorm:"column:last_error"`
	RecoveryAttempts        int                    `gorm:"column:recovery_attempts;not null;default:0"`
	RefundID                *string                `gorm:"column:refund_id"`
	RefundedAt              *time.Time             `gorm:"column:refunded_at"`
	CreatedAt               time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (Lot) TableName() string { return "lots" }

func (l *Lot) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// HasSupplierOrder reports whether a supplier order id has been recorded.
func (l Lot) HasSupplierOrder() bool {
	return l.SupplierOrderID != nil && *l.SupplierOrderID != ""
}

// CostCents is the supplier cost plus shipping.
func (l Lot) CostCents() int64 {
	return l.SupplierCostCents + l.SupplierShippingCents
}
