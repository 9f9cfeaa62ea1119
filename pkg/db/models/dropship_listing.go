package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DropshipListing marks an auction item as fulfilled by the supplier and
// carries the quoted cost used as the price-drift baseline.
type DropshipListing struct {
	ID                    uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID                string    `gorm:"column:item_id;not null;uniqueIndex"`
	SupplierProductID     string    `gorm:"column:supplier_product_id;not null"`
	SupplierVariantID     string    `gorm:"column:supplier_variant_id;not null"`
	SupplierCostCents     int64     `gorm:"column:supplier_cost_cents;not null"`
	SupplierShippingCents int64     `gorm:"column:supplier_shipping_cents;not null;default:0"`
	FromCountry           string    `gorm:"column:from_country;not null;default:'CN'"`
	LogisticName          string    `gorm:"column:logistic_name;not null"`
	Active                bool      `gorm:"column:active;not null;default:true"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DropshipListing) TableName() string { return "dropship_listings" }

func (d *DropshipListing) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
