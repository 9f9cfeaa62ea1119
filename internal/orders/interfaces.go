package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
)

// Repository persists orders and the order-item dedupe set.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindBySaleAndBuyer(ctx context.Context, saleID, buyerID string) (*models.Order, error)
	FindByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error)
	FindByItemID(ctx context.Context, itemID string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) (*models.Order, bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) error
	SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error
	MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListInvoicePending(ctx context.Context, saleID string, updatedBefore time.Time, limit int) ([]models.Order, error)
	CountInvoiceBacklog(ctx context.Context) (int64, error)

	ExistingItemIDs(ctx context.Context, itemIDs []string) (map[string]bool, error)
	UpsertItems(ctx context.Context, items []models.OrderItem) error
	ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	ListUninvoicedItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	MarkItemsInvoiced(ctx context.Context, orderID uuid.UUID, itemIDs []string, at time.Time) error
}
