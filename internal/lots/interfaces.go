package lots

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
)

// Repository persists lot lifecycle state and drop-ship listings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, lot *models.Lot) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Lot, error)
	FindByItemID(ctx context.Context, itemID string) (*models.Lot, error)
	ListByItemIDs(ctx context.Context, itemIDs []string) ([]models.Lot, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.LotStatus, updates map[string]any) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SetError(ctx context.Context, id uuid.UUID, message string) error
	IncrementRecoveryAttempts(ctx context.Context, id uuid.UUID) (int, error)

	ListByStatus(ctx context.Context, statuses []enums.LotStatus, limit int) ([]models.Lot, error)
	ListPaidWithoutSupplierOrder(ctx context.Context, limit int) ([]models.Lot, error)
	ListStale(ctx context.Context, statuses []enums.LotStatus, before time.Time, limit int) ([]models.Lot, error)
	SpendBetween(ctx context.Context, from, to time.Time) (int64, error)
	MarginSince(ctx context.Context, since time.Time) (MarginTotals, error)

	FindListings(ctx context.Context, itemIDs []string) (map[string]models.DropshipListing, error)
	UpsertListing(ctx context.Context, listing *models.DropshipListing) error
}

// MarginTotals aggregates realized profit over fulfilled lots.
type MarginTotals struct {
	ProfitCents  int64
	RevenueCents int64
	Lots         int64
}
