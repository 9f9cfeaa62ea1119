package lots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

const maxErrorLength = 2000

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds a lots repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// Create inserts the lot unless one already exists for the item.
func (r *repository) Create(ctx context.Context, lot *models.Lot) (bool, error) {
	if lot.Status == "" {
		lot.Status = enums.LotStatusAuctionClosed
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "item_id"}}, DoNothing: true}).
		Create(lot)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "create lot")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	var lot models.Lot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "lot not found").WithDetails(map[string]any{"lot_id": id.String()})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find lot")
	}
	return &lot, nil
}

// FindByItemID returns nil when the item has no lot.
func (r *repository) FindByItemID(ctx context.Context, itemID string) (*models.Lot, error) {
	var lot models.Lot
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).First(&lot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find lot by item")
	}
	return &lot, nil
}

func (r *repository) ListByItemIDs(ctx context.Context, itemIDs []string) ([]models.Lot, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var lots []models.Lot
	if err := r.db.WithContext(ctx).Where("item_id IN ?", itemIDs).Order("item_id ASC").Find(&lots).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lots by item")
	}
	return lots, nil
}

// Transition moves the lot from one status to the next. The write is
// conditioned on the current status, so a losing concurrent writer gets a
// state conflict instead of overwriting progress. A supplier order id can
// only be written while none is recorded.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.LotStatus, updates map[string]any) error {
	if !enums.CanTransition(from, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("lot transition %s -> %s not allowed", from, to))
	}
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = r.now()

	query := r.db.WithContext(ctx).Model(&models.Lot{}).Where("id = ? AND status = ?", id, from)
	if v, ok := values["supplier_order_id"]; ok {
		if isEmpty(v) {
			return pkgerrors.New(pkgerrors.CodeValidation, "supplier order id cannot be cleared")
		}
		query = query.Where("supplier_order_id IS NULL")
	}

	res := query.Updates(values)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition lot")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("lot is no longer %s", from)).
			WithDetails(map[string]any{"lot_id": id.String(), "from": from.String(), "to": to.String()})
	}
	return nil
}

// Update writes non-status fields. Status changes must go through Transition.
func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if _, ok := updates["status"]; ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "status changes require a transition")
	}
	if _, ok := updates["supplier_order_id"]; ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "supplier order id is set by transition only")
	}
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = r.now()

	res := r.db.WithContext(ctx).Model(&models.Lot{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update lot")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "lot not found")
	}
	return nil
}

// SetError overwrites the lot's last error without touching updated_at, so
// a lot that keeps failing still ages into stuck-lot recovery.
func (r *repository) SetError(ctx context.Context, id uuid.UUID, message string) error {
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}
	err := r.db.WithContext(ctx).Model(&models.Lot{}).Where("id = ?", id).UpdateColumn("last_error", message).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set lot error")
	}
	return nil
}

// IncrementRecoveryAttempts bumps the counter and updated_at, which pushes
// the next stale check out by one staleness window.
func (r *repository) IncrementRecoveryAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	res := r.db.WithContext(ctx).Model(&models.Lot{}).Where("id = ?", id).Updates(map[string]any{
		"recovery_attempts": gorm.Expr("recovery_attempts + 1"),
		"updated_at":        r.now(),
	})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment recovery attempts")
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "lot not found")
	}
	var attempts int
	if err := r.db.WithContext(ctx).Model(&models.Lot{}).Where("id = ?", id).Pluck("recovery_attempts", &attempts).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read recovery attempts")
	}
	return attempts, nil
}

func (r *repository) ListByStatus(ctx context.Context, statuses []enums.LotStatus, limit int) ([]models.Lot, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("updated_at ASC")
	return r.list(query, limit, "list lots by status")
}

func (r *repository) ListPaidWithoutSupplierOrder(ctx context.Context, limit int) ([]models.Lot, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND (supplier_order_id IS NULL OR supplier_order_id = '')", enums.LotStatusPaid).
		Order("updated_at ASC")
	return r.list(query, limit, "list paid lots")
}

func (r *repository) ListStale(ctx context.Context, statuses []enums.LotStatus, before time.Time, limit int) ([]models.Lot, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before.UTC()).
		Order("updated_at ASC")
	return r.list(query, limit, "list stale lots")
}

func (r *repository) list(query *gorm.DB, limit int, op string) ([]models.Lot, error) {
	if limit > 0 {
		query = query.Limit(limit)
	}
	var lots []models.Lot
	if err := query.Find(&lots).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return lots, nil
}

// SpendBetween sums total cost of lots holding a supplier order whose spend
// landed inside [from, to). Paid lots count on their supplier payment time so
// later shipping updates do not move them into another day; ordered lots
// count on their last update.
func (r *repository) SpendBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Lot{}).
		Select("CAST(COALESCE(SUM(total_cost_cents), 0) AS BIGINT)").
		Where("status IN ? AND COALESCE(supplier_paid_at, updated_at) >= ? AND COALESCE(supplier_paid_at, updated_at) < ?",
			enums.SpendStatuses(), from.UTC(), to.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum lot spend")
	}
	return total, nil
}

// MarginSince totals profit and winning bids of lots paid to the supplier since the cutoff.
func (r *repository) MarginSince(ctx context.Context, since time.Time) (MarginTotals, error) {
	var row struct {
		Profit  int64
		Revenue int64
		Lots    int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Lot{}).
		Select("CAST(COALESCE(SUM(profit_cents), 0) AS BIGINT) AS profit, "+
			"CAST(COALESCE(SUM(winning_bid_cents), 0) AS BIGINT) AS revenue, "+
			"COUNT(*) AS lots").
		Where("profit_cents IS NOT NULL AND supplier_paid_at >= ? AND status IN ?", since.UTC(), []enums.LotStatus{
			enums.LotStatusCJPaid,
			enums.LotStatusShipped,
			enums.LotStatusDelivered,
		}).
		Scan(&row).Error
	if err != nil {
		return MarginTotals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum lot margin")
	}
	return MarginTotals{ProfitCents: row.Profit, RevenueCents: row.Revenue, Lots: row.Lots}, nil
}

// FindListings returns active drop-ship listings keyed by item id.
func (r *repository) FindListings(ctx context.Context, itemIDs []string) (map[string]models.DropshipListing, error) {
	out := make(map[string]models.DropshipListing, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	var listings []models.DropshipListing
	if err := r.db.WithContext(ctx).Where("item_id IN ? AND active = ?", itemIDs, true).Find(&listings).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find dropship listings")
	}
	for _, listing := range listings {
		out[listing.ItemID] = listing
	}
	return out, nil
}

func (r *repository) UpsertListing(ctx context.Context, listing *models.DropshipListing) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"supplier_product_id",
				"supplier_variant_id",
				"supplier_cost_cents",
				"supplier_shipping_cents",
				"from_country",
				"logistic_name",
				"active",
				"updated_at",
			}),
		}).
		Create(listing).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert dropship listing")
	}
	if !listing.Active {
		// insert replaces a false bool with the column default
		err = r.db.WithContext(ctx).
			Model(&models.DropshipListing{}).
			Where("item_id = ?", listing.ItemID).
			Update("active", false).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate dropship listing")
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case *string:
		return val == nil || *val == ""
	default:
		return false
	}
}
