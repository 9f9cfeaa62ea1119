package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/db/models"
	"github.com/PASLLC7291/high-end-auction-sub002/pkg/enums"
	pkgerrors "github.com/PASLLC7291/high-end-auction-sub002/pkg/errors"
)

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(ctx, "find order", "id = ?", id)
}

// FindBySaleAndBuyer returns nil when the buyer has no order for the sale yet.
func (r *repository) FindBySaleAndBuyer(ctx context.Context, saleID, buyerID string) (*models.Order, error) {
	return r.first(ctx, "find order by sale and buyer", "sale_id = ? AND buyer_id = ?", saleID, buyerID)
}

func (r *repository) FindByInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error) {
	return r.first(ctx, "find order by invoice", "stripe_invoice_id = ?", invoiceID)
}

// FindByItemID returns the order carrying the item, or nil.
func (r *repository) FindByItemID(ctx context.Context, itemID string) (*models.Order, error) {
	sub := r.db.WithContext(ctx).Model(&models.OrderItem{}).Select("order_id").Where("item_id = ?", itemID)
	return r.first(ctx, "find order by item", "id IN (?)", sub)
}

func (r *repository) first(ctx context.Context, op string, query string, args ...any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where(query, args...).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return &order, nil
}

// Create inserts the order. When a concurrent writer already created the
// (sale, buyer) row, the existing order is returned with created=false.
func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	if order.Status == "" {
		order.Status = enums.OrderStatusOpen
	}
	err := r.db.WithContext(ctx).Create(order).Error
	if err == nil {
		return order, true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	existing, findErr := r.FindBySaleAndBuyer(ctx, order.SaleID, order.BuyerID)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order conflict without existing row")
	}
	return existing, false, nil
}

// TransitionStatus moves the order from one status to another. The write is
// gated on the current status; a lost race is a state conflict.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) error {
	if !enums.CanTransitionOrder(from, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order transition %s -> %s not allowed", from, to))
	}
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	values["updated_at"] = r.now()

	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ? AND status = ?", id, from).Updates(values)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "transition order")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is no longer %s", from)).
			WithDetails(map[string]any{"order_id": id.String(), "from": from.String(), "to": to.String()})
	}
	return nil
}

// SetInvoiceID claims the order's single invoice slot. It fails with a
// conflict when an invoice id is already present.
func (r *repository) SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND stripe_invoice_id IS NULL", id).
		Updates(map[string]any{"stripe_invoice_id": invoiceID, "updated_at": r.now()})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "set order invoice")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "order already invoiced").WithDetails(map[string]any{"order_id": id.String()})
	}
	return nil
}

// MarkPaid records the payment once. It reports false when the order was
// already paid.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND paid_at IS NULL", id).
		Updates(map[string]any{"paid_at": at.UTC(), "updated_at": r.now()})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark order paid")
	}
	return res.RowsAffected > 0, nil
}

// ListInvoicePending returns orders whose invoice was never finalized but
// that still carry un-invoiced items, oldest first. An empty saleID matches
// every sale and a zero updatedBefore disables the age filter.
func (r *repository) ListInvoicePending(ctx context.Context, saleID string, updatedBefore time.Time, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("invoice_url IS NULL").
		Where("id IN (?)", r.uninvoicedOrderIDs(ctx))
	if saleID != "" {
		query = query.Where("sale_id = ?", saleID)
	}
	if !updatedBefore.IsZero() {
		query = query.Where("updated_at < ?", updatedBefore.UTC())
	}
	query = query.Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var found []models.Order
	if err := query.Find(&found).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoice pending orders")
	}
	return found, nil
}

// CountInvoiceBacklog counts finalized orders that picked up items after
// their invoice went out. Payment state does not affect the count.
func (r *repository) CountInvoiceBacklog(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("invoice_url IS NOT NULL").
		Where("id IN (?)", r.uninvoicedOrderIDs(ctx)).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count invoice backlog")
	}
	return count, nil
}

func (r *repository) uninvoicedOrderIDs(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.OrderItem{}).Select("order_id").Where("invoiced_at IS NULL")
}

// ExistingItemIDs returns the subset of itemIDs already attached to any order.
func (r *repository) ExistingItemIDs(ctx context.Context, itemIDs []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(itemIDs))
	if len(itemIDs) == 0 {
		return seen, nil
	}
	var found []string
	err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("item_id IN ?", itemIDs).
		Pluck("item_id", &found).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	for _, id := range found {
		seen[id] = true
	}
	return seen, nil
}

// UpsertItems attaches items to orders. A repeated item id refreshes the
// amount and description but never moves the item to another order.
func (r *repository) UpsertItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount_cents", "description"}),
		}).
		Create(&items).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert order items")
	}
	return nil
}

func (r *repository) ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	return r.listItems(ctx, r.db.WithContext(ctx).Where("order_id = ?", orderID))
}

func (r *repository) ListUninvoicedItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	return r.listItems(ctx, r.db.WithContext(ctx).Where("order_id = ? AND invoiced_at IS NULL", orderID))
}

func (r *repository) listItems(_ context.Context, query *gorm.DB) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := query.Order("created_at ASC, item_id ASC").Find(&items).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order items")
	}
	return items, nil
}

func (r *repository) MarkItemsInvoiced(ctx context.Context, orderID uuid.UUID, itemIDs []string, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND item_id IN ? AND invoiced_at IS NULL", orderID, itemIDs).
		Update("invoiced_at", at.UTC()).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order items invoiced")
	}
	return nil
}
