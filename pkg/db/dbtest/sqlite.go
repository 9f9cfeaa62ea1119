// Package dbtest opens throwaway sqlite databases carrying the pipeline schema.
package dbtest

import (
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns an isolated in-memory database with every pipeline table.
// Each test name maps to its own shared-cache database.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS webhook_events (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  idempotency_key TEXT NOT NULL,
  payload TEXT,
  processed_at DATETIME,
  processing_error TEXT,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_provider_key ON webhook_events (provider, idempotency_key);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  platform_order_id TEXT NOT NULL,
  sale_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  stripe_invoice_id TEXT,
  invoice_url TEXT,
  status TEXT NOT NULL DEFAULT 'OPEN',
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_sale_buyer ON orders (sale_id, buyer_id);`,
	`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  description TEXT NOT NULL,
  invoiced_at DATETIME,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_order_items_item ON order_items (item_id);`,
	`CREATE TABLE IF NOT EXISTS dropship_listings (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  supplier_product_id TEXT NOT NULL,
  supplier_variant_id TEXT NOT NULL,
  supplier_cost_cents INTEGER NOT NULL,
  supplier_shipping_cents INTEGER NOT NULL DEFAULT 0,
  from_country TEXT NOT NULL DEFAULT 'CN',
  logistic_name TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_dropship_listings_item ON dropship_listings (item_id);`,
	`CREATE TABLE IF NOT EXISTS lots (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  sale_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  supplier_product_id TEXT NOT NULL,
  supplier_variant_id TEXT NOT NULL,
  supplier_order_id TEXT,
  supplier_order_number TEXT,
  supplier_order_status TEXT,
  supplier_cost_cents INTEGER NOT NULL,
  supplier_shipping_cents INTEGER NOT NULL DEFAULT 0,
  total_cost_cents INTEGER,
  latest_supplier_cost_cents INTEGER,
  from_country TEXT NOT NULL DEFAULT 'CN',
  logistic_name TEXT NOT NULL,
  winning_bid_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  profit_cents INTEGER,
  shipping_address TEXT,
  shipping_name TEXT,
  supplier_paid_at DATETIME,
  status TEXT NOT NULL DEFAULT 'AUCTION_CLOSED',
  last_error TEXT,
  recovery_attempts INTEGER NOT NULL DEFAULT 0,
  refund_id TEXT,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_lots_item ON lots (item_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_lots_supplier_order ON lots (supplier_order_id) WHERE supplier_order_id IS NOT NULL;`,
}
