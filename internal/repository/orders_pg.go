// Package repository persists orders and their payment outcomes in Postgres.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"soko-orders/internal/domain"
)

// Order is one placed order with its payment bookkeeping.
type Order struct {
	ID               string
	Number           string
	VendorID         string
	VendorName       string
	CustomerPhone    string
	DeliveryLocation string
	Total            domain.Money
	Status           string
	CheckoutHandle   string
	Items            []domain.CartLine
	CreatedAt        time.Time
}

type Orders interface {
	CreateOrder(ctx context.Context, o Order) error
	SetStatus(ctx context.Context, orderID, status string) error
	SetCheckoutHandle(ctx context.Context, orderID, handle string) error
	RecordPaymentResult(ctx context.Context, orderID, status string, attempts int) error
}

type OrdersPG struct {
	pool *pgxpool.Pool
}

func NewOrdersPG(pool *pgxpool.Pool) *OrdersPG { return &OrdersPG{pool: pool} }

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	order_number      TEXT NOT NULL UNIQUE,
	vendor_id         TEXT NOT NULL,
	vendor_name       TEXT NOT NULL,
	customer_phone    TEXT NOT NULL,
	delivery_location TEXT NOT NULL DEFAULT '',
	total_amount      BIGINT NOT NULL,
	status            TEXT NOT NULL,
	checkout_handle   TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS order_items (
	id         BIGSERIAL PRIMARY KEY,
	order_id   TEXT NOT NULL REFERENCES orders(id),
	item_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	unit_price BIGINT NOT NULL,
	quantity   INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS order_status_log (
	id         BIGSERIAL PRIMARY KEY,
	order_id   TEXT NOT NULL REFERENCES orders(id),
	status     TEXT NOT NULL,
	attempts   INT NOT NULL DEFAULT 0,
	changed_by TEXT NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// EnsureSchema creates the order tables when they are missing.
func (r *OrdersPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply order schema: %w", err)
	}
	return nil
}

// NewOrderNumber builds a human-quotable order number: date plus a UUID
// fragment instead of a daily sequence, so concurrent checkouts never race.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD_%s_%s", now.UTC().Format("20060102"), uuid.NewString()[:6])
}

// CreateOrder inserts the order, its line items and the initial status-log
// row in one transaction.
func (r *OrdersPG) CreateOrder(ctx context.Context, o Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders
			(id, order_number, vendor_id, vendor_name, customer_phone, delivery_location, total_amount, status, checkout_handle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.Number, o.VendorID, o.VendorName, o.CustomerPhone, o.DeliveryLocation,
		int64(o.Total), o.Status, o.CheckoutHandle,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, item_id, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, item.ItemID, item.Name, int64(item.UnitPrice), item.Qty,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item %s: %w", item.Name, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by)
		VALUES ($1, $2, 'checkout')`,
		o.ID, o.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order status log: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *OrdersPG) SetStatus(ctx context.Context, orderID, status string) error {
	return r.logStatus(ctx, orderID, status, 0)
}

func (r *OrdersPG) SetCheckoutHandle(ctx context.Context, orderID, handle string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET checkout_handle = $2, updated_at = now() WHERE id = $1`,
		orderID, handle)
	if err != nil {
		return fmt.Errorf("failed to set checkout handle: %w", err)
	}
	return nil
}

// RecordPaymentResult stores the terminal payment outcome and appends to the
// status log in one transaction.
func (r *OrdersPG) RecordPaymentResult(ctx context.Context, orderID, status string, attempts int) error {
	return r.logStatus(ctx, orderID, status, attempts)
}

func (r *OrdersPG) logStatus(ctx context.Context, orderID, status string, attempts int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1`,
		orderID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, attempts, changed_by)
		VALUES ($1, $2, $3, 'payment-confirmation')`,
		orderID, status, attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order status log: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
