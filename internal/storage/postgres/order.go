package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (public_id, user_id, email,
			shipping_full_name, shipping_phone, shipping_line1, shipping_line2, shipping_city,
			shipping_region, shipping_postal_code, shipping_country_code,
			status, subtotal, discount, tax, shipping, total, coupon_code, notes, placed_at)
		VALUES ($1, NULLIF($2::bigint, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, NULLIF($18, ''), $19, $20)
		RETURNING id`

	orderColumns = `id, public_id, COALESCE(user_id, 0), email,
		shipping_full_name, shipping_phone, shipping_line1, shipping_line2, shipping_city,
		shipping_region, shipping_postal_code, shipping_country_code,
		status::text, subtotal, discount, tax, shipping, total, COALESCE(coupon_code, ''), notes,
		carrier, tracking_number, placed_at, shipped_at, delivered_at, canceled_at`

	getOrderByPublicIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE public_id = $1`

	listOrderItemsSQL = `SELECT id, COALESCE(product_id, 0), product_name, unit_price, quantity
		FROM order_items WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, carrier = $3, tracking_number = $4,
		shipped_at = $5, delivered_at = $6, canceled_at = $7 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order header.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	a := o.ShipTo
	err := r.db.q(ctx).QueryRow(ctx, createOrderSQL,
		o.PublicID, o.UserID, o.Email,
		a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.CountryCode,
		string(o.Status), o.Totals.Subtotal, o.Totals.Discount, o.Totals.Tax, o.Totals.Shipping,
		o.Totals.Total, o.CouponCode, o.Notes, o.PlacedAt,
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.PublicID)
	}
	return nil
}

// AddItems inserts the line snapshots in a single round trip.
func (r *OrderRepository) AddItems(ctx context.Context, orderID int64, items []order.Item) error {
	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{orderID, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity}
	}
	n, err := r.db.q(ctx).CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "product_id", "product_name", "unit_price", "quantity"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return errors.Wrap(err, "insert order items")
	}
	if int(n) != len(items) {
		return errors.Errorf("inserted %d of %d order items", n, len(items))
	}
	return nil
}

// GetByPublicID returns the order with its items.
func (r *OrderRepository) GetByPublicID(ctx context.Context, publicID string, lock bool) (*order.Order, error) {
	query := getOrderByPublicIDSQL
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := r.db.q(ctx).Query(ctx, query, publicID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", publicID)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", publicID)
	}

	itemRows, err := r.db.q(ctx).Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	o.Items, err = pgx.CollectRows(itemRows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan order items")
	}
	return &o, nil
}

// UpdateStatus persists the fulfilment fields of o.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := r.db.q(ctx).Exec(ctx, updateOrderStatusSQL,
		o.ID, string(o.Status), o.Carrier, o.TrackingNumber, o.ShippedAt, o.DeliveredAt, o.CanceledAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.PublicID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	a := &o.ShipTo
	err := row.Scan(
		&o.ID, &o.PublicID, &o.UserID, &o.Email,
		&a.FullName, &a.Phone, &a.Line1, &a.Line2, &a.City, &a.Region, &a.PostalCode, &a.CountryCode,
		&status, &o.Totals.Subtotal, &o.Totals.Discount, &o.Totals.Tax, &o.Totals.Shipping, &o.Totals.Total,
		&o.CouponCode, &o.Notes, &o.Carrier, &o.TrackingNumber,
		&o.PlacedAt, &o.ShippedAt, &o.DeliveredAt, &o.CanceledAt,
	)
	o.Status = order.Status(status)
	return o, err
}
