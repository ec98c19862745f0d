package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	cartColumns = `id, COALESCE(user_id, 0), token, status::text, expires_at, created_at`

	findActiveCartByUserSQL  = `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1 AND status = 'active'`
	findActiveCartByTokenSQL = `SELECT ` + cartColumns + ` FROM carts
		WHERE token = $1 AND user_id IS NULL AND status = 'active'`
	findCartByIDSQL = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

	createCartSQL = `INSERT INTO carts (user_id, token, status, expires_at)
		VALUES (NULLIF($1::bigint, 0), $2, $3, $4) RETURNING id, created_at`

	listCartItemsSQL = `SELECT product_id, quantity FROM cart_items
		WHERE cart_id = $1 ORDER BY added_at, product_id`
	setCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`
	deleteCartItemSQL  = `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`
	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	assignCartUserSQL = `UPDATE carts SET user_id = $2, token = NULL, expires_at = NULL, updated_at = now()
		WHERE id = $1`
	lockCartSQL      = `SELECT id FROM carts WHERE id = $1 AND status = 'active' FOR UPDATE`
	setCartStatusSQL = `UPDATE carts SET status = $2, updated_at = now() WHERE id = $1 AND status = 'active'`
	deleteCartSQL    = `DELETE FROM carts WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository that uses db.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) FindActiveByUser(ctx context.Context, userID int64) (*cart.Cart, error) {
	return r.findOne(ctx, findActiveCartByUserSQL, userID)
}

// FindActiveByToken treats malformed tokens as unknown.
func (r *CartRepository) FindActiveByToken(ctx context.Context, token string) (*cart.Cart, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return nil, cart.ErrCartNotFound
	}
	return r.findOne(ctx, findActiveCartByTokenSQL, id)
}

func (r *CartRepository) FindByID(ctx context.Context, id int64) (*cart.Cart, error) {
	c, err := r.findOne(ctx, findCartByIDSQL, id)
	if err != nil {
		return nil, err
	}
	if c.Items, err = r.Items(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CartRepository) findOne(ctx context.Context, query string, arg any) (*cart.Cart, error) {
	rows, err := r.db.q(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "find cart")
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrCartNotFound
		}
		return nil, errors.Wrap(err, "find cart")
	}
	return &c, nil
}

func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	var token *uuid.UUID
	if c.Token != "" {
		id, err := uuid.Parse(c.Token)
		if err != nil {
			return errors.Wrap(err, "parse cart token")
		}
		token = &id
	}
	err := r.db.q(ctx).QueryRow(ctx, createCartSQL, c.UserID, token, string(c.Status), c.ExpiresAt).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if uniqueViolation(err) {
			return cart.ErrActiveCartExists
		}
		return errors.Wrap(err, "create cart")
	}
	return nil
}

func (r *CartRepository) Items(ctx context.Context, cartID int64) ([]cart.Item, error) {
	rows, err := r.db.q(ctx).Query(ctx, listCartItemsSQL, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.Quantity)
		return it, err
	})
}

func (r *CartRepository) SetItemQuantity(ctx context.Context, cartID, productID int64, qty int) error {
	if _, err := r.db.q(ctx).Exec(ctx, setCartItemSQL, cartID, productID, qty); err != nil {
		return errors.Wrapf(err, "set quantity of product %d", productID)
	}
	return nil
}

func (r *CartRepository) DeleteItem(ctx context.Context, cartID, productID int64) error {
	if _, err := r.db.q(ctx).Exec(ctx, deleteCartItemSQL, cartID, productID); err != nil {
		return errors.Wrapf(err, "delete product %d", productID)
	}
	return nil
}

func (r *CartRepository) DeleteItems(ctx context.Context, cartID int64) error {
	if _, err := r.db.q(ctx).Exec(ctx, deleteCartItemsSQL, cartID); err != nil {
		return errors.Wrap(err, "delete cart items")
	}
	return nil
}

func (r *CartRepository) AssignUser(ctx context.Context, cartID, userID int64) error {
	err := r.exec(ctx, "assign cart", assignCartUserSQL, cartID, userID)
	if uniqueViolation(err) {
		return cart.ErrActiveCartExists
	}
	return err
}

// Lock selects the cart FOR UPDATE. A transaction that waited on the lock
// re-reads the row, so a cart converted meanwhile reports ErrCartNotFound.
func (r *CartRepository) Lock(ctx context.Context, cartID int64) error {
	var id int64
	err := r.db.q(ctx).QueryRow(ctx, lockCartSQL, cartID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return cart.ErrCartNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock cart")
	}
	return nil
}

func (r *CartRepository) SetStatus(ctx context.Context, cartID int64, status cart.Status) error {
	return r.exec(ctx, "set cart status", setCartStatusSQL, cartID, string(status))
}

func (r *CartRepository) Delete(ctx context.Context, cartID int64) error {
	if _, err := r.db.q(ctx).Exec(ctx, deleteCartSQL, cartID); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	return nil
}

func (r *CartRepository) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, op)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrCartNotFound
	}
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var (
		c       cart.Cart
		token   pgtype.UUID
		status  string
		expires *time.Time
	)
	err := row.Scan(&c.ID, &c.UserID, &token, &status, &expires, &c.CreatedAt)
	if token.Valid {
		c.Token = uuid.UUID(token.Bytes).String()
	}
	c.Status = cart.Status(status)
	c.ExpiresAt = expires
	return c, err
}
