package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
)

const (
	getCouponByCodeSQL = `SELECT id, code, type::text, value, description, min_subtotal,
		COALESCE(max_uses, 0), COALESCE(max_uses_per_user, 0), starts_at, ends_at, is_active
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	couponProductsSQL   = `SELECT product_id FROM coupon_products WHERE coupon_id = $1 ORDER BY product_id`
	couponCategoriesSQL = `SELECT category_id FROM coupon_categories WHERE coupon_id = $1 ORDER BY category_id`

	countRedemptionsSQL     = `SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1`
	countUserRedemptionsSQL = `SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`
	insertRedemptionSQL     = `INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, redeemed_at)
		VALUES ($1, NULLIF($2::bigint, 0), NULLIF($3::bigint, 0), $4)`
	releaseRedemptionsSQL = `DELETE FROM coupon_redemptions WHERE order_id = $1`

	upsertCouponSQL = `INSERT INTO coupons (code, type, value, description, min_subtotal,
			max_uses, max_uses_per_user, starts_at, ends_at, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6::int, 0), NULLIF($7::int, 0), $8, $9, $10)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			type = EXCLUDED.type, value = EXCLUDED.value, description = EXCLUDED.description,
			min_subtotal = EXCLUDED.min_subtotal, max_uses = EXCLUDED.max_uses,
			max_uses_per_user = EXCLUDED.max_uses_per_user, starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at, is_active = EXCLUDED.is_active
		RETURNING id`

	clearCouponProductsSQL   = `DELETE FROM coupon_products WHERE coupon_id = $1`
	clearCouponCategoriesSQL = `DELETE FROM coupon_categories WHERE coupon_id = $1`
	setCouponProductsSQL     = `INSERT INTO coupon_products (coupon_id, product_id)
		SELECT $1, UNNEST($2::bigint[]) ON CONFLICT DO NOTHING`
	setCouponCategoriesSQL = `INSERT INTO coupon_categories (coupon_id, category_id)
		SELECT $1, UNNEST($2::bigint[]) ON CONFLICT DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db *DB
}

// NewCouponRepository returns a CouponRepository that uses db.
func NewCouponRepository(db *DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up a coupon by its code (case-insensitive) together with
// its eligibility sets. With lock set the row is selected FOR UPDATE, which
// serializes concurrent redemptions of the same coupon until commit.
func (r *CouponRepository) FindByCode(ctx context.Context, code string, lock bool) (*coupon.Coupon, error) {
	query := getCouponByCodeSQL
	if lock {
		query += " FOR UPDATE"
	}
	rows, err := r.db.q(ctx).Query(ctx, query, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	if c.EligibleProductIDs, err = r.ids(ctx, couponProductsSQL, c.ID); err != nil {
		return nil, errors.Wrap(err, "coupon products")
	}
	if c.EligibleCategoryIDs, err = r.ids(ctx, couponCategoriesSQL, c.ID); err != nil {
		return nil, errors.Wrap(err, "coupon categories")
	}
	return &c, nil
}

func (r *CouponRepository) ids(ctx context.Context, query string, couponID int64) ([]int64, error) {
	rows, err := r.db.q(ctx).Query(ctx, query, couponID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID int64) (int, error) {
	var n int
	if err := r.db.q(ctx).QueryRow(ctx, countRedemptionsSQL, couponID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count redemptions")
	}
	return n, nil
}

func (r *CouponRepository) CountUserRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	var n int
	if err := r.db.q(ctx).QueryRow(ctx, countUserRedemptionsSQL, couponID, userID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count user redemptions")
	}
	return n, nil
}

func (r *CouponRepository) Redeem(ctx context.Context, rd coupon.Redemption) error {
	_, err := r.db.q(ctx).Exec(ctx, insertRedemptionSQL, rd.CouponID, rd.UserID, rd.OrderID, rd.RedeemedAt)
	if err != nil {
		return errors.Wrapf(err, "redeem coupon %d", rd.CouponID)
	}
	return nil
}

func (r *CouponRepository) Release(ctx context.Context, orderID int64) error {
	if _, err := r.db.q(ctx).Exec(ctx, releaseRedemptionsSQL, orderID); err != nil {
		return errors.Wrapf(err, "release redemptions of order %d", orderID)
	}
	return nil
}

// Upsert inserts or updates c by code and replaces its eligibility sets in
// one transaction.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		err := q.QueryRow(ctx, upsertCouponSQL,
			c.Code, string(c.Type), c.Value, c.Description, c.MinSubtotal,
			c.MaxUses, c.MaxUsesPerUser, c.StartsAt, c.EndsAt, c.IsActive,
		).Scan(&c.ID)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %q", c.Code)
		}

		for _, set := range []struct {
			clear, insert string
			ids           []int64
		}{
			{clearCouponProductsSQL, setCouponProductsSQL, c.EligibleProductIDs},
			{clearCouponCategoriesSQL, setCouponCategoriesSQL, c.EligibleCategoryIDs},
		} {
			if _, err := q.Exec(ctx, set.clear, c.ID); err != nil {
				return errors.Wrap(err, "clear eligibility")
			}
			if len(set.ids) == 0 {
				continue
			}
			if _, err := q.Exec(ctx, set.insert, c.ID, set.ids); err != nil {
				return errors.Wrap(err, "set eligibility")
			}
		}
		return nil
	})
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c   coupon.Coupon
		typ string
	)
	err := row.Scan(
		&c.ID, &c.Code, &typ, &c.Value, &c.Description, &c.MinSubtotal,
		&c.MaxUses, &c.MaxUsesPerUser, &c.StartsAt, &c.EndsAt, &c.IsActive,
	)
	c.Type = pricing.DiscountType(typ)
	return c, err
}
