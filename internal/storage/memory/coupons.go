package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// Coupons implements coupon.Repository. Row locks are implied by the store
// lock.
type Coupons struct{ *Store }

func (s Coupons) FindByCode(ctx context.Context, code string, _ bool) (*coupon.Coupon, error) {
	defer s.lock(ctx)()
	for _, c := range s.d.coupons {
		if strings.EqualFold(c.Code, code) {
			return &c, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (s Coupons) CountRedemptions(ctx context.Context, couponID int64) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, r := range s.d.redemptions {
		if r.CouponID == couponID {
			n++
		}
	}
	return n, nil
}

func (s Coupons) CountUserRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, r := range s.d.redemptions {
		if r.CouponID == couponID && r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s Coupons) Redeem(ctx context.Context, r coupon.Redemption) error {
	defer s.lock(ctx)()
	if _, ok := s.d.coupons[r.CouponID]; !ok {
		return coupon.ErrNotFound
	}
	s.d.redemptions = append(s.d.redemptions, r)
	return nil
}

func (s Coupons) Release(ctx context.Context, orderID int64) error {
	defer s.lock(ctx)()
	s.d.redemptions = slices.DeleteFunc(slices.Clone(s.d.redemptions), func(r coupon.Redemption) bool {
		return r.OrderID == orderID
	})
	return nil
}

// Upsert inserts c or replaces the coupon with the same code, keeping its ID.
func (s Coupons) Upsert(ctx context.Context, c *coupon.Coupon) error {
	defer s.lock(ctx)()
	for id, existing := range s.d.coupons {
		if strings.EqualFold(existing.Code, c.Code) {
			c.ID = id
			s.d.coupons[id] = *c
			return nil
		}
	}
	c.ID = s.d.nextID()
	s.d.coupons[c.ID] = *c
	return nil
}

// Redemptions returns every recorded redemption of the coupon.
func (s Coupons) Redemptions(ctx context.Context, couponID int64) []coupon.Redemption {
	defer s.lock(ctx)()
	var out []coupon.Redemption
	for _, r := range s.d.redemptions {
		if r.CouponID == couponID {
			out = append(out, r)
		}
	}
	return out
}
