package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Rejection reasons, checked in this order by the validator.
var (
	// ErrNotFound is returned when the code does not exist or is inactive.
	ErrNotFound = errors.New("coupon not found")
	// ErrNotYetActive is returned before the coupon's start time.
	ErrNotYetActive = errors.New("coupon is not active yet")
	// ErrExpired is returned after the coupon's end time.
	ErrExpired = errors.New("coupon expired")
	// ErrMinSubtotalNotMet is returned when the cart subtotal is below the minimum.
	ErrMinSubtotalNotMet = errors.New("cart subtotal below coupon minimum")
	// ErrExhausted is returned when the global redemption cap is reached.
	ErrExhausted = errors.New("coupon usage limit reached")
	// ErrPerUserLimitExceeded is returned when the shopper reached the per-user
	// cap, or is anonymous and the coupon has one.
	ErrPerUserLimitExceeded = errors.New("coupon per-user limit reached")
	// ErrNoEligibleItems is returned when no cart line matches the coupon's
	// product or category restrictions.
	ErrNoEligibleItems = errors.New("no eligible items for coupon")
)

// Coupon is a named discount rule with eligibility and usage constraints.
// Zero MaxUses / MaxUsesPerUser mean unlimited; invalid MinSubtotal means none.
type Coupon struct {
	ID                  int64
	Code                string
	Type                pricing.DiscountType
	Value               decimal.Decimal
	Description         string
	MinSubtotal         decimal.NullDecimal
	MaxUses             int
	MaxUsesPerUser      int
	StartsAt            *time.Time
	EndsAt              *time.Time
	IsActive            bool
	EligibleProductIDs  []int64
	EligibleCategoryIDs []int64
}

// Discount returns the calculator input for this coupon.
func (c *Coupon) Discount() *pricing.Discount {
	return &pricing.Discount{
		Type:                c.Type,
		Value:               c.Value,
		EligibleProductIDs:  c.EligibleProductIDs,
		EligibleCategoryIDs: c.EligibleCategoryIDs,
	}
}

// Redemption records one successful use of a coupon.
type Redemption struct {
	CouponID   int64
	UserID     int64
	OrderID    int64
	RedeemedAt time.Time
}

// Repository provides coupon lookup, usage accounting and upserts.
type Repository interface {
	// FindByCode looks up a coupon case-insensitively. When lock is true and
	// the call runs inside a transaction, the coupon row stays locked until
	// the transaction ends. Returns ErrNotFound for unknown codes.
	FindByCode(ctx context.Context, code string, lock bool) (*Coupon, error)
	CountRedemptions(ctx context.Context, couponID int64) (int, error)
	CountUserRedemptions(ctx context.Context, couponID, userID int64) (int, error)
	Redeem(ctx context.Context, r Redemption) error
	// Release deletes the redemptions recorded for an order so they no
	// longer count towards the coupon's limits.
	Release(ctx context.Context, orderID int64) error
	Upsert(ctx context.Context, c *Coupon) error
}
