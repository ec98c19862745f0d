package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/pricing"
)

// Request is the input of a coupon validation.
type Request struct {
	Code string
	// Lines are priced with live product prices.
	Lines []pricing.Line
	// UserID is zero for anonymous shoppers.
	UserID int64
	// Lock takes a row lock on the coupon; set it when validating inside the
	// order placement transaction.
	Lock bool
}

// Result is a successfully validated coupon.
type Result struct {
	Coupon   *Coupon
	Discount *pricing.Discount
}

// Validator checks a coupon code against a cart.
type Validator interface {
	Validate(ctx context.Context, req Request) (*Result, error)
}

// RepoValidator implements Validator on top of a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

var _ Validator = (*RepoValidator)(nil)

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate runs the checks in order and stops at the first failure:
// existence, active window, minimum subtotal, global cap, per-user cap,
// eligibility.
func (v *RepoValidator) Validate(ctx context.Context, req Request) (*Result, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := v.repo.FindByCode(ctx, code, req.Lock)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.IsActive {
		return nil, ErrNotFound
	}

	now := v.now()
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return nil, ErrNotYetActive
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return nil, ErrExpired
	}

	if c.MinSubtotal.Valid && pricing.Subtotal(req.Lines).LessThan(c.MinSubtotal.Decimal) {
		return nil, ErrMinSubtotalNotMet
	}

	if c.MaxUses > 0 {
		used, err := v.repo.CountRedemptions(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "count redemptions")
		}
		if used >= c.MaxUses {
			return nil, ErrExhausted
		}
	}

	if c.MaxUsesPerUser > 0 {
		if req.UserID == 0 {
			return nil, ErrPerUserLimitExceeded
		}
		used, err := v.repo.CountUserRedemptions(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		if used >= c.MaxUsesPerUser {
			return nil, ErrPerUserLimitExceeded
		}
	}

	d := c.Discount()
	if d.Restricted() && !anyEligible(req.Lines, d) {
		return nil, ErrNoEligibleItems
	}

	return &Result{Coupon: c, Discount: d}, nil
}

func anyEligible(lines []pricing.Line, d *pricing.Discount) bool {
	for _, l := range lines {
		if d.Eligible(l) {
			return true
		}
	}
	return false
}
