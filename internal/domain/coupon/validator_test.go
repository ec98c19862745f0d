package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/pricing"
)

type mockCouponRepo struct {
	coupon    *Coupon
	err       error
	countErr  error
	uses      int
	userUses  map[int64]int
	lastLock  bool
	redeemed  []Redemption
	upserted  []*Coupon
	lastCode  string
	userCalls int
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string, lock bool) (*Coupon, error) {
	m.lastCode = code
	m.lastLock = lock
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil {
		return nil, ErrNotFound
	}
	return m.coupon, nil
}

func (m *mockCouponRepo) CountRedemptions(_ context.Context, _ int64) (int, error) {
	return m.uses, m.countErr
}

func (m *mockCouponRepo) CountUserRedemptions(_ context.Context, _, userID int64) (int, error) {
	m.userCalls++
	return m.userUses[userID], m.countErr
}

func (m *mockCouponRepo) Redeem(_ context.Context, r Redemption) error {
	m.redeemed = append(m.redeemed, r)
	return nil
}

func (m *mockCouponRepo) Release(context.Context, int64) error {
	return nil
}

func (m *mockCouponRepo) Upsert(_ context.Context, c *Coupon) error {
	m.upserted = append(m.upserted, c)
	return nil
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	lines := []pricing.Line{
		{ProductID: 1, CategoryID: 10, UnitPrice: d("10.00"), Quantity: 2},
		{ProductID: 2, CategoryID: 20, UnitPrice: d("5.00"), Quantity: 1},
	}
	base := func(mut func(c *Coupon)) *Coupon {
		c := &Coupon{
			ID:       1,
			Code:     "SAVE10",
			Type:     pricing.DiscountPercent,
			Value:    d("10"),
			IsActive: true,
		}
		if mut != nil {
			mut(c)
		}
		return c
	}

	tests := []struct {
		name    string
		repo    *mockCouponRepo
		code    string
		userID  int64
		wantErr error
	}{
		{
			name: "valid code",
			repo: &mockCouponRepo{coupon: base(nil)},
			code: "SAVE10",
		},
		{
			name:    "unknown code",
			repo:    &mockCouponRepo{},
			code:    "BOGUS",
			wantErr: ErrNotFound,
		},
		{
			name:    "blank code",
			repo:    &mockCouponRepo{coupon: base(nil)},
			code:    "   ",
			wantErr: ErrNotFound,
		},
		{
			name:    "inactive coupon",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.IsActive = false })},
			code:    "SAVE10",
			wantErr: ErrNotFound,
		},
		{
			name:    "not yet active",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.StartsAt = &futureTime })},
			code:    "SAVE10",
			wantErr: ErrNotYetActive,
		},
		{
			name:    "expired",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.EndsAt = &pastTime })},
			code:    "SAVE10",
			wantErr: ErrExpired,
		},
		{
			name: "inside window",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.StartsAt = &pastTime
				c.EndsAt = &futureTime
			})},
			code: "SAVE10",
		},
		{
			name:    "min subtotal not met",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.MinSubtotal = decimal.NewNullDecimal(d("25.01")) })},
			code:    "SAVE10",
			wantErr: ErrMinSubtotalNotMet,
		},
		{
			name: "min subtotal met exactly",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) { c.MinSubtotal = decimal.NewNullDecimal(d("25.00")) })},
			code: "SAVE10",
		},
		{
			name:    "global cap reached",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.MaxUses = 3 }), uses: 3},
			code:    "SAVE10",
			wantErr: ErrExhausted,
		},
		{
			name: "global cap has room",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) { c.MaxUses = 3 }), uses: 2},
			code: "SAVE10",
		},
		{
			name:    "per-user cap reached",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.MaxUsesPerUser = 1 }), userUses: map[int64]int{42: 1}},
			code:    "SAVE10",
			userID:  42,
			wantErr: ErrPerUserLimitExceeded,
		},
		{
			name:   "per-user cap for another user",
			repo:   &mockCouponRepo{coupon: base(func(c *Coupon) { c.MaxUsesPerUser = 1 }), userUses: map[int64]int{42: 1}},
			code:   "SAVE10",
			userID: 7,
		},
		{
			name:    "per-user cap rejects anonymous",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.MaxUsesPerUser = 5 })},
			code:    "SAVE10",
			wantErr: ErrPerUserLimitExceeded,
		},
		{
			name:    "no eligible product",
			repo:    &mockCouponRepo{coupon: base(func(c *Coupon) { c.EligibleProductIDs = []int64{99} })},
			code:    "SAVE10",
			wantErr: ErrNoEligibleItems,
		},
		{
			name: "eligible by category",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.EligibleProductIDs = []int64{99}
				c.EligibleCategoryIDs = []int64{20}
			})},
			code: "SAVE10",
		},
		{
			name: "expired wins over exhausted",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.EndsAt = &pastTime
				c.MaxUses = 1
			}), uses: 1},
			code:    "SAVE10",
			wantErr: ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(tt.repo)
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), Request{
				Code:   tt.code,
				Lines:  lines,
				UserID: tt.userID,
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.repo.coupon.Type, got.Discount.Type)
			assert.True(t, tt.repo.coupon.Value.Equal(got.Discount.Value))
		})
	}
}

func TestRepoValidator_PassesLock(t *testing.T) {
	repo := &mockCouponRepo{coupon: &Coupon{ID: 1, Code: "LOCKED", Type: pricing.DiscountFixed, Value: d("1"), IsActive: true}}
	v := NewRepoValidator(repo)

	_, err := v.Validate(context.Background(), Request{Code: " locked ", Lock: true})
	require.NoError(t, err)
	assert.True(t, repo.lastLock)
	assert.Equal(t, "locked", repo.lastCode)
}

func TestRepoValidator_RepositoryError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("db down")}
	v := NewRepoValidator(repo)

	_, err := v.Validate(context.Background(), Request{Code: "X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup coupon")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRepoValidator_CountError(t *testing.T) {
	repo := &mockCouponRepo{
		coupon:   &Coupon{ID: 1, Code: "CAP", Type: pricing.DiscountFixed, Value: d("1"), IsActive: true, MaxUses: 10},
		countErr: errors.New("timeout"),
	}
	v := NewRepoValidator(repo)

	_, err := v.Validate(context.Background(), Request{Code: "CAP"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count redemptions")
}
