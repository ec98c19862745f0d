package cart_test

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

type fixture struct {
	store *memory.Store
	svc   *cart.Service
	now   time.Time
	mug   *product.Product
	pot   *product.Product
	draft *product.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: memory.New(),
		now:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	save := func(p *product.Product) *product.Product {
		require.NoError(t, f.store.Products().SaveProduct(ctx, p))
		return p
	}
	f.mug = save(&product.Product{SKU: "MUG", Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 5, Status: product.StatusActive, CategoryID: 1})
	f.pot = save(&product.Product{SKU: "POT", Name: "Teapot", Price: decimal.RequireFromString("24.50"), Stock: 2, Status: product.StatusActive, CategoryID: 2})
	f.draft = save(&product.Product{SKU: "DRAFT", Name: "Draft", Price: decimal.RequireFromString("1.00"), Stock: 10, Status: product.StatusDraft})

	f.svc = cart.NewService(f.store.Carts(), f.store.Products(), f.store, pricing.NewCalculator(nil))
	f.svc.SetNow(func() time.Time { return f.now })
	return f
}

func quantities(c *cart.Cart) map[int64]int {
	out := make(map[int64]int, len(c.Items))
	for _, it := range c.Items {
		out[it.ProductID] = it.Quantity
	}
	return out
}

func TestService_AddItemAnonymous(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.svc.AddItem(ctx, identity.Actor{}, f.mug.ID, 2)
	require.NoError(t, err)
	require.NotEmpty(t, c.Token)
	require.NotNil(t, c.ExpiresAt)
	assert.Equal(t, f.now.Add(cart.TokenTTL), *c.ExpiresAt)
	assert.Zero(t, c.UserID)

	anon := identity.Actor{CartToken: c.Token}
	c2, err := f.svc.AddItem(ctx, anon, f.mug.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ID, c2.ID)
	assert.Equal(t, map[int64]int{f.mug.ID: 3}, quantities(c2))

	id, ok, err := f.svc.ResolveCartID(ctx, anon)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.ID, id)
}

func TestService_AddItemErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := identity.Actor{UserID: 1}

	_, err := f.svc.AddItem(ctx, user, f.mug.ID, 3)
	require.NoError(t, err)

	tests := []struct {
		name      string
		productID int64
		qty       int
		wantErr   error
	}{
		{name: "zero quantity", productID: f.mug.ID, qty: 0, wantErr: cart.ErrInvalidQuantity},
		{name: "negative quantity", productID: f.mug.ID, qty: -1, wantErr: cart.ErrInvalidQuantity},
		{name: "unknown product", productID: 999, qty: 1, wantErr: product.ErrNotFound},
		{name: "draft product", productID: f.draft.ID, qty: 1, wantErr: cart.ErrProductUnavailable},
		{name: "cumulative over stock", productID: f.mug.ID, qty: 3, wantErr: product.ErrInsufficientStock},
		{name: "single request over stock", productID: f.pot.ID, qty: 3, wantErr: product.ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddItem(ctx, user, tt.productID, tt.qty)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = f.svc.AddItem(ctx, user, f.mug.ID, 3)
	var stockErr *cart.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, f.mug.ID, stockErr.ProductID)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)

	c, err := f.svc.Resolve(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{f.mug.ID: 3}, quantities(c))
}

func TestService_UpdateItemQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := identity.Actor{UserID: 1}

	_, err := f.svc.UpdateItemQuantity(ctx, user, f.mug.ID, 1)
	require.ErrorIs(t, err, cart.ErrCartNotFound)

	_, err = f.svc.AddItem(ctx, user, f.mug.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, user, f.pot.ID, 1)
	require.NoError(t, err)

	c, err := f.svc.UpdateItemQuantity(ctx, user, f.mug.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{f.mug.ID: 4, f.pot.ID: 1}, quantities(c))

	_, err = f.svc.UpdateItemQuantity(ctx, user, f.pot.ID, 3)
	require.ErrorIs(t, err, product.ErrInsufficientStock)

	_, err = f.svc.UpdateItemQuantity(ctx, user, f.draft.ID, 1)
	require.ErrorIs(t, err, cart.ErrItemNotFound)

	c, err = f.svc.UpdateItemQuantity(ctx, user, f.mug.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{f.pot.ID: 1}, quantities(c))
}

func TestService_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := identity.Actor{UserID: 1}

	require.ErrorIs(t, f.svc.Clear(ctx, user), cart.ErrCartNotFound)

	_, err := f.svc.AddItem(ctx, user, f.mug.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, user, f.pot.ID, 1)
	require.NoError(t, err)

	c, err := f.svc.RemoveItem(ctx, user, f.mug.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{f.pot.ID: 1}, quantities(c))

	require.NoError(t, f.svc.Clear(ctx, user))
	c, err = f.svc.Resolve(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestService_ExpiredTokenCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.svc.AddItem(ctx, identity.Actor{}, f.mug.ID, 1)
	require.NoError(t, err)
	anon := identity.Actor{CartToken: c.Token}

	f.now = f.now.Add(cart.TokenTTL)

	_, ok, err := f.svc.ResolveCartID(ctx, anon)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := f.svc.AddItem(ctx, anon, f.mug.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, c.ID, fresh.ID)
	assert.NotEqual(t, c.Token, fresh.Token)
}

func TestService_Merge(t *testing.T) {
	ctx := context.Background()
	const userID = 42
	user := identity.Actor{UserID: userID}

	t.Run("reassign when user has no cart", func(t *testing.T) {
		f := newFixture(t)
		anon, err := f.svc.AddItem(ctx, identity.Actor{}, f.mug.ID, 2)
		require.NoError(t, err)

		c, err := f.svc.Merge(ctx, userID, anon.Token, true)
		require.NoError(t, err)
		assert.Equal(t, anon.ID, c.ID)
		assert.Equal(t, int64(userID), c.UserID)
		assert.Empty(t, c.Token)
		assert.Equal(t, map[int64]int{f.mug.ID: 2}, quantities(c))

		_, ok, err := f.svc.ResolveCartID(ctx, identity.Actor{CartToken: anon.Token})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("merge sums overlapping lines", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddItem(ctx, user, f.mug.ID, 1)
		require.NoError(t, err)
		anon, err := f.svc.AddItem(ctx, identity.Actor{}, f.mug.ID, 2)
		require.NoError(t, err)
		_, err = f.svc.AddItem(ctx, identity.Actor{CartToken: anon.Token}, f.pot.ID, 1)
		require.NoError(t, err)

		c, err := f.svc.Merge(ctx, userID, anon.Token, true)
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{f.mug.ID: 3, f.pot.ID: 1}, quantities(c))

		_, err = f.store.Carts().FindByID(ctx, anon.ID)
		require.ErrorIs(t, err, cart.ErrCartNotFound)
	})

	t.Run("discard keeps user cart", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddItem(ctx, user, f.mug.ID, 1)
		require.NoError(t, err)
		anon, err := f.svc.AddItem(ctx, identity.Actor{}, f.pot.ID, 2)
		require.NoError(t, err)

		c, err := f.svc.Merge(ctx, userID, anon.Token, false)
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{f.mug.ID: 1}, quantities(c))

		_, err = f.store.Carts().FindByID(ctx, anon.ID)
		require.ErrorIs(t, err, cart.ErrCartNotFound)
	})

	t.Run("no anonymous cart", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Merge(ctx, userID, "missing", true)
		require.ErrorIs(t, err, cart.ErrCartNotFound)
	})

	t.Run("requires user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Merge(ctx, 0, "token", true)
		require.Error(t, err)
	})
}

func TestService_View(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := identity.Actor{UserID: 1}

	empty, err := f.svc.View(ctx, user, "US")
	require.NoError(t, err)
	assert.Nil(t, empty.Cart)
	assert.True(t, empty.Totals.Total.IsZero())

	_, err = f.svc.AddItem(ctx, user, f.mug.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, user, f.pot.ID, 1)
	require.NoError(t, err)

	v, err := f.svc.View(ctx, user, "US")
	require.NoError(t, err)
	require.Len(t, v.Lines, 2)
	assert.True(t, v.Lines[0].LineTotal.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, v.Totals.Subtotal.Equal(decimal.RequireFromString("44.50")), v.Totals.Subtotal.String())
	assert.True(t, v.Totals.Total.Equal(decimal.RequireFromString("44.50")))
}

func TestService_FindError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := cart.NewService(failingCarts{f.store.Carts()}, f.store.Products(), f.store, pricing.NewCalculator(nil))

	_, _, err := svc.ResolveCartID(ctx, identity.Actor{UserID: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, cart.ErrCartNotFound)
}

type failingCarts struct {
	cart.Repository
}

func (failingCarts) FindActiveByUser(context.Context, int64) (*cart.Cart, error) {
	return nil, errors.New("connection reset")
}

// recordingCarts logs the order of Lock and Items calls.
type recordingCarts struct {
	cart.Repository
	calls *[]string
}

func (r recordingCarts) Lock(ctx context.Context, cartID int64) error {
	*r.calls = append(*r.calls, fmt.Sprintf("lock %d", cartID))
	return r.Repository.Lock(ctx, cartID)
}

func (r recordingCarts) Items(ctx context.Context, cartID int64) ([]cart.Item, error) {
	*r.calls = append(*r.calls, fmt.Sprintf("items %d", cartID))
	return r.Repository.Items(ctx, cartID)
}

func TestService_LocksCartBeforeReadingLines(t *testing.T) {
	ctx := context.Background()
	user := identity.Actor{UserID: 7}

	setup := func(t *testing.T) (*fixture, *cart.Service, *[]string, *cart.Cart) {
		t.Helper()
		f := newFixture(t)
		c, err := f.svc.AddItem(ctx, user, f.mug.ID, 1)
		require.NoError(t, err)
		calls := new([]string)
		svc := cart.NewService(recordingCarts{f.store.Carts(), calls}, f.store.Products(), f.store, pricing.NewCalculator(nil))
		return f, svc, calls, c
	}

	t.Run("AddItem", func(t *testing.T) {
		f, svc, calls, c := setup(t)
		got, err := svc.AddItem(ctx, user, f.mug.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{f.mug.ID: 2}, quantities(got))
		require.GreaterOrEqual(t, len(*calls), 2)
		assert.Equal(t, []string{fmt.Sprintf("lock %d", c.ID), fmt.Sprintf("items %d", c.ID)}, (*calls)[:2])
	})

	t.Run("UpdateItemQuantity", func(t *testing.T) {
		f, svc, calls, c := setup(t)
		_, err := svc.UpdateItemQuantity(ctx, user, f.mug.ID, 3)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(*calls), 2)
		assert.Equal(t, []string{fmt.Sprintf("lock %d", c.ID), fmt.Sprintf("items %d", c.ID)}, (*calls)[:2])
	})

	t.Run("Merge", func(t *testing.T) {
		f, svc, calls, c := setup(t)
		anon, err := f.svc.AddItem(ctx, identity.Actor{}, f.mug.ID, 2)
		require.NoError(t, err)

		got, err := svc.Merge(ctx, user.UserID, anon.Token, true)
		require.NoError(t, err)
		assert.Equal(t, map[int64]int{f.mug.ID: 3}, quantities(got))
		require.GreaterOrEqual(t, len(*calls), 2)
		assert.Equal(t, []string{fmt.Sprintf("lock %d", anon.ID), fmt.Sprintf("lock %d", c.ID)}, (*calls)[:2])
	})
}

// convertedCarts reports every cart as converted once it is locked.
type convertedCarts struct {
	cart.Repository
}

func (convertedCarts) Lock(context.Context, int64) error {
	return cart.ErrCartNotFound
}

func TestService_AddItemAfterConcurrentCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old, err := f.svc.AddItem(ctx, identity.Actor{}, f.mug.ID, 1)
	require.NoError(t, err)

	svc := cart.NewService(convertedCarts{f.store.Carts()}, f.store.Products(), f.store, pricing.NewCalculator(nil))
	c, err := svc.AddItem(ctx, identity.Actor{CartToken: old.Token}, f.pot.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, c.ID)
	assert.NotEqual(t, old.Token, c.Token)
	assert.Equal(t, map[int64]int{f.pot.ID: 1}, quantities(c))

	_, err = svc.UpdateItemQuantity(ctx, identity.Actor{CartToken: old.Token}, f.mug.ID, 2)
	require.ErrorIs(t, err, cart.ErrCartNotFound)
}

// hiddenProducts drops one product from batch lookups, as if it had been
// deleted after it was added to a cart.
type hiddenProducts struct {
	product.Repository
	hidden int64
}

func (h hiddenProducts) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	all, err := h.Repository.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(p product.Product) bool { return p.ID == h.hidden }), nil
}

func TestService_ViewLogsMissingProducts(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))
	f := newFixture(t)
	user := identity.Actor{UserID: 3}

	_, err := f.svc.AddItem(ctx, user, f.mug.ID, 1)
	require.NoError(t, err)
	c, err := f.svc.AddItem(ctx, user, f.pot.ID, 1)
	require.NoError(t, err)

	svc := cart.NewService(f.store.Carts(), hiddenProducts{f.store.Products(), f.pot.ID}, f.store, pricing.NewCalculator(nil))
	v, err := svc.View(ctx, user, "US")
	require.NoError(t, err)
	require.Len(t, v.Lines, 1)
	assert.Equal(t, f.mug.ID, v.Lines[0].Product.ID)

	entries := logs.FilterMessage("Cart line references a missing product").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, c.ID, fields["cart_id"])
	assert.Equal(t, f.pot.ID, fields["product_id"])
}
