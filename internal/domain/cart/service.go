package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 999

// Service implements the cart store operations for an actor.
type Service struct {
	carts    Repository
	products product.Repository
	tx       Transactor
	calc     *pricing.Calculator
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository, tx Transactor, calc *pricing.Calculator) *Service {
	return &Service{
		carts:    carts,
		products: products,
		tx:       tx,
		calc:     calc,
		now:      time.Now,
	}
}

// Resolve returns the actor's active cart with its items: the user's cart
// when signed in, otherwise the anonymous cart for the token. It returns
// ErrCartNotFound when neither exists.
func (s *Service) Resolve(ctx context.Context, actor identity.Actor) (*Cart, error) {
	c, err := s.find(ctx, actor)
	if err != nil {
		return nil, err
	}
	items, err := s.carts.Items(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	c.Items = items
	return c, nil
}

// ResolveForUpdate is Resolve for use inside a transaction. The cart row
// stays locked until the transaction ends, so its lines cannot change and it
// cannot be converted by a concurrent checkout.
func (s *Service) ResolveForUpdate(ctx context.Context, actor identity.Actor) (*Cart, error) {
	c, err := s.findForUpdate(ctx, actor)
	if err != nil {
		return nil, err
	}
	items, err := s.carts.Items(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	c.Items = items
	return c, nil
}

// ResolveCartID returns the actor's active cart id, if any.
func (s *Service) ResolveCartID(ctx context.Context, actor identity.Actor) (int64, bool, error) {
	c, err := s.find(ctx, actor)
	if errors.Is(err, ErrCartNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return c.ID, true, nil
}

func (s *Service) find(ctx context.Context, actor identity.Actor) (*Cart, error) {
	var (
		c   *Cart
		err error
	)
	switch {
	case actor.Authenticated():
		c, err = s.carts.FindActiveByUser(ctx, actor.UserID)
	case actor.CartToken != "":
		c, err = s.carts.FindActiveByToken(ctx, actor.CartToken)
	default:
		return nil, ErrCartNotFound
	}
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, errors.Wrap(err, "find cart")
	}
	if c.Expired(s.now()) {
		return nil, ErrCartNotFound
	}
	return c, nil
}

func (s *Service) findForUpdate(ctx context.Context, actor identity.Actor) (*Cart, error) {
	c, err := s.find(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.lock(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) lock(ctx context.Context, cartID int64) error {
	err := s.carts.Lock(ctx, cartID)
	if errors.Is(err, ErrCartNotFound) {
		return ErrCartNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock cart")
	}
	return nil
}

// AddItem adds qty units of a product, creating the cart when the actor has
// none. The returned cart carries the anonymous token to hand back to the
// client.
func (s *Service) AddItem(ctx context.Context, actor identity.Actor, productID int64, qty int) (*Cart, error) {
	if qty < 1 || qty > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}

	var out *Cart
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.purchasable(ctx, productID)
		if err != nil {
			return err
		}

		c, err := s.findForUpdate(ctx, actor)
		switch {
		case errors.Is(err, ErrCartNotFound):
			if c, err = s.create(ctx, actor); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		items, err := s.carts.Items(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list cart items")
		}
		want := qty
		for _, it := range items {
			if it.ProductID == productID {
				want += it.Quantity
			}
		}
		if want > MaxLineQuantity {
			return ErrInvalidQuantity
		}
		if want > p.Stock {
			return &InsufficientStockError{ProductID: productID, Requested: want, Available: p.Stock}
		}
		if err := s.carts.SetItemQuantity(ctx, c.ID, productID, want); err != nil {
			return errors.Wrap(err, "set item quantity")
		}

		out, err = s.reload(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItemQuantity sets the quantity of an existing line. Zero removes it.
func (s *Service) UpdateItemQuantity(ctx context.Context, actor identity.Actor, productID int64, qty int) (*Cart, error) {
	if qty < 0 || qty > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}

	var out *Cart
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.findForUpdate(ctx, actor)
		if err != nil {
			return err
		}
		items, err := s.carts.Items(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "list cart items")
		}
		if !containsProduct(items, productID) {
			return ErrItemNotFound
		}

		if qty == 0 {
			if err := s.carts.DeleteItem(ctx, c.ID, productID); err != nil {
				return errors.Wrap(err, "delete item")
			}
		} else {
			p, err := s.purchasable(ctx, productID)
			if err != nil {
				return err
			}
			if qty > p.Stock {
				return &InsufficientStockError{ProductID: productID, Requested: qty, Available: p.Stock}
			}
			if err := s.carts.SetItemQuantity(ctx, c.ID, productID, qty); err != nil {
				return errors.Wrap(err, "set item quantity")
			}
		}

		out, err = s.reload(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveItem deletes the product's line from the actor's cart.
func (s *Service) RemoveItem(ctx context.Context, actor identity.Actor, productID int64) (*Cart, error) {
	c, err := s.find(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.carts.DeleteItem(ctx, c.ID, productID); err != nil {
		return nil, errors.Wrap(err, "delete item")
	}
	return s.reload(ctx, c)
}

// Clear deletes every line of the actor's cart.
func (s *Service) Clear(ctx context.Context, actor identity.Actor) error {
	c, err := s.find(ctx, actor)
	if err != nil {
		return err
	}
	if err := s.carts.DeleteItems(ctx, c.ID); err != nil {
		return errors.Wrap(err, "delete items")
	}
	return nil
}

// Merge folds the anonymous cart identified by token into the user's cart
// after sign-in, in one transaction:
//   - no anonymous cart: nothing happens;
//   - user has no active cart: the anonymous cart is reassigned to the user;
//   - shouldMerge: quantities of overlapping products are summed, the other
//     lines copied, and the anonymous cart deleted;
//   - otherwise the anonymous cart is discarded.
//
// It returns the user's active cart, or ErrCartNotFound if there is none.
func (s *Service) Merge(ctx context.Context, userID int64, token string, shouldMerge bool) (*Cart, error) {
	if userID == 0 {
		return nil, errors.New("merge requires a signed-in user")
	}

	var out *Cart
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		user := identity.Actor{UserID: userID}
		if token != "" {
			if err := s.mergeToken(ctx, userID, token, shouldMerge); err != nil {
				return err
			}
		}
		c, err := s.Resolve(ctx, user)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) mergeToken(ctx context.Context, userID int64, token string, shouldMerge bool) error {
	anon, err := s.findForUpdate(ctx, identity.Actor{CartToken: token})
	if errors.Is(err, ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	userCart, err := s.findForUpdate(ctx, identity.Actor{UserID: userID})
	if errors.Is(err, ErrCartNotFound) {
		if err := s.carts.AssignUser(ctx, anon.ID, userID); err != nil {
			return errors.Wrap(err, "assign cart")
		}
		return nil
	}
	if err != nil {
		return err
	}

	if shouldMerge {
		anonItems, err := s.carts.Items(ctx, anon.ID)
		if err != nil {
			return errors.Wrap(err, "list anonymous items")
		}
		userItems, err := s.carts.Items(ctx, userCart.ID)
		if err != nil {
			return errors.Wrap(err, "list user items")
		}
		have := make(map[int64]int, len(userItems))
		for _, it := range userItems {
			have[it.ProductID] = it.Quantity
		}
		for _, it := range anonItems {
			qty := min(have[it.ProductID]+it.Quantity, MaxLineQuantity)
			if err := s.carts.SetItemQuantity(ctx, userCart.ID, it.ProductID, qty); err != nil {
				return errors.Wrapf(err, "merge product %d", it.ProductID)
			}
		}
	}

	if err := s.carts.Delete(ctx, anon.ID); err != nil {
		return errors.Wrap(err, "delete anonymous cart")
	}
	return nil
}

func (s *Service) create(ctx context.Context, actor identity.Actor) (*Cart, error) {
	c := &Cart{
		Status:    StatusActive,
		CreatedAt: s.now(),
	}
	if actor.Authenticated() {
		c.UserID = actor.UserID
	} else {
		expires := s.now().Add(TokenTTL)
		c.Token = uuid.NewString()
		c.ExpiresAt = &expires
	}
	if err := s.carts.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	return c, nil
}

func (s *Service) reload(ctx context.Context, c *Cart) (*Cart, error) {
	items, err := s.carts.Items(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	out := *c
	out.Items = items
	return &out, nil
}

func (s *Service) purchasable(ctx context.Context, productID int64) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", productID)
	}
	if !p.Status.Purchasable() {
		return nil, ErrProductUnavailable
	}
	return p, nil
}

func containsProduct(items []Item, productID int64) bool {
	for _, it := range items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// ViewLine is a cart line joined with its live product.
type ViewLine struct {
	Product   product.Product
	Quantity  int
	LineTotal decimal.Decimal
}

// View is a priced snapshot of a cart.
type View struct {
	Cart   *Cart
	Lines  []ViewLine
	Totals pricing.Totals
}

// View returns the actor's cart with live prices and a totals preview for
// the destination country. An actor without a cart gets an empty view.
func (s *Service) View(ctx context.Context, actor identity.Actor, countryCode string) (*View, error) {
	c, err := s.Resolve(ctx, actor)
	if errors.Is(err, ErrCartNotFound) {
		return &View{Totals: s.calc.Calculate(nil, pricing.Params{CountryCode: countryCode})}, nil
	}
	if err != nil {
		return nil, err
	}

	products, err := s.products.GetByIDs(ctx, itemProductIDs(c.Items))
	if err != nil {
		return nil, errors.Wrap(err, "load cart products")
	}
	byID := make(map[int64]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	v := &View{Cart: c}
	lines := make([]pricing.Line, 0, len(c.Items))
	for _, it := range c.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			zctx.From(ctx).Warn("Cart line references a missing product",
				zap.Int64("cart_id", c.ID),
				zap.Int64("product_id", it.ProductID),
			)
			continue
		}
		l := pricing.Line{ProductID: p.ID, CategoryID: p.CategoryID, UnitPrice: p.Price, Quantity: it.Quantity}
		lines = append(lines, l)
		v.Lines = append(v.Lines, ViewLine{Product: p, Quantity: it.Quantity, LineTotal: l.Amount().Round(2)})
	}
	v.Totals = s.calc.Calculate(lines, pricing.Params{CountryCode: countryCode})
	return v, nil
}

func itemProductIDs(items []Item) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}
	return ids
}
