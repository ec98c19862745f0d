package memory

import (
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/cart"
)

// Carts implements cart.Repository.
type Carts struct{ *Store }

func (s Carts) FindActiveByUser(ctx context.Context, userID int64) (*cart.Cart, error) {
	defer s.lock(ctx)()
	for _, c := range s.d.carts {
		if c.UserID == userID && c.Status == cart.StatusActive {
			return &c, nil
		}
	}
	return nil, cart.ErrCartNotFound
}

func (s Carts) FindActiveByToken(ctx context.Context, token string) (*cart.Cart, error) {
	defer s.lock(ctx)()
	for _, c := range s.d.carts {
		if c.Token == token && c.UserID == 0 && c.Status == cart.StatusActive {
			return &c, nil
		}
	}
	return nil, cart.ErrCartNotFound
}

func (s Carts) FindByID(ctx context.Context, id int64) (*cart.Cart, error) {
	defer s.lock(ctx)()
	c, ok := s.d.carts[id]
	if !ok {
		return nil, cart.ErrCartNotFound
	}
	c.Items = slices.Clone(s.d.cartItems[id])
	return &c, nil
}

func (s Carts) Create(ctx context.Context, c *cart.Cart) error {
	defer s.lock(ctx)()
	if c.UserID != 0 && c.Status == cart.StatusActive {
		for _, other := range s.d.carts {
			if other.UserID == c.UserID && other.Status == cart.StatusActive {
				return cart.ErrActiveCartExists
			}
		}
	}
	c.ID = s.d.nextID()
	stored := *c
	stored.Items = nil
	s.d.carts[c.ID] = stored
	return nil
}

func (s Carts) Items(ctx context.Context, cartID int64) ([]cart.Item, error) {
	defer s.lock(ctx)()
	return slices.Clone(s.d.cartItems[cartID]), nil
}

func (s Carts) SetItemQuantity(ctx context.Context, cartID, productID int64, qty int) error {
	defer s.lock(ctx)()
	if qty < 1 {
		return errors.Errorf("quantity %d violates check constraint", qty)
	}
	if _, ok := s.d.carts[cartID]; !ok {
		return cart.ErrCartNotFound
	}
	if _, ok := s.d.products[productID]; !ok {
		return errors.Errorf("product %d does not exist", productID)
	}

	items := slices.Clone(s.d.cartItems[cartID])
	i := slices.IndexFunc(items, func(it cart.Item) bool { return it.ProductID == productID })
	if i >= 0 {
		items[i].Quantity = qty
	} else {
		items = append(items, cart.Item{ProductID: productID, Quantity: qty})
	}
	s.d.cartItems[cartID] = items
	return nil
}

func (s Carts) DeleteItem(ctx context.Context, cartID, productID int64) error {
	defer s.lock(ctx)()
	s.d.cartItems[cartID] = slices.DeleteFunc(slices.Clone(s.d.cartItems[cartID]), func(it cart.Item) bool {
		return it.ProductID == productID
	})
	return nil
}

func (s Carts) DeleteItems(ctx context.Context, cartID int64) error {
	defer s.lock(ctx)()
	delete(s.d.cartItems, cartID)
	return nil
}

// AssignUser hands an anonymous cart to a user; the token and expiry are
// cleared.
func (s Carts) AssignUser(ctx context.Context, cartID, userID int64) error {
	defer s.lock(ctx)()
	c, ok := s.d.carts[cartID]
	if !ok {
		return cart.ErrCartNotFound
	}
	for id, other := range s.d.carts {
		if id != cartID && other.UserID == userID && other.Status == cart.StatusActive {
			return cart.ErrActiveCartExists
		}
	}
	c.UserID = userID
	c.Token = ""
	c.ExpiresAt = nil
	s.d.carts[cartID] = c
	return nil
}

// Lock only checks the cart is still active; the store lock already
// serializes transactions.
func (s Carts) Lock(ctx context.Context, cartID int64) error {
	defer s.lock(ctx)()
	if c, ok := s.d.carts[cartID]; !ok || c.Status != cart.StatusActive {
		return cart.ErrCartNotFound
	}
	return nil
}

func (s Carts) SetStatus(ctx context.Context, cartID int64, status cart.Status) error {
	defer s.lock(ctx)()
	c, ok := s.d.carts[cartID]
	if !ok || c.Status != cart.StatusActive {
		return cart.ErrCartNotFound
	}
	c.Status = status
	s.d.carts[cartID] = c
	return nil
}

func (s Carts) Delete(ctx context.Context, cartID int64) error {
	defer s.lock(ctx)()
	delete(s.d.carts, cartID)
	delete(s.d.cartItems, cartID)
	return nil
}
