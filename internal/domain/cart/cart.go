package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
)

// TokenTTL is the lifetime of an anonymous cart and its cookie.
const TokenTTL = 30 * 24 * time.Hour

var (
	// ErrCartNotFound is returned when no active cart resolves for the actor.
	ErrCartNotFound = errors.New("cart not found")
	// ErrItemNotFound is returned when the cart has no line for the product.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned for quantities outside the allowed range.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrProductUnavailable is returned for products that are not active.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrActiveCartExists is returned by a Repository when a user would own
	// two active carts.
	ErrActiveCartExists = errors.New("user already has an active cart")
)

// InsufficientStockError reports a line whose quantity exceeds live stock.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Is makes the error match product.ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == product.ErrInsufficientStock
}

// Status is the lifecycle state of a cart.
type Status string

const (
	StatusActive    Status = "active"
	StatusConverted Status = "converted"
	StatusAbandoned Status = "abandoned"
)

// Cart is a pre-purchase collection of product lines owned by a user
// (UserID != 0) or an anonymous token.
type Cart struct {
	ID        int64
	UserID    int64
	Token     string
	Status    Status
	ExpiresAt *time.Time
	Items     []Item
	CreatedAt time.Time
}

// Expired reports whether the cart's expiry has passed at now.
func (c *Cart) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Item is a cart line. Quantity is always at least 1.
type Item struct {
	ProductID int64
	Quantity  int
}

// Repository persists carts and their lines.
type Repository interface {
	// FindActiveByUser and FindActiveByToken return ErrCartNotFound when no
	// active cart exists.
	FindActiveByUser(ctx context.Context, userID int64) (*Cart, error)
	FindActiveByToken(ctx context.Context, token string) (*Cart, error)
	FindByID(ctx context.Context, id int64) (*Cart, error)
	Create(ctx context.Context, c *Cart) error
	Items(ctx context.Context, cartID int64) ([]Item, error)
	// SetItemQuantity inserts the line or overwrites its quantity.
	SetItemQuantity(ctx context.Context, cartID, productID int64, qty int) error
	DeleteItem(ctx context.Context, cartID, productID int64) error
	DeleteItems(ctx context.Context, cartID int64) error
	AssignUser(ctx context.Context, cartID, userID int64) error
	// Lock holds the cart row until the transaction ends. It returns
	// ErrCartNotFound when the cart is no longer active.
	Lock(ctx context.Context, cartID int64) error
	// SetStatus moves an active cart to status. It returns ErrCartNotFound
	// when the cart is no longer active.
	SetStatus(ctx context.Context, cartID int64, status Status) error
	Delete(ctx context.Context, cartID int64) error
}

// Transactor runs fn inside a single database transaction. Repository calls
// made with the ctx passed to fn join that transaction; nested calls reuse it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
