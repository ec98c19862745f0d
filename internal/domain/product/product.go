package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned by DecrementStock when the conditional
	// update matched no row.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Status is the catalog lifecycle state of a product.
type Status string

const (
	StatusActive   Status = "active"
	StatusDraft    Status = "draft"
	StatusArchived Status = "archived"
)

// Purchasable reports whether products in this state can be bought.
func (s Status) Purchasable() bool {
	return s == StatusActive
}

// Product represents a catalog item.
type Product struct {
	ID             int64
	SKU            string
	Name           string
	Description    string
	Price          decimal.Decimal
	CompareAtPrice decimal.NullDecimal
	Stock          int
	Status         Status
	CategoryID     int64
	CreatedAt      time.Time
}

// Repository defines catalog persistence operations.
type Repository interface {
	List(ctx context.Context, params ListParams) ([]Product, error)
	GetByID(ctx context.Context, id int64) (*Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// DecrementStock subtracts qty from the product's stock only if at least
	// qty units are available. It returns ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, id int64, qty int) error
	IncrementStock(ctx context.Context, id int64, qty int) error
}
