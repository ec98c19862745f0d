package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when no order has the requested public id.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyCart is returned when checking out a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNoStoredAddress is returned when the stored address was requested
	// but the shopper has none.
	ErrNoStoredAddress = errors.New("no stored address")
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusCreated    Status = "created"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCanceled   Status = "canceled"
	StatusRefunded   Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusCreated:    {StatusPaid, StatusCanceled},
	StatusPaid:       {StatusProcessing, StatusCanceled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCanceled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Shipped reports whether goods have left the warehouse in this state.
func (s Status) Shipped() bool {
	return s == StatusShipped || s == StatusDelivered
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
}

// Is makes the error match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Order is the durable record of a placed checkout. Monetary fields and
// item prices are snapshots and never change after placement.
type Order struct {
	ID       int64
	PublicID string
	// UserID is zero for guest checkouts.
	UserID         int64
	Email          string
	ShipTo         identity.Address
	Status         Status
	Totals         pricing.Totals
	CouponCode     string
	Notes          string
	Carrier        string
	TrackingNumber string
	Items          []Item
	PlacedAt       time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CanceledAt     *time.Time
}

// Item is an order line. ProductID is zero once the product was deleted.
type Item struct {
	ID          int64
	ProductID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// LineTotal returns UnitPrice * Quantity rounded to cents.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order header and sets o.ID.
	Create(ctx context.Context, o *Order) error
	AddItems(ctx context.Context, orderID int64, items []Item) error
	// GetByPublicID returns the order with its items or ErrNotFound. When
	// lock is true the row stays locked until the transaction ends.
	GetByPublicID(ctx context.Context, publicID string, lock bool) (*Order, error)
	// UpdateStatus persists Status, Carrier, TrackingNumber and the
	// fulfilment timestamps of o.
	UpdateStatus(ctx context.Context, o *Order) error
}

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
