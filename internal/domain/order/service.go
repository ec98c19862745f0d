package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/outbox"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// CartResolver finds the actor's active cart with its items and locks it for
// the rest of the transaction.
type CartResolver interface {
	ResolveForUpdate(ctx context.Context, actor identity.Actor) (*cart.Cart, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Tx        Transactor
	Carts     cart.Repository
	Resolver  CartResolver
	Products  product.Repository
	Coupons   coupon.Repository
	Validator coupon.Validator
	Orders    Repository
	Addresses identity.AddressBook
	Events    outbox.Enqueuer
	Calc      *pricing.Calculator

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service encapsulates order placement and fulfilment.
type Service struct {
	Deps
	now func() time.Time

	tracer   trace.Tracer
	placed   metric.Int64Counter
	rejected metric.Int64Counter
	revenue  metric.Float64Counter
}

// NewService creates an order Service. Nil providers fall back to the
// global otel providers.
func NewService(deps Deps) (*Service, error) {
	if deps.TracerProvider == nil {
		deps.TracerProvider = otel.GetTracerProvider()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = otel.GetMeterProvider()
	}
	meter := deps.MeterProvider.Meter(instrumentationName)

	s := &Service{
		Deps:   deps,
		now:    time.Now,
		tracer: deps.TracerProvider.Tracer(instrumentationName),
	}
	var err error
	if s.placed, err = meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.rejected, err = meter.Int64Counter("storefront.checkout.rejected",
		metric.WithDescription("Checkout attempts rejected with a user-facing error"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout.rejected")
	}
	if s.revenue, err = meter.Float64Counter("storefront.orders.revenue",
		metric.WithDescription("Sum of placed order totals"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.revenue")
	}
	return s, nil
}

// PlaceOrder converts the actor's cart into an order inside one transaction.
// On any error nothing is persisted and the cart is left untouched.
func (s *Service) PlaceOrder(ctx context.Context, actor identity.Actor, form CheckoutForm) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Bool("user.authenticated", actor.Authenticated())),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", Reason(rerr))))
		}
		span.End()
	}()

	form.Normalize()
	if err := form.Validate(actor); err != nil {
		return nil, err
	}

	var placed *Order
	if err := s.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.place(ctx, actor, form)
		if err != nil {
			return err
		}
		placed = o
		return nil
	}); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.public_id", placed.PublicID))
	s.placed.Add(ctx, 1)
	s.revenue.Add(ctx, placed.Totals.Total.InexactFloat64())
	return placed, nil
}

func (s *Service) place(ctx context.Context, actor identity.Actor, form CheckoutForm) (*Order, error) {
	c, err := s.Resolver.ResolveForUpdate(ctx, actor)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	lines, items, err := s.priceLines(ctx, c.Items)
	if err != nil {
		return nil, err
	}

	shipTo, err := s.shippingAddress(ctx, actor, form)
	if err != nil {
		return nil, err
	}

	var applied *coupon.Result
	if form.CouponCode != "" {
		applied, err = s.Validator.Validate(ctx, coupon.Request{
			Code:   form.CouponCode,
			Lines:  lines,
			UserID: actor.UserID,
			Lock:   true,
		})
		if err != nil {
			return nil, err
		}
	}

	params := pricing.Params{CountryCode: shipTo.CountryCode}
	if applied != nil {
		params.Coupon = applied.Discount
	}
	now := s.now()
	o := &Order{
		PublicID: NewPublicID(),
		UserID:   actor.UserID,
		Email:    form.Email,
		ShipTo:   shipTo,
		Status:   StatusCreated,
		Totals:   s.Calc.Calculate(lines, params),
		Notes:    form.Notes,
		Items:    items,
		PlacedAt: now,
	}
	if o.Email == "" {
		o.Email = actor.Email
	}
	if applied != nil {
		o.CouponCode = applied.Coupon.Code
	}

	if err := s.Orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	if err := s.Orders.AddItems(ctx, o.ID, o.Items); err != nil {
		return nil, errors.Wrap(err, "add order items")
	}
	if err := s.decrementStock(ctx, o.Items); err != nil {
		return nil, err
	}
	if applied != nil {
		if err := s.Coupons.Redeem(ctx, coupon.Redemption{
			CouponID:   applied.Coupon.ID,
			UserID:     actor.UserID,
			OrderID:    o.ID,
			RedeemedAt: now,
		}); err != nil {
			return nil, errors.Wrap(err, "redeem coupon")
		}
	}
	if err := s.Carts.DeleteItems(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	if err := s.Carts.SetStatus(ctx, c.ID, cart.StatusConverted); err != nil {
		return nil, errors.Wrap(err, "convert cart")
	}
	if err := s.Events.Enqueue(ctx, placedEvent(o)); err != nil {
		return nil, errors.Wrap(err, "enqueue event")
	}
	return o, nil
}

// priceLines loads live products for the cart and checks each line in cart
// order, so the first offending product is reported.
func (s *Service) priceLines(ctx context.Context, cartItems []cart.Item) ([]pricing.Line, []Item, error) {
	ids := make([]int64, len(cartItems))
	for i, it := range cartItems {
		ids[i] = it.ProductID
	}
	fetched, err := s.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	lines := make([]pricing.Line, len(cartItems))
	items := make([]Item, len(cartItems))
	for i, it := range cartItems {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, nil, errors.Wrapf(product.ErrNotFound, "product %d", it.ProductID)
		}
		if !p.Status.Purchasable() {
			return nil, nil, errors.Wrapf(cart.ErrProductUnavailable, "product %d", p.ID)
		}
		if it.Quantity > p.Stock {
			return nil, nil, &cart.InsufficientStockError{ProductID: p.ID, Requested: it.Quantity, Available: p.Stock}
		}
		lines[i] = pricing.Line{ProductID: p.ID, CategoryID: p.CategoryID, UnitPrice: p.Price, Quantity: it.Quantity}
		items[i] = Item{ProductID: p.ID, ProductName: p.Name, UnitPrice: p.Price, Quantity: it.Quantity}
	}
	return lines, items, nil
}

// decrementStock applies conditional decrements in ascending product id
// order so concurrent checkouts lock rows in the same order.
func (s *Service) decrementStock(ctx context.Context, items []Item) error {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b Item) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		}
		return 0
	})
	for _, it := range sorted {
		err := s.Products.DecrementStock(ctx, it.ProductID, it.Quantity)
		if errors.Is(err, product.ErrInsufficientStock) {
			stockErr := &cart.InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity}
			if p, err := s.Products.GetByID(ctx, it.ProductID); err == nil {
				stockErr.Available = p.Stock
			}
			return stockErr
		}
		if err != nil {
			return errors.Wrapf(err, "decrement stock of product %d", it.ProductID)
		}
	}
	return nil
}

func (s *Service) shippingAddress(ctx context.Context, actor identity.Actor, form CheckoutForm) (identity.Address, error) {
	if !form.UseStoredAddress {
		return form.Address, nil
	}
	a, err := s.Addresses.DefaultAddress(ctx, actor.UserID)
	if errors.Is(err, identity.ErrNoAddress) {
		return identity.Address{}, ErrNoStoredAddress
	}
	if err != nil {
		return identity.Address{}, errors.Wrap(err, "load stored address")
	}
	return *a, nil
}

// Lookup returns the order with the given public id.
func (s *Service) Lookup(ctx context.Context, publicID string) (*Order, error) {
	if !ValidPublicID(publicID) {
		return nil, ErrNotFound
	}
	o, err := s.Orders.GetByPublicID(ctx, publicID, false)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// StatusUpdate is a back-office status change.
type StatusUpdate struct {
	Status         Status
	Carrier        string
	TrackingNumber string
}

// UpdateStatus moves the order through its lifecycle. Canceling an order
// returns its items to stock when it has not shipped and releases its coupon
// redemption.
func (s *Service) UpdateStatus(ctx context.Context, publicID string, upd StatusUpdate) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.public_id", publicID),
			attribute.String("order.status", string(upd.Status)),
		),
	)
	defer span.End()

	if !ValidPublicID(publicID) {
		return nil, ErrNotFound
	}
	if !upd.Status.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": "unknown status"}}
	}

	var out *Order
	err := s.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.Orders.GetByPublicID(ctx, publicID, true)
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "get order")
		}

		from := o.Status
		if !from.CanTransition(upd.Status) {
			return &TransitionError{From: from, To: upd.Status}
		}

		now := s.now()
		o.Status = upd.Status
		switch upd.Status {
		case StatusShipped:
			o.ShippedAt = &now
			o.Carrier = upd.Carrier
			o.TrackingNumber = upd.TrackingNumber
		case StatusDelivered:
			o.DeliveredAt = &now
		case StatusCanceled:
			o.CanceledAt = &now
			if !from.Shipped() {
				if err := s.restock(ctx, o.Items); err != nil {
					return err
				}
			}
			if o.CouponCode != "" {
				if err := s.Coupons.Release(ctx, o.ID); err != nil {
					return errors.Wrap(err, "release coupon")
				}
			}
		}

		if err := s.Orders.UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update status")
		}
		if err := s.Events.Enqueue(ctx, statusChangedEvent(o, from, now)); err != nil {
			return errors.Wrap(err, "enqueue event")
		}
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *Service) restock(ctx context.Context, items []Item) error {
	for _, it := range items {
		if it.ProductID == 0 {
			continue
		}
		if err := s.Products.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			if errors.Is(err, product.ErrNotFound) {
				continue
			}
			return errors.Wrapf(err, "restock product %d", it.ProductID)
		}
	}
	return nil
}
