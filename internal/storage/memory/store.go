// Package memory is an in-process implementation of every storefront
// repository, used for local development and tests.
//
// Transactions are serialized by a single mutex and rolled back by restoring
// a snapshot, which gives serializable isolation. Calls made outside InTx
// take the same mutex, so they never observe uncommitted writes.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/outbox"
)

var (
	_ cart.Transactor      = (*Store)(nil)
	_ order.Transactor     = (*Store)(nil)
	_ product.Repository   = Products{}
	_ cart.Repository      = Carts{}
	_ coupon.Repository    = Coupons{}
	_ order.Repository     = Orders{}
	_ identity.AddressBook = Users{}
	_ auth.Repository      = APIKeys{}
	_ outbox.Repository    = Outbox{}
)

// Store holds all tables in memory.
type Store struct {
	mu sync.Mutex
	d  *data
}

func (s *Store) Products() Products { return Products{s} }
func (s *Store) Carts() Carts       { return Carts{s} }
func (s *Store) Coupons() Coupons   { return Coupons{s} }
func (s *Store) Orders() Orders     { return Orders{s} }
func (s *Store) Users() Users       { return Users{s} }
func (s *Store) APIKeys() APIKeys   { return APIKeys{s} }
func (s *Store) Outbox() Outbox     { return Outbox{s} }

type data struct {
	seq         int64
	products    map[int64]product.Product
	carts       map[int64]cart.Cart
	cartItems   map[int64][]cart.Item
	coupons     map[int64]coupon.Coupon
	redemptions []coupon.Redemption
	orders      map[int64]order.Order
	users       map[int64]identity.User
	addresses   map[int64]identity.Address
	apiKeys     map[string]auth.APIKey
	events      []outbox.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{d: &data{
		products:  map[int64]product.Product{},
		carts:     map[int64]cart.Cart{},
		cartItems: map[int64][]cart.Item{},
		coupons:   map[int64]coupon.Coupon{},
		orders:    map[int64]order.Order{},
		users:     map[int64]identity.User{},
		addresses: map[int64]identity.Address{},
		apiKeys:   map[string]auth.APIKey{},
	}}
}

// Values stored in the maps are never mutated in place, so a shallow copy of
// every container is a consistent snapshot.
func (d *data) clone() *data {
	return &data{
		seq:         d.seq,
		products:    maps.Clone(d.products),
		carts:       maps.Clone(d.carts),
		cartItems:   maps.Clone(d.cartItems),
		coupons:     maps.Clone(d.coupons),
		redemptions: slices.Clone(d.redemptions),
		orders:      maps.Clone(d.orders),
		users:       maps.Clone(d.users),
		addresses:   maps.Clone(d.addresses),
		apiKeys:     maps.Clone(d.apiKeys),
		events:      slices.Clone(d.events),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

type txKey struct{ s *Store }

func (s *Store) inTx(ctx context.Context) bool {
	return ctx.Value(txKey{s}) != nil
}

// InTx runs fn holding the store lock and restores the previous state if fn
// fails or panics. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (rerr error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			s.d = snap
			panic(p)
		}
		if rerr != nil {
			s.d = snap
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, txKey{s}, struct{}{}))
}

// lock acquires the store lock unless ctx already runs inside InTx.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
