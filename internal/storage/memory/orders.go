package memory

import (
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

// Orders implements order.Repository.
type Orders struct{ *Store }

func (s Orders) Create(ctx context.Context, o *order.Order) error {
	defer s.lock(ctx)()
	for _, other := range s.d.orders {
		if other.PublicID == o.PublicID {
			return errors.Errorf("duplicate public id %q", o.PublicID)
		}
	}
	o.ID = s.d.nextID()
	stored := *o
	stored.Items = nil
	s.d.orders[o.ID] = stored
	return nil
}

func (s Orders) AddItems(ctx context.Context, orderID int64, items []order.Item) error {
	defer s.lock(ctx)()
	o, ok := s.d.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	stored := slices.Clone(o.Items)
	for i := range items {
		items[i].ID = s.d.nextID()
		stored = append(stored, items[i])
	}
	o.Items = stored
	s.d.orders[orderID] = o
	return nil
}

func (s Orders) GetByPublicID(ctx context.Context, publicID string, _ bool) (*order.Order, error) {
	defer s.lock(ctx)()
	for _, o := range s.d.orders {
		if o.PublicID == publicID {
			o.Items = slices.Clone(o.Items)
			return &o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (s Orders) UpdateStatus(ctx context.Context, o *order.Order) error {
	defer s.lock(ctx)()
	stored, ok := s.d.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	stored.Status = o.Status
	stored.Carrier = o.Carrier
	stored.TrackingNumber = o.TrackingNumber
	stored.ShippedAt = o.ShippedAt
	stored.DeliveredAt = o.DeliveredAt
	stored.CanceledAt = o.CanceledAt
	s.d.orders[o.ID] = stored
	return nil
}

// Count returns the number of stored orders.
func (s Orders) Count(ctx context.Context) int {
	defer s.lock(ctx)()
	return len(s.d.orders)
}
