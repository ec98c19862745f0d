package order

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/outbox"
)

// Outbox event types.
const (
	EventPlaced        = "order.placed"
	EventStatusChanged = "order.status_changed"
)

func placedEvent(o *Order) *outbox.Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("public_id", func(e *jx.Encoder) { e.Str(o.PublicID) })
		if o.UserID != 0 {
			e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
		}
		e.Field("email", func(e *jx.Encoder) { e.Str(o.Email) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("country_code", func(e *jx.Encoder) { e.Str(o.ShipTo.CountryCode) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Totals.Subtotal.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Totals.Discount.StringFixed(2)) })
		e.Field("tax", func(e *jx.Encoder) { e.Str(o.Totals.Tax.StringFixed(2)) })
		e.Field("shipping", func(e *jx.Encoder) { e.Str(o.Totals.Shipping.StringFixed(2)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Totals.Total.StringFixed(2)) })
		if o.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.StringFixed(2)) })
					})
				}
			})
		})
		e.Field("placed_at", func(e *jx.Encoder) { e.Str(o.PlacedAt.UTC().Format(time.RFC3339)) })
	})
	return &outbox.Event{
		AggregateID: o.PublicID,
		Type:        EventPlaced,
		Payload:     e.Bytes(),
		CreatedAt:   o.PlacedAt,
	}
}

func statusChangedEvent(o *Order, from Status, at time.Time) *outbox.Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("public_id", func(e *jx.Encoder) { e.Str(o.PublicID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(from)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		if o.Carrier != "" {
			e.Field("carrier", func(e *jx.Encoder) { e.Str(o.Carrier) })
		}
		if o.TrackingNumber != "" {
			e.Field("tracking_number", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
		}
		e.Field("changed_at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339)) })
	})
	return &outbox.Event{
		AggregateID: o.PublicID,
		Type:        EventStatusChanged,
		Payload:     e.Bytes(),
		CreatedAt:   at,
	}
}
