package handler

import (
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// statusByReason maps checkout outcomes to HTTP statuses. Reasons missing
// here are unexpected failures.
var statusByReason = map[string]int{
	"validation_error":        http.StatusBadRequest,
	"invalid_quantity":        http.StatusBadRequest,
	"cart_not_found":          http.StatusNotFound,
	"item_not_found":          http.StatusNotFound,
	"product_not_found":       http.StatusNotFound,
	"order_not_found":         http.StatusNotFound,
	"insufficient_stock":      http.StatusConflict,
	"invalid_transition":      http.StatusConflict,
	"product_unavailable":     http.StatusUnprocessableEntity,
	"empty_cart":              http.StatusUnprocessableEntity,
	"no_stored_address":       http.StatusUnprocessableEntity,
	"coupon_not_found":        http.StatusUnprocessableEntity,
	"coupon_not_yet_active":   http.StatusUnprocessableEntity,
	"coupon_expired":          http.StatusUnprocessableEntity,
	"min_subtotal_not_met":    http.StatusUnprocessableEntity,
	"coupon_exhausted":        http.StatusUnprocessableEntity,
	"per_user_limit_exceeded": http.StatusUnprocessableEntity,
	"no_eligible_items":       http.StatusUnprocessableEntity,
}

// badRequestError is a malformed request that never reached the domain.
type badRequestError struct {
	field string
	err   error
}

func (e *badRequestError) Error() string {
	if e.field == "" {
		return "malformed request body: " + e.err.Error()
	}
	return "invalid " + e.field + ": " + e.err.Error()
}

func (e *badRequestError) Unwrap() error { return e.err }

func writeJSON(w http.ResponseWriter, status int, data func(e *jx.Encoder)) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("data", data)
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeErrorBody(w, status, code, message, nil, nil)
}

// writeError renders err as the error envelope. Unexpected errors are logged
// and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var bad *badRequestError
	if errors.As(err, &bad) {
		writeErrorBody(w, http.StatusBadRequest, "bad_request", bad.Error(), nil, nil)
		return
	}
	var param *product.InvalidParamError
	if errors.As(err, &param) {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", err.Error(),
			map[string]string{param.Param: param.Reason}, nil)
		return
	}

	reason := order.Reason(err)
	status, ok := statusByReason[reason]
	if !ok {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorBody(w, http.StatusInternalServerError, order.ReasonInternal, "internal server error", nil, nil)
		return
	}

	var (
		fields  map[string]string
		details func(e *jx.Encoder)
		verr    *order.ValidationError
		stock   *cart.InsufficientStockError
	)
	if errors.As(err, &verr) {
		fields = verr.Fields
	}
	if errors.As(err, &stock) {
		details = func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("product_id", func(e *jx.Encoder) { e.Int64(stock.ProductID) })
				e.Field("requested", func(e *jx.Encoder) { e.Int(stock.Requested) })
				e.Field("available", func(e *jx.Encoder) { e.Int(stock.Available) })
			})
		}
	}
	writeErrorBody(w, status, reason, err.Error(), fields, details)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string, fields map[string]string, details func(e *jx.Encoder)) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("error", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(code) })
				e.Field("message", func(e *jx.Encoder) { e.Str(message) })
				if len(fields) > 0 {
					e.Field("fields", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							for _, k := range slices.Sorted(maps.Keys(fields)) {
								e.Field(k, func(e *jx.Encoder) { e.Str(fields[k]) })
							}
						})
					})
				}
				if details != nil {
					e.Field("details", details)
				}
			})
		})
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("sku", func(e *jx.Encoder) { e.Str(p.SKU) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		if p.CompareAtPrice.Valid {
			e.Field("compare_at_price", func(e *jx.Encoder) { money(e, p.CompareAtPrice.Decimal) })
		}
		e.Field("in_stock", func(e *jx.Encoder) { e.Bool(p.Stock > 0) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		if p.CategoryID != 0 {
			e.Field("category_id", func(e *jx.Encoder) { e.Int64(p.CategoryID) })
		}
	})
}

func encodeTotals(e *jx.Encoder, t pricing.Totals) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { money(e, t.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { money(e, t.Discount) })
		e.Field("tax", func(e *jx.Encoder) { money(e, t.Tax) })
		e.Field("shipping", func(e *jx.Encoder) { money(e, t.Shipping) })
		e.Field("total", func(e *jx.Encoder) { money(e, t.Total) })
	})
}

func encodeCartView(e *jx.Encoder, v *cart.View) {
	e.Obj(func(e *jx.Encoder) {
		if v.Cart != nil {
			e.Field("id", func(e *jx.Encoder) { e.Int64(v.Cart.ID) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range v.Lines {
					l := &v.Lines[i]
					e.Obj(func(e *jx.Encoder) {
						e.Field("product", func(e *jx.Encoder) { encodeProduct(e, &l.Product) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("line_total", func(e *jx.Encoder) { money(e, l.LineTotal) })
					})
				}
			})
		})
		e.Field("totals", func(e *jx.Encoder) { encodeTotals(e, v.Totals) })
	})
}

// encodeOrder renders an order; private adds the contact email and internal
// ids for back-office callers.
func encodeOrder(e *jx.Encoder, o *order.Order, private bool) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("public_id", func(e *jx.Encoder) { e.Str(o.PublicID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		if private {
			e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
			e.Field("email", func(e *jx.Encoder) { e.Str(o.Email) })
			if o.UserID != 0 {
				e.Field("user_id", func(e *jx.Encoder) { e.Int64(o.UserID) })
			}
			if o.Notes != "" {
				e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
			}
		}
		e.Field("ship_to", func(e *jx.Encoder) {
			a := o.ShipTo
			e.Obj(func(e *jx.Encoder) {
				e.Field("full_name", func(e *jx.Encoder) { e.Str(a.FullName) })
				if private && a.Phone != "" {
					e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
				}
				e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
				if a.Line2 != "" {
					e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
				}
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				if a.Region != "" {
					e.Field("region", func(e *jx.Encoder) { e.Str(a.Region) })
				}
				e.Field("postal_code", func(e *jx.Encoder) { e.Str(a.PostalCode) })
				e.Field("country_code", func(e *jx.Encoder) { e.Str(a.CountryCode) })
			})
		})
		e.Field("totals", func(e *jx.Encoder) { encodeTotals(e, o.Totals) })
		if o.CouponCode != "" {
			e.Field("coupon_code", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		if o.Carrier != "" {
			e.Field("carrier", func(e *jx.Encoder) { e.Str(o.Carrier) })
		}
		if o.TrackingNumber != "" {
			e.Field("tracking_number", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						if it.ProductID != 0 {
							e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						}
						e.Field("name", func(e *jx.Encoder) { e.Str(it.ProductName) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("line_total", func(e *jx.Encoder) { money(e, it.LineTotal()) })
					})
				}
			})
		})
		e.Field("placed_at", func(e *jx.Encoder) { timestamp(e, o.PlacedAt) })
		for _, ts := range []struct {
			name string
			at   *time.Time
		}{
			{"shipped_at", o.ShippedAt},
			{"delivered_at", o.DeliveredAt},
			{"canceled_at", o.CanceledAt},
		} {
			if ts.at != nil {
				e.Field(ts.name, func(e *jx.Encoder) { timestamp(e, *ts.at) })
			}
		}
	})
}
