package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

func (h *Handler) country(r *http.Request, requested string) string {
	if requested != "" {
		return strings.ToUpper(requested)
	}
	if c := r.URL.Query().Get("country"); c != "" {
		return strings.ToUpper(c)
	}
	return h.cfg.DefaultCountry
}

// respondCart renders the actor's priced cart.
func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, status int, actor identity.Actor) {
	v, err := h.Carts.View(r.Context(), actor, h.country(r, ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCartView(e, v) })
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, r, http.StatusOK, identity.FromContext(r.Context()))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID int64
		qty       = 1
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "product_id":
			productID, err = decodeInt64(d, key)
		case "quantity":
			qty, err = decodeInt(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && productID <= 0 {
		err = &badRequestError{field: "product_id", err: errors.New("required")}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor := identity.FromContext(r.Context())
	c, err := h.Carts.AddItem(r.Context(), actor, productID, qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.rememberCart(w, actor, c)
	if !actor.Authenticated() {
		actor.CartToken = c.Token
	}
	h.respondCart(w, r, http.StatusCreated, actor)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	productID, err := idParam(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	qty := -1
	err = decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		if key != "quantity" {
			return d.Skip()
		}
		qty, err = decodeInt(d, key)
		return err
	})
	if err == nil && qty < 0 {
		err = &badRequestError{field: "quantity", err: errors.New("required")}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor := identity.FromContext(r.Context())
	if _, err := h.Carts.UpdateItemQuantity(r.Context(), actor, productID, qty); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, actor)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	productID, err := idParam(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor := identity.FromContext(r.Context())
	if _, err := h.Carts.RemoveItem(r.Context(), actor, productID); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, actor)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if err := h.Carts.Clear(r.Context(), actor); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, actor)
}

// mergeCart folds the anonymous cart cookie into the signed-in user's cart.
// The body's "merge" flag defaults to true; false discards the anonymous cart.
func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if !actor.Authenticated() {
		writeErrorCode(w, http.StatusUnauthorized, "sign_in_required", "sign in to merge carts")
		return
	}
	merge := true
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		if key != "merge" {
			return d.Skip()
		}
		merge, err = decodeBool(d, key)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	_, err := h.Carts.Merge(r.Context(), actor.UserID, actor.CartToken, merge)
	if err != nil && !errors.Is(err, cart.ErrCartNotFound) {
		writeError(w, r, err)
		return
	}
	if actor.CartToken != "" {
		h.expireCookie(w, CookieCartToken)
	}
	actor.CartToken = ""
	h.respondCart(w, r, http.StatusOK, actor)
}

// previewCoupon validates a code against the current cart without redeeming
// it and returns the totals it would produce.
func (h *Handler) previewCoupon(w http.ResponseWriter, r *http.Request) {
	var code, countryCode string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "code":
			code, err = decodeStr(d, key)
		case "country_code":
			countryCode, err = decodeStr(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	actor := identity.FromContext(ctx)
	country := h.country(r, countryCode)
	v, err := h.Carts.View(ctx, actor, country)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(v.Lines) == 0 {
		writeError(w, r, order.ErrEmptyCart)
		return
	}

	lines := make([]pricing.Line, len(v.Lines))
	for i, l := range v.Lines {
		lines[i] = pricing.Line{
			ProductID:  l.Product.ID,
			CategoryID: l.Product.CategoryID,
			UnitPrice:  l.Product.Price,
			Quantity:   l.Quantity,
		}
	}
	res, err := h.Coupons.Validate(ctx, coupon.Request{Code: code, Lines: lines, UserID: actor.UserID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	totals := h.Calc.Calculate(lines, pricing.Params{Coupon: res.Discount, CountryCode: country})

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(res.Coupon.Code) })
			e.Field("type", func(e *jx.Encoder) { e.Str(string(res.Discount.Type)) })
			e.Field("value", func(e *jx.Encoder) { e.Str(res.Discount.Value.String()) })
			if res.Coupon.Description != "" {
				e.Field("description", func(e *jx.Encoder) { e.Str(res.Coupon.Description) })
			}
			e.Field("totals", func(e *jx.Encoder) { encodeTotals(e, totals) })
		})
	})
}
