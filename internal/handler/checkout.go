package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/order"
)

func decodeAddress(d *jx.Decoder, a *identity.Address) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		k := string(key)
		var dst *string
		switch k {
		case "full_name":
			dst = &a.FullName
		case "phone":
			dst = &a.Phone
		case "line1":
			dst = &a.Line1
		case "line2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "region":
			dst = &a.Region
		case "postal_code":
			dst = &a.PostalCode
		case "country_code":
			dst = &a.CountryCode
		default:
			return d.Skip()
		}
		*dst, err = decodeStr(d, "address."+k)
		return err
	})
}

func decodeCheckoutForm(w http.ResponseWriter, r *http.Request) (order.CheckoutForm, error) {
	var f order.CheckoutForm
	err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "email":
			f.Email, err = decodeStr(d, key)
		case "coupon_code":
			f.CouponCode, err = decodeStr(d, key)
		case "notes":
			f.Notes, err = decodeStr(d, key)
		case "use_stored_address":
			f.UseStoredAddress, err = decodeBool(d, key)
		case "address":
			err = decodeAddress(d, &f.Address)
		default:
			err = d.Skip()
		}
		return err
	})
	return f, err
}

// checkout places an order from the actor's cart.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	form, err := decodeCheckoutForm(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor := identity.FromContext(r.Context())
	o, err := h.Orders.PlaceOrder(r.Context(), actor, form)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if actor.CartToken != "" {
		h.expireCookie(w, CookieCartToken)
	}
	w.Header().Set("Location", "/api/orders/"+o.PublicID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o, false) })
}
