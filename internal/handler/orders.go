package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// getOrder is the public post-purchase lookup by public id.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r, false)
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	h.respondOrder(w, r, true)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, private bool) {
	o, err := h.Orders.Lookup(r.Context(), chi.URLParam(r, "publicID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, private) })
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var upd order.StatusUpdate
	err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		var s string
		switch key {
		case "status":
			s, err = decodeStr(d, key)
			upd.Status = order.Status(s)
		case "carrier":
			upd.Carrier, err = decodeStr(d, key)
		case "tracking_number":
			upd.TrackingNumber, err = decodeStr(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && upd.Status == "" {
		err = &badRequestError{field: "status", err: errors.New("required")}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "publicID"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o, true) })
}
