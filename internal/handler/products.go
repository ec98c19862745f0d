package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	params, err := product.ParseListParams(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	products, err := h.Products.List(r.Context(), params)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("products", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range products {
						encodeProduct(e, &products[i])
					}
				})
			})
			e.Field("limit", func(e *jx.Encoder) { e.Int(params.Limit) })
			e.Field("offset", func(e *jx.Encoder) { e.Int(params.Offset) })
		})
	})
}

// getProduct returns a purchasable product; drafts and archived products are
// not public.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Products.GetByID(r.Context(), id)
	if err == nil && !p.Status.Purchasable() {
		err = product.ErrNotFound
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p) })
}
