// Package handler exposes the storefront checkout slice as a JSON HTTP API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/identity"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// Config holds non-dependency settings of the Handler.
type Config struct {
	// SecureCookies marks the session and cart cookies Secure.
	SecureCookies bool
	// DefaultCountry prices carts whose request names no destination.
	DefaultCountry string
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Products product.Repository
	Carts    *cart.Service
	Coupons  coupon.Validator
	Orders   *order.Service
	Calc     *pricing.Calculator
	// Sessions is optional; without it every shopper is anonymous.
	Sessions identity.SessionProvider
	Keys     *auth.Authenticator
}

// Handler serves the storefront API.
type Handler struct {
	Deps
	cfg Config
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{Deps: deps, cfg: cfg}
}

// Routes returns the API router. middlewares run inside the router, after
// route matching is set up, so they can observe the route pattern.
func (h *Handler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusNotFound, "route_not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{productID}", h.getProduct)
		r.Get("/orders/{publicID}", h.getOrder)
		r.Post("/session/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(h.withActor)
			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addItem)
			r.Patch("/cart/items/{productID}", h.updateItem)
			r.Delete("/cart/items/{productID}", h.removeItem)
			r.Post("/cart/merge", h.mergeCart)
			r.Post("/cart/coupon", h.previewCoupon)
			r.Post("/checkout", h.checkout)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(h.requireScope(auth.ScopeOrdersRead)).Get("/orders/{publicID}", h.adminGetOrder)
			r.With(h.requireScope(auth.ScopeOrdersWrite)).Patch("/orders/{publicID}/status", h.updateOrderStatus)
		})
	})
	return r
}
