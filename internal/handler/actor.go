package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/identity"
)

// Cookie names.
const (
	CookieSession   = "sid"
	CookieCartToken = "cart_token"
)

// withActor resolves the signed-in user and the anonymous cart token into an
// identity.Actor stored in the request context. Unknown sessions degrade to
// anonymous; session store failures are logged and degrade as well.
func (h *Handler) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var actor identity.Actor
		if c, err := r.Cookie(CookieCartToken); err == nil {
			actor.CartToken = c.Value
		}
		if c, err := r.Cookie(CookieSession); err == nil && c.Value != "" && h.Sessions != nil {
			u, err := h.Sessions.Lookup(ctx, c.Value)
			switch {
			case err == nil:
				actor = actor.WithUser(*u)
				ctx = zctx.With(ctx, zap.Int64("user_id", u.ID))
			case errors.Is(err, identity.ErrNoSession):
				h.expireCookie(w, CookieSession)
			default:
				zctx.From(ctx).Warn("Session lookup failed", zap.Error(err))
			}
		}
		next.ServeHTTP(w, r.WithContext(identity.WithActor(ctx, actor)))
	})
}

// logout ends the session named by the session cookie and expires the
// cookie. It succeeds for shoppers who are not signed in.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	signedOut := false
	if c, err := r.Cookie(CookieSession); err == nil && c.Value != "" {
		if h.Sessions != nil {
			if err := h.Sessions.Delete(r.Context(), c.Value); err != nil {
				writeError(w, r, err)
				return
			}
		}
		h.expireCookie(w, CookieSession)
		signedOut = true
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("signed_out", func(e *jx.Encoder) { e.Bool(signedOut) })
		})
	})
}

// rememberCart hands a newly created anonymous cart token to the client.
func (h *Handler) rememberCart(w http.ResponseWriter, actor identity.Actor, c *cart.Cart) {
	if c == nil || c.Token == "" || c.Token == actor.CartToken {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieCartToken,
		Value:    c.Token,
		Path:     "/",
		MaxAge:   int(cart.TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
