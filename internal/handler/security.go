package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// HeaderAPIKey carries back-office API keys.
const HeaderAPIKey = "X-API-Key"

// requireScope admits requests whose API key grants scope.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := h.Keys.Authenticate(r.Context(), r.Header.Get(HeaderAPIKey), scope)
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
				return
			case errors.Is(err, auth.ErrForbidden):
				writeErrorCode(w, http.StatusForbidden, "forbidden", "API key lacks scope "+scope)
				return
			case err != nil:
				writeError(w, r, err)
				return
			}
			ctx := zctx.With(r.Context(), zap.String("api_key", key.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
