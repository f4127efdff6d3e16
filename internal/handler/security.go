package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/auth"
)

// APIKeyHeader carries the caller's raw API key.
const APIKeyHeader = "api_key"

type keyCtx struct{}

// KeyFromContext returns the key authenticated by RequireScope.
func KeyFromContext(ctx context.Context) (*auth.Key, bool) {
	k, ok := ctx.Value(keyCtx{}).(*auth.Key)
	return k, ok
}

// RequireScope admits requests whose API key holds scope. Admin keys hold
// every scope.
func (h *Handler) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			case err != nil:
				fail(w, r, err)
				return
			}
			if !key.HasScope(scope) && !key.HasScope(auth.ScopeAdmin) {
				zctx.From(r.Context()).Info("API key lacks scope",
					zap.String("key", key.Name),
					zap.String("scope", scope),
				)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := zctx.With(context.WithValue(r.Context(), keyCtx{}, key), zap.String("api_key_name", key.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
