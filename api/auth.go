package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/logger"
	"github.com/warp/storefront/permit"
)

type contextKey string

const callerKey contextKey = "caller"

// requireCaller authenticates the Authorization bearer token as a caller
// token for this storefront and stores the caller address in the context.
func (h *Handler) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "missing_token", nil)
			return
		}

		caller, err := permit.VerifyCaller(strings.TrimSpace(raw), h.audience)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid caller token", "invalid_token", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.Stringer("caller", caller)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerFrom returns the authenticated caller, or the zero value outside
// requireCaller.
func callerFrom(ctx context.Context) catalog.Address {
	caller, _ := ctx.Value(callerKey).(catalog.Address)
	return caller
}
