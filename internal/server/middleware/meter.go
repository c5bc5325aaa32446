package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keymeterhq/keymeter/internal/service"
)

type contextKeyMeter string

// TokenMeterKey is the context key for the per-request token meter.
const TokenMeterKey contextKeyMeter = "token_meter"

// TokenMeter accumulates token counts attributed to one request. Handlers
// that proxy model calls add their measured counts; the meter middleware
// folds them into the recorded usage event.
type TokenMeter struct {
	In  int
	Out int
}

// AddTokens credits token counts to the current request's meter. A no-op
// outside a metered request.
func AddTokens(ctx context.Context, in, out int) {
	if m, ok := ctx.Value(TokenMeterKey).(*TokenMeter); ok {
		m.In += in
		m.Out += out
	}
}

// Meter returns an HTTP middleware that records a usage event for every
// key-authenticated request after the handler completes. The event carries
// the route pattern rather than the raw path so per-endpoint aggregation
// does not fragment on path parameters. Recording is asynchronous and never
// delays the response.
//
// Must run after AuthenticateKey; requests without a key principal are not
// recorded.
func Meter(usageSvc *service.UsageService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetKeyPrincipal(r.Context())
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}

			meter := &TokenMeter{}
			ctx := context.WithValue(r.Context(), TokenMeterKey, meter)
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}
			usageSvc.RecordAsync(p.KeyID, endpoint, meter.In, meter.Out,
				time.Since(start).Milliseconds(), ww.status)
		})
	}
}
