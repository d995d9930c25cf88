/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap access log with request-scoped logger
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for browser wallets

ROUTE GROUPS:
  /api/products/*       Catalog queries; add/buy/refund need a caller token
  /api/store            Storefront description
  /api/accounts/*       Token balances
  /api/faucet           Test token minting (dev only)
  /metrics              Prometheus scrape endpoint
  /healthz              Dependency health

AUTHENTICATION:
  Mutating catalog routes require "Authorization: Bearer <caller token>",
  an EdDSA JWT signed by the caller's key (see package permit). Queries
  are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/storefront/logger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/store", h.GetStore)

		// Catalog routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.With(h.requireCaller).Post("/", h.AddProduct)

			r.Route("/by-name/{name}", func(r chi.Router) {
				r.Get("/", h.GetProductByName)
				r.Get("/buyers", h.GetBuyers)
				r.Get("/purchases/{address}", h.GetPurchase)
			})

			r.Get("/{index}", h.GetProduct)
			r.With(h.requireCaller).Post("/{index}/buy", h.BuyProduct)
			r.With(h.requireCaller).Post("/{index}/refund", h.RefundProduct)
		})

		// Account routes
		r.Get("/accounts/{address}", h.GetAccount)
		r.Post("/faucet", h.Faucet)
	})

	return r
}
