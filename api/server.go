/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for web clients
  5. requestLog: Structured zap request logging
  6. instrument: Prometheus request counters per route/status

ROUTE GROUPS:
  /api/auth/*           Device registration
  /api/*                Player endpoints (device token)
  /api/admin/*          Admin endpoints (admin token)
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(requestLog(h.Log))
	r.Use(instrument)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/auth/register", h.Register)
		r.Post("/admin/login", h.AdminLogin)
		r.Get("/leaderboard", h.Leaderboard)

		// Player routes (device token)
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.RequireDevice)

			r.Get("/state", h.GetState)
			r.Post("/state/sync", h.SyncState)

			r.Route("/coins", func(r chi.Router) {
				r.Post("/update", h.UpdateCoins)
				r.Get("/transactions", h.GetTransactions)
			})

			r.Route("/missions", func(r chi.Router) {
				r.Get("/", h.ListMissions)
				r.Post("/{id}/claim", h.ClaimMission)
			})

			r.Route("/shop", func(r chi.Router) {
				r.Get("/", h.GetShop)
				r.Post("/{id}/purchase", h.Purchase)
			})

			r.Route("/invites", func(r chi.Router) {
				r.Get("/", h.InviteStatus)
				r.Post("/", h.CreateInvite)
				r.Post("/claim", h.ClaimInvite)
			})

			r.Post("/media/claim", h.ClaimMedia)
		})

		// Admin routes (admin token)
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.Auth.RequireAdmin)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Get("/{id}", h.GetAccount)
				r.Get("/{id}/audit", h.AuditAccount)
				r.Post("/{id}/adjust", h.AdjustBalance)
				r.Post("/{id}/ban", h.BanAccount)
			})

			r.Route("/missions", func(r chi.Router) {
				r.Get("/", h.ListAllMissions)
				r.Post("/", h.SaveMission)
				r.Delete("/{id}", h.DeleteMission)
			})

			r.Route("/shop", func(r chi.Router) {
				r.Get("/", h.ListAllShopItems)
				r.Post("/", h.SaveShopItem)
				r.Delete("/{id}", h.DeleteShopItem)
			})
		})
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// requestLog emits one structured line per request.
func requestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// instrument counts requests per route pattern and status class.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
