// Package api wires the chi router, handlers, and middleware for the
// marketplace HTTP surface.
package api

import (
	"net/http"

	"github.com/carbonpit/carbonpit/internal/api/handlers"
	"github.com/carbonpit/carbonpit/internal/api/middleware"
	"github.com/carbonpit/carbonpit/internal/config"
	"github.com/carbonpit/carbonpit/internal/store"
	json "github.com/goccy/go-json"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, s store.Store) http.Handler {
	h := handlers.New(s, cfg.Version, cfg.BaseURL)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	requireAgent := middleware.RequireAgent(s)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(limiter.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(s))
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		// Public surface
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", h.ListAgents)
		r.Post("/agents/claim", h.ClaimAgent)
		r.Get("/agents/observe", h.ObserveAgents)
		r.Post("/agents/boost", h.BoostRound)

		r.Get("/market/credits", h.MarketCredits)
		r.Get("/activity", h.Activity)
		r.Get("/negotiations/feed", h.NegotiationsFeed)

		r.Get("/lots/{lotID}/info", h.LotInfo)
		r.Get("/lots/{lotID}/chat", h.GetChat)

		r.Get("/human/disclosures", h.ListDisclosures)
		r.Post("/human/disclosures", h.CreateDisclosure)

		// Bearer-authenticated surface
		r.Group(func(r chi.Router) {
			r.Use(requireAgent)
			r.Get("/lots", h.ListLots)
			r.Post("/lots", h.CreateLot)
			r.Get("/lots/{lotID}/bids", h.ListLotBids)
			r.Post("/lots/{lotID}/bids", h.SubmitBid)
			r.Post("/lots/{lotID}/chat", h.PostChat)
			r.Post("/bids/{bidID}/accept", h.AcceptBid)
			r.Post("/trades/{tradeID}/complete", h.CompleteTrade)
		})
	})

	return r
}

func healthHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := s.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "carbonpit",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "carbonpit",
		})
	}
}
