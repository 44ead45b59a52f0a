package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/agentdock/internal/api/handlers"
	"github.com/agentoven/agentdock/internal/api/middleware"
	"github.com/agentoven/agentdock/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "agentdock"

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", cfg.Auth.UserIDHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(h))
	r.Get("/version", versionHandler(cfg))

	// Provider-facing routes authenticate per platform.
	r.Post("/webhooks/{platform}/{deploymentId}", h.Webhook)
	r.Get("/webhooks/{platform}/{deploymentId}", h.Webhook)
	r.Get("/deployments/oauth/{platform}", h.OAuthStart)
	r.Get("/deployments/oauth/{platform}/callback", h.OAuthCallback)

	// API v1
	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(middleware.UserExtractor(cfg.Auth.UserIDHeader))

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Route("/{agentId}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Delete("/", h.DeleteAgent)
				r.Delete("/memory", h.ClearMemory)
				r.Get("/train/jobs", h.ListTrainJobs)
			})
		})

		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", h.ListDeployments)
			r.Post("/", h.CreateDeployment)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetDeployment)
				r.Delete("/", h.DeleteDeployment)
				r.Post("/redeploy", h.RedeployDeployment)
				r.Post("/deactivate", h.DeactivateDeployment)
			})
		})

		r.Post("/train", h.Train)
		r.Get("/train/status/{jobId}", h.TrainStatus)
	})

	return r
}

func healthHandler(h *handlers.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "healthy"
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": serviceName,
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
