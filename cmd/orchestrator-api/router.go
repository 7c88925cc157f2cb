// Package main provides the API router setup.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/cmd/orchestrator-api/handlers"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/cmd/orchestrator-api/middleware"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependencies are the services the router exposes.
type Dependencies struct {
	Orchestrator *search.Orchestrator
	Geocoder     handlers.Geocoder
	Products     handlers.ProductFinder
	Classifier   handlers.QueryClassifier
	Chat         *chat.Service
	// Checks are pinged by /ready, keyed by name.
	Checks map[string]Pinger
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"food-orchestrator"}`))
	})

	r.Get("/ready", readyHandler(logger, deps.Checks))

	searchHandler := handlers.NewSearchHandler(logger, deps.Orchestrator, deps.Geocoder, deps.Products, deps.Classifier)
	ingestionHandler := handlers.NewIngestionHandler(logger, deps.Orchestrator)
	chatHandler := handlers.NewChatHandler(logger, deps.Chat)
	realtimeHandler := handlers.NewRealtimeHandler(logger, deps.Chat, cfg.Server.AllowedOrigins)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CurrentUser(cfg.Auth))

		// Long-lived connections are exempt from the request timeout.
		r.Get("/chat/stream/{streamId}", chatHandler.Stream)
		r.Get("/chat/ws", realtimeHandler.Connect)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))

			r.Get("/search", searchHandler.Search)
			r.Get("/products/{id}", searchHandler.GetProduct)
			r.Post("/ingest/provider-data", ingestionHandler.Ingest)

			r.Route("/chat", func(r chi.Router) {
				r.Post("/message", chatHandler.SendMessage)
				r.Post("/initiate-stream", chatHandler.InitiateStream)
				r.Post("/recommend", chatHandler.Recommend)
				r.Get("/history", chatHandler.History)

				r.Route("/threads", func(r chi.Router) {
					r.Get("/", chatHandler.ListThreads)
					r.Put("/{id}", chatHandler.RenameThread)
					r.Delete("/{id}", chatHandler.DeleteThread)
				})
			})
		})
	})

	return r
}

func readyHandler(logger *observability.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{}
		ready := true
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				logger.WithContext(ctx).Warn().Err(err).Str("check", name).Msg("Readiness check failed")
				status[name] = "unavailable"
				ready = false
				continue
			}
			status[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		code, state := http.StatusOK, "ready"
		if !ready {
			code, state = http.StatusServiceUnavailable, "not_ready"
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{"status": state, "checks": status})
	}
}
