// Package main provides the food discovery orchestrator API server entrypoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/connectors"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/llm"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/storage"
)

func main() {
	// Local env files are optional; earlier files win
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.LogFormat(),
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Strs("providers", cfg.Providers.EnabledProviders()).
		Msg("Starting food discovery orchestrator")

	app, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise services")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewRouter(logger, cfg, app.deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	app.close(ctx, logger)
	logger.Info().Msg("Server stopped")
}

// app owns the long-lived clients and background workers.
type app struct {
	deps     Dependencies
	store    geocache.Store
	db       *sql.DB
	cache    cache.Client
	enricher *search.Enricher
	chat     *chat.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	store, err := geocache.New(cfg.Mongo, logger)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	applied, err := storage.NewMigrationManager(db, storage.DriverName(cfg.Database)).Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate thread store: %w", err)
	}
	if len(applied) > 0 {
		logger.Info().Strs("migrations", applied).Msg("Thread store migrations applied")
	}

	cacheClient, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}

	registry, err := connectors.NewRegistryFromConfig(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	geocoder := connectors.NewGeocoder(cfg.Providers.Geocoder, connectors.HTTPOptions{
		Timeout:    cfg.Providers.Timeout,
		RPS:        cfg.Providers.RPS,
		Burst:      cfg.Providers.Burst,
		MaxRetries: cfg.Providers.MaxRetries,
	}, logger)

	enricher := search.NewEnricher(store, registry.Enrichers(), cacheClient, search.EnricherOptions{
		Workers:   cfg.Search.EnrichWorkers,
		QueueSize: cfg.Search.EnrichQueue,
		Timeout:   cfg.Search.EnrichTimeout,
	}, logger)
	enricher.Start()

	orchestrator := search.NewOrchestrator(store, registry, enricher, search.Options{
		CacheRadiusMeters: cfg.Search.CacheRadiusMeters,
		Limit:             cfg.Search.Limit,
		StaleAfter:        cfg.Search.StaleAfter,
		ProviderTimeout:   cfg.Providers.Timeout,
	}, logger)

	model := llm.NewClient(cfg.LLM, logger)

	var catalogSource chat.CatalogSource
	if cms, ok := registry.CMS(); ok {
		catalogSource = cms
	}
	recommender := chat.NewRecommender(catalogSource, model, logger)

	threads := storage.NewThreadRepository(db)
	sessions := session.NewStore(cacheClient, cfg.Cache.SessionTTL, logger)
	router := chat.NewRouter(model, orchestrator, cfg.Search.CardLimit, logger)
	chatService := chat.NewService(router, threads, sessions, recommender, logger)

	return &app{
		deps: Dependencies{
			Orchestrator: orchestrator,
			Geocoder:     geocoder,
			Products:     store,
			Classifier:   chat.NewClassifier(model, logger),
			Chat:         chatService,
			Checks: map[string]Pinger{
				"geocache": store,
				"database": PingFunc(db.PingContext),
			},
		},
		store:    store,
		db:       db,
		cache:    cacheClient,
		enricher: enricher,
		chat:     chatService,
	}, nil
}

// close stops background work, then releases clients.
func (a *app) close(ctx context.Context, logger *observability.Logger) {
	if err := a.enricher.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("Enricher did not drain in time")
	}
	if err := a.chat.Drain(ctx); err != nil {
		logger.Warn().Err(err).Msg("Pending chat writes did not finish in time")
	}
	if err := a.store.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to close geo-cache store")
	}
	if err := a.db.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close thread store")
	}
	if err := a.cache.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close cache")
	}
}
