// Package main provides the orchestrator CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/connectors"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
)

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	noColor    bool
	verbose    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator-cli",
	Short: "Food discovery orchestrator administration CLI",
	Long: `orchestrator-cli runs maintenance tasks against the food discovery backends.

Use this tool to:
- Migrate the chat thread store
- Bulk ingest provider data into the geo-cache
- Run searches and warm the cache for known locations
- Check how a message would be classified
- Watch enrichment events as they are published
- Purge cached products and pending chat sessions

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for _, f := range []string{".env.local", ".env"} {
			_ = godotenv.Load(f)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := "warn"
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      "console",
			Output:      os.Stderr,
			ServiceName: "orchestrator-cli",
		})
		ui = NewUI(outputJSON, noColor)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if ui != nil {
			ui.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newWarmCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newPurgeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// searchStack is the part of the server a CLI command needs to search,
// ingest or warm.
type searchStack struct {
	store        geocache.Store
	cache        cache.Client
	enricher     *search.Enricher
	orchestrator *search.Orchestrator
}

func newSearchStack(withEnrichment bool) (*searchStack, error) {
	store, err := geocache.New(cfg.Mongo, logger)
	if err != nil {
		return nil, err
	}
	registry, err := connectors.NewRegistryFromConfig(cfg.Providers, logger)
	if err != nil {
		store.Close(context.Background())
		return nil, err
	}

	s := &searchStack{store: store}
	if withEnrichment {
		c, err := cache.New(cfg.Cache)
		if err != nil {
			store.Close(context.Background())
			return nil, err
		}
		s.cache = c
		s.enricher = search.NewEnricher(store, registry.Enrichers(), c, search.EnricherOptions{
			Workers:   cfg.Search.EnrichWorkers,
			QueueSize: cfg.Search.EnrichQueue,
			Timeout:   cfg.Search.EnrichTimeout,
		}, logger)
		s.enricher.Start()
	}

	s.orchestrator = search.NewOrchestrator(store, registry, s.enricher, search.Options{
		CacheRadiusMeters: cfg.Search.CacheRadiusMeters,
		Limit:             cfg.Search.Limit,
		StaleAfter:        cfg.Search.StaleAfter,
		ProviderTimeout:   cfg.Providers.Timeout,
	}, logger)
	return s, nil
}

// Close drains enrichment, then releases clients.
func (s *searchStack) Close(ctx context.Context) {
	if s.enricher != nil {
		if err := s.enricher.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("Enricher did not drain in time")
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if err := s.store.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to close geo-cache store")
	}
}
