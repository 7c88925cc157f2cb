package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/llm"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/storage"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run thread store migrations",
		Long:  `Apply pending migrations to the configured thread store (sqlite or postgres).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := storage.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			mm := storage.NewMigrationManager(db, storage.DriverName(cfg.Database))
			if status {
				st, err := mm.CheckMigrations(ctx)
				if err != nil {
					return err
				}
				if outputJSON {
					return printJSON(st)
				}
				ui.Info("%d of %d migrations applied", len(st.Applied), st.Total)
				for _, p := range st.Pending {
					ui.Warning("pending: %s", p)
				}
				return nil
			}

			applied, err := mm.Migrate(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(map[string]any{"applied": applied})
			}
			if len(applied) == 0 {
				ui.Success("Thread store is up to date")
				return nil
			}
			for _, v := range applied {
				ui.Success("Applied %s", v)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "report migration status without applying")
	return cmd
}

// newIngestCmd creates the ingest subcommand.
func newIngestCmd() *cobra.Command {
	var (
		provider  string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Bulk ingest provider records from a JSON file",
		Long: `Ingest reads either a JSON array of products or an object of the form
{"provider": "...", "products": [...]}, validates each record and upserts the
valid ones into the geo-cache in batches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			prov, raws, err := readIngestFile(args[0], provider)
			if err != nil {
				return err
			}
			if len(raws) == 0 {
				ui.Warning("No products in %s", args[0])
				return nil
			}

			stack, err := newSearchStack(true)
			if err != nil {
				return err
			}
			defer stack.Close(ctx)

			total := &search.IngestResult{Rejected: []search.Rejection{}}
			bar := ui.ProgressBar(int64(len(raws)), "ingesting "+prov)
			for _, b := range batches(len(raws), batchSize) {
				res, err := stack.orchestrator.Ingest(ctx, prov, raws[b[0]:b[1]])
				if err != nil {
					bar.Exit()
					return fmt.Errorf("ingest batch %d-%d: %w", b[0], b[1], err)
				}
				total.Received += res.Received
				total.Accepted += res.Accepted
				for _, r := range res.Rejected {
					r.Index += b[0]
					total.Rejected = append(total.Rejected, r)
				}
				bar.Add(b[1] - b[0])
			}
			bar.Finish()

			if outputJSON {
				return printJSON(total)
			}
			ui.Success("Ingested %d of %d products from %s", total.Accepted, total.Received, prov)
			for _, r := range total.Rejected {
				ui.Warning("record %d %s: %s", r.Index, r.ProductID, r.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider name (overrides the file's provider)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "products per upsert")
	return cmd
}

// readIngestFile accepts a bare product array or a {provider, products}
// document. The flag value wins over the file's provider.
func readIngestFile(path, provider string) (string, []json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read ingest file: %w", err)
	}

	var raws []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return "", nil, fmt.Errorf("parse ingest file: %w", err)
		}
	} else {
		var doc struct {
			Provider string            `json:"provider"`
			Products []json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return "", nil, fmt.Errorf("parse ingest file: %w", err)
		}
		raws = doc.Products
		if provider == "" {
			provider = doc.Provider
		}
	}

	if strings.TrimSpace(provider) == "" {
		return "", nil, errors.New("provider is required: pass --provider or set it in the file")
	}
	return provider, raws, nil
}

// batches splits n items into [start, end) ranges of at most size.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var (
		lat, lon float64
		limit    int
		refresh  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run an orchestrated search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			loc := catalog.NewGeoPoint(lat, lon)
			if err := loc.Check(); err != nil {
				return fmt.Errorf("invalid location: %w", err)
			}

			stack, err := newSearchStack(false)
			if err != nil {
				return err
			}
			defer stack.Close(ctx)

			q := search.Query{Text: strings.Join(args, " "), Location: loc, Limit: limit}
			stop := ui.Spinner(fmt.Sprintf("Searching for %q", q.Text))
			var res *search.Result
			if refresh {
				res, err = stack.orchestrator.Refresh(ctx, q)
			} else {
				res, err = stack.orchestrator.Search(ctx, q)
			}
			stop()
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(res)
			}
			source := "providers " + strings.Join(res.Providers, ", ")
			if res.CacheHit {
				source = "geo-cache"
			}
			ui.Info("%d results from %s", len(res.Products), source)
			ui.Table([]string{"ID", "TITLE", "RATING", "PRICE", "DISTANCE"}, productRows(res.Products, loc))
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the geo-cache")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}

func productRows(products []catalog.Product, from *catalog.GeoPoint) [][]string {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rating := "-"
		if p.Rating != nil {
			rating = strconv.FormatFloat(*p.Rating, 'f', 1, 64)
		}
		price := "-"
		if lowest := p.MinPrice(); lowest > 0 {
			price = fmt.Sprintf("%.2f %s", lowest, p.Price.Currency)
		}
		distance := "-"
		if p.Location != nil && from != nil {
			distance = fmt.Sprintf("%.0f m", catalog.DistanceMeters(*from, *p.Location))
		}
		rows = append(rows, []string{p.CanonicalProductID, p.Title, rating, price, distance})
	}
	return rows
}

// warmPlan lists the queries to run at each location.
type warmPlan struct {
	Queries   []string       `yaml:"queries"`
	Locations []warmLocation `yaml:"locations"`
}

type warmLocation struct {
	Name    string   `yaml:"name"`
	Lat     float64  `yaml:"lat"`
	Lon     float64  `yaml:"lon"`
	Queries []string `yaml:"queries"`
}

func loadWarmPlan(path string) (*warmPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read warm plan: %w", err)
	}
	var plan warmPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse warm plan: %w", err)
	}
	if len(plan.Locations) == 0 {
		return nil, errors.New("warm plan has no locations")
	}
	for i, l := range plan.Locations {
		if err := catalog.NewGeoPoint(l.Lat, l.Lon).Check(); err != nil {
			return nil, fmt.Errorf("location %d (%s): %w", i, l.Name, err)
		}
		if l.Name == "" {
			plan.Locations[i].Name = fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lon)
		}
		if len(l.Queries) == 0 && len(plan.Queries) == 0 {
			return nil, fmt.Errorf("location %d (%s) has no queries", i, l.Name)
		}
	}
	return &plan, nil
}

// queriesFor returns the location's own queries, or the plan defaults.
func (p *warmPlan) queriesFor(l warmLocation) []string {
	if len(l.Queries) > 0 {
		return l.Queries
	}
	return p.Queries
}

// newWarmCmd creates the warm subcommand.
func newWarmCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "warm <locations.yaml>",
		Short: "Refresh the geo-cache for a list of locations",
		Long: `Warm runs a provider refresh for every query at every location in the plan
and persists the results. Locations run concurrently, queries within a location
run in order.

Example plan:

  queries: [tacos, pizza]
  locations:
    - name: Austin
      lat: 30.2672
      lon: -97.7431
    - name: Brooklyn
      lat: 40.6782
      lon: -73.9442
      queries: [bagels]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadWarmPlan(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			stack, err := newSearchStack(true)
			if err != nil {
				return err
			}
			defer stack.Close(ctx)

			type summary struct {
				Location string   `json:"location"`
				Products int      `json:"products"`
				Failed   []string `json:"failed,omitempty"`
			}
			var (
				mu      sync.Mutex
				results = make([]summary, len(plan.Locations))
			)

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(concurrency, 1))
			for i, loc := range plan.Locations {
				queries := plan.queriesFor(loc)
				bar := ui.Bar(loc.Name, int64(len(queries)))
				g.Go(func() error {
					s := summary{Location: loc.Name}
					point := catalog.NewGeoPoint(loc.Lat, loc.Lon)
					for _, q := range queries {
						res, err := stack.orchestrator.Refresh(gctx, search.Query{Text: q, Location: point})
						if err != nil {
							logger.Warn().Err(err).Str("location", loc.Name).Str("query", q).Msg("Warm refresh failed")
							s.Failed = append(s.Failed, q)
						} else {
							s.Products += len(res.Products)
						}
						if bar != nil {
							bar.Increment()
						}
					}
					mu.Lock()
					results[i] = s
					mu.Unlock()
					return nil
				})
			}
			g.Wait()
			ui.Close()

			if outputJSON {
				return printJSON(results)
			}
			for _, s := range results {
				if len(s.Failed) > 0 {
					ui.Warning("%s: %d products, failed: %s", s.Location, s.Products, strings.Join(s.Failed, ", "))
					continue
				}
				ui.Success("%s: %d products", s.Location, s.Products)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "locations refreshed at once")
	return cmd
}

// newClassifyCmd creates the classify subcommand.
func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <message>",
		Short: "Show how a chat message would be routed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			model := llm.NewClient(cfg.LLM, logger)
			intent := chat.NewClassifier(model, logger).Classify(ctx, strings.Join(args, " "))

			if outputJSON {
				return printJSON(intent)
			}
			if intent.IsSearch() {
				ui.Success("SEARCH %q (model %s)", *intent.Query, model.Model())
				return nil
			}
			ui.Info("CHAT (model %s)", model.Model())
			return nil
		},
	}
}

// newWatchCmd creates the watch subcommand.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print enrichment events as they are published",
		Long: `Watch subscribes to the enrichment channel on the configured cache. Events
are only visible across processes when the cache driver is redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Cache.Driver != "redis" {
				ui.Warning("cache driver is %q; only events from this process would be seen", cfg.Cache.Driver)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := cache.New(cfg.Cache)
			if err != nil {
				return err
			}
			defer c.Close()

			events, unsubscribe, err := c.Subscribe(ctx, cache.EnrichmentChannel)
			if err != nil {
				return err
			}
			defer unsubscribe()

			ui.Info("Watching %s (Ctrl-C to stop)", cache.EnrichmentChannel)
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-events:
					if !ok {
						return nil
					}
					if outputJSON {
						fmt.Println(string(msg))
						continue
					}
					var evt search.EnrichmentEvent
					if err := json.Unmarshal(msg, &evt); err != nil {
						ui.Warning("unreadable event: %s", msg)
						continue
					}
					ui.Success("%s %s enriched by %s (+%d images, +%d comments)",
						evt.At.Format(time.TimeOnly), evt.CanonicalProductID, evt.Provider, evt.Images, evt.Comments)
				}
			}
		},
	}
}

// newPurgeCmd creates the purge subcommand.
func newPurgeCmd() *cobra.Command {
	var (
		sessions bool
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "purge [product-id...]",
		Short: "Remove cached products or pending chat sessions",
		Long: `Purge deletes the given canonical product ids from the geo-cache, and with
--sessions drops every chat stream session that has not been consumed yet.

Products are fetched from providers again on the next search that misses the
cache. Use --dry-run to see how many of the ids are currently stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !sessions {
				return errors.New("nothing to purge: pass product ids or --sessions")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			type report struct {
				DryRun   bool `json:"dryRun"`
				Products int  `json:"products"`
				Sessions int  `json:"sessions"`
			}
			rep := report{DryRun: dryRun}

			if len(args) > 0 {
				store, err := geocache.New(cfg.Mongo, logger)
				if err != nil {
					return err
				}
				defer store.Close(ctx)

				rep.Products, err = purgeProducts(ctx, store, args, dryRun)
				if err != nil {
					return err
				}
			}

			if sessions && !dryRun {
				c, err := cache.New(cfg.Cache)
				if err != nil {
					return err
				}
				defer c.Close()

				rep.Sessions, err = session.NewStore(c, cfg.Cache.SessionTTL, logger).Purge(ctx)
				if err != nil {
					return err
				}
			}

			if outputJSON {
				return printJSON(rep)
			}
			verb := "Removed"
			if dryRun {
				verb = "Would remove"
			}
			if len(args) > 0 {
				ui.Success("%s %d of %d products", verb, rep.Products, len(args))
			}
			switch {
			case sessions && dryRun:
				ui.Info("Would remove all pending chat sessions")
			case sessions:
				ui.Success("Removed %d chat sessions", rep.Sessions)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sessions, "sessions", false, "drop all pending chat stream sessions")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting")
	return cmd
}

// purgeProducts deletes ids from the store, or only counts the stored ones
// when dryRun is set. Duplicate and blank ids are ignored.
func purgeProducts(ctx context.Context, store geocache.Store, ids []string, dryRun bool) (int, error) {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0, nil
	}

	if !dryRun {
		n, err := store.DeleteMany(ctx, unique)
		return int(n), err
	}

	found := 0
	for _, id := range unique {
		_, err := store.FindByID(ctx, id)
		switch {
		case err == nil:
			found++
		case !errors.Is(err, geocache.ErrNotFound):
			return found, err
		}
	}
	return found, nil
}
