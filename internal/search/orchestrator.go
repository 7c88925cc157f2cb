// Package search answers product searches from the geo-cache when it can and
// from live provider connectors when it must, persisting what it fetches.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/connectors"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// Options configures the orchestrator.
type Options struct {
	CacheRadiusMeters float64
	Limit             int
	// StaleAfter marks cached hits older than this as stale and triggers a
	// background refresh. Zero disables the check.
	StaleAfter      time.Duration
	ProviderTimeout time.Duration
	RefreshTimeout  time.Duration
}

// Query is a search request. Offset skips that many results of the ranked
// list before Limit applies.
type Query struct {
	Text     string
	Location *catalog.GeoPoint
	Limit    int
	Offset   int
}

// Result is the outcome of a search.
type Result struct {
	Products  []catalog.Product `json:"products"`
	CacheHit  bool              `json:"cacheHit"`
	Stale     bool              `json:"stale"`
	Providers []string          `json:"providers"`
}

// Orchestrator coordinates cache lookups, provider fan-out, persistence and
// background enrichment.
type Orchestrator struct {
	store    geocache.Store
	registry *connectors.Registry
	enricher *Enricher
	opts     Options
	logger   *observability.Logger

	refreshes singleflight.Group
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. enricher may be nil.
func NewOrchestrator(store geocache.Store, registry *connectors.Registry, enricher *Enricher, opts Options, logger *observability.Logger) *Orchestrator {
	if opts.CacheRadiusMeters <= 0 {
		opts.CacheRadiusMeters = 5000
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 8 * time.Second
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:    store,
		registry: registry,
		enricher: enricher,
		opts:     opts,
		logger:   logger.WithComponent("search"),
		now:      time.Now,
	}
}

// Search runs CHECK_CACHE, then on a miss FAN_OUT and PERSIST, and returns
// what it found. Fetched products are queued for enrichment after the
// response is assembled.
func (o *Orchestrator) Search(ctx context.Context, q Query) (*Result, error) {
	q = o.normalize(q)
	log := o.logger.WithContext(ctx)

	cached, err := o.checkCache(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		res := &Result{Products: page(cached, q.Offset, q.Limit), CacheHit: true, Providers: []string{}}
		if o.isStale(cached) {
			res.Stale = true
			o.scheduleRefresh(ctx, q)
		}
		log.Debug().
			Str("query", q.Text).
			Int("count", len(cached)).
			Bool("stale", res.Stale).
			Msg("Search served from geo-cache")
		return res, nil
	}

	res, err := o.fetchAndPersist(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, p := range res.Products {
		if o.enricher != nil {
			o.enricher.Submit(p)
		}
	}

	res.Products = page(res.Products, q.Offset, q.Limit)
	return res, nil
}

// page returns products[offset:offset+limit], clamped to the slice.
func page(products []catalog.Product, offset, limit int) []catalog.Product {
	if offset >= len(products) {
		return []catalog.Product{}
	}
	products = products[offset:]
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return products
}

// Refresh bypasses the cache and runs FAN_OUT and PERSIST.
func (o *Orchestrator) Refresh(ctx context.Context, q Query) (*Result, error) {
	q = o.normalize(q)
	res, err := o.fetchAndPersist(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, p := range res.Products {
		if o.enricher != nil {
			o.enricher.Submit(p)
		}
	}
	return res, nil
}

func (o *Orchestrator) normalize(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = o.opts.Limit
	}
	q.Offset = max(q.Offset, 0)
	return q
}

func (o *Orchestrator) checkCache(ctx context.Context, q Query) ([]catalog.Product, error) {
	var (
		cached []catalog.Product
		err    error
	)
	if q.Location != nil {
		cached, err = o.store.QueryNear(ctx, *q.Location, o.opts.CacheRadiusMeters, q.Text, q.Offset+q.Limit)
	} else {
		cached, err = o.store.SearchText(ctx, q.Text, q.Offset+q.Limit)
	}
	if err != nil {
		o.logger.WithContext(ctx).Error().Err(err).Str("query", q.Text).Msg("Geo-cache lookup failed")
		if errors.Is(err, geocache.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", geocache.ErrStoreUnavailable, err)
	}
	return cached, nil
}

func (o *Orchestrator) isStale(products []catalog.Product) bool {
	if o.opts.StaleAfter <= 0 || len(products) == 0 {
		return false
	}
	cutoff := o.now().Add(-o.opts.StaleAfter)
	for _, p := range products {
		if p.LastFetchedAt.After(cutoff) {
			return false
		}
	}
	return true
}

// scheduleRefresh runs a detached refresh. Concurrent requests for the same
// query share one refresh.
func (o *Orchestrator) scheduleRefresh(ctx context.Context, q Query) {
	key := q.Text
	if q.Location != nil {
		key += "@" + fmt.Sprintf("%.3f,%.3f", q.Location.Lat(), q.Location.Lon())
	}

	detached := context.WithoutCancel(ctx)
	o.refreshes.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(detached, o.opts.RefreshTimeout)
		defer cancel()

		res, err := o.Refresh(rctx, q)
		if err != nil {
			o.logger.Warn().Err(err).Str("query", q.Text).Msg("Background refresh failed")
			return nil, err
		}
		o.logger.Info().Str("query", q.Text).Int("count", len(res.Products)).Msg("Stale results refreshed")
		return nil, nil
	})
}

func (o *Orchestrator) fetchAndPersist(ctx context.Context, q Query) (*Result, error) {
	log := o.logger.WithContext(ctx)

	products, providers := o.fanOut(ctx, q)

	valid, failures := catalog.ValidateBatch(products)
	for _, f := range failures {
		log.Warn().Err(f).Msg("Dropping invalid provider result")
	}

	if len(valid) > 0 {
		bulk, err := o.store.Upsert(ctx, valid)
		if err != nil {
			if errors.Is(err, geocache.ErrStoreUnavailable) {
				log.Error().Err(err).Int("count", len(valid)).Msg("Geo-cache persist failed")
				return nil, err
			}
			log.Warn().Err(err).Msg("Geo-cache persist reported an error")
		}
		if bulk != nil && bulk.Failed > 0 {
			for _, ie := range bulk.Errors {
				log.Warn().
					Str("product_id", ie.ProductID).
					Int("index", ie.Index).
					Str("reason", ie.Message).
					Msg("Product not persisted")
			}
		}
	}

	log.Info().
		Str("query", q.Text).
		Int("fetched", len(products)).
		Int("valid", len(valid)).
		Strs("providers", providers).
		Msg("Search fetched from providers")

	return &Result{Products: valid, Providers: providers}, nil
}

// fanOut queries every searcher concurrently and merges results in registry
// order, keeping the first occurrence of each id.
func (o *Orchestrator) fanOut(ctx context.Context, q Query) ([]catalog.Product, []string) {
	searchers := o.registry.Searchers()
	results := make([][]catalog.Product, len(searchers))

	var g errgroup.Group
	for i, s := range searchers {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
			defer cancel()

			start := time.Now()
			results[i] = s.Search(sctx, q.Text, q.Location)
			o.logger.Debug().
				Str("provider", s.Name()).
				Int("count", len(results[i])).
				Dur("elapsed", time.Since(start)).
				Msg("Provider search finished")
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	merged := make([]catalog.Product, 0)
	providers := []string{}
	for i, batch := range results {
		if len(batch) > 0 {
			providers = append(providers, searchers[i].Name())
		}
		for _, p := range batch {
			if _, dup := seen[p.CanonicalProductID]; dup {
				continue
			}
			seen[p.CanonicalProductID] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged, providers
}
