package search

import (
	"context"
	"sync"
	"time"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/connectors"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// Publisher announces completed enrichments.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// EnrichmentEvent is published after a product has been enriched.
type EnrichmentEvent struct {
	CanonicalProductID string    `json:"canonicalProductId"`
	Provider           string    `json:"provider"`
	Images             int       `json:"images"`
	Comments           int       `json:"comments"`
	At                 time.Time `json:"at"`
}

// EnricherOptions configures the enrichment worker pool.
type EnricherOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Enricher runs enrichment connectors against freshly fetched products on a
// fixed pool of workers fed by a bounded queue.
type Enricher struct {
	store     geocache.Store
	enrichers []connectors.Enricher
	publisher Publisher
	opts      EnricherOptions
	logger    *observability.Logger

	queue  chan catalog.Product
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewEnricher creates an enricher. publisher may be nil.
func NewEnricher(store geocache.Store, enrichers []connectors.Enricher, publisher Publisher, opts EnricherOptions, logger *observability.Logger) *Enricher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Enricher{
		store:     store,
		enrichers: enrichers,
		publisher: publisher,
		opts:      opts,
		logger:    logger.WithComponent("search.enricher"),
		queue:     make(chan catalog.Product, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (e *Enricher) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for p := range e.queue {
				e.enrich(p)
			}
		}()
	}

	e.logger.Info().
		Int("workers", e.opts.Workers).
		Int("queue", e.opts.QueueSize).
		Int("enrichers", len(e.enrichers)).
		Msg("Enrichment workers started")
}

// Submit queues p for enrichment without blocking. It reports false when the
// queue is full or the enricher is stopped; the task is then dropped.
func (e *Enricher) Submit(p catalog.Product) bool {
	if len(e.enrichers) == 0 {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}

	select {
	case e.queue <- p:
		return true
	default:
		e.logger.Warn().Str("product_id", p.CanonicalProductID).Msg("Enrichment queue full, dropping task")
		return false
	}
}

// Stop stops accepting work and waits for queued tasks to finish. When ctx
// ends first, in-flight enrichments are cancelled and ctx's error returned.
func (e *Enricher) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Info().Msg("Enrichment workers drained")
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		e.logger.Warn().Msg("Enrichment drain deadline exceeded, in-flight work cancelled")
		return ctx.Err()
	}
}

func (e *Enricher) enrich(p catalog.Product) {
	for _, en := range e.enrichers {
		if e.ctx.Err() != nil {
			return
		}
		e.runOne(en, p)
	}
}

func (e *Enricher) runOne(en connectors.Enricher, p catalog.Product) {
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	res := en.Enrich(ctx, p)
	if res.Empty() {
		return
	}

	if err := e.store.ApplyEnrichment(ctx, p.CanonicalProductID, *res); err != nil {
		e.logger.Warn().
			Err(err).
			Str("product_id", p.CanonicalProductID).
			Str("provider", en.Name()).
			Msg("Failed to apply enrichment")
		return
	}

	e.logger.Debug().
		Str("product_id", p.CanonicalProductID).
		Str("provider", en.Name()).
		Int("images", len(res.Images)).
		Int("comments", len(res.Comments)).
		Dur("elapsed", time.Since(start)).
		Msg("Product enriched")

	if e.publisher == nil {
		return
	}
	evt := EnrichmentEvent{
		CanonicalProductID: p.CanonicalProductID,
		Provider:           en.Name(),
		Images:             len(res.Images),
		Comments:           len(res.Comments),
		At:                 time.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, cache.EnrichmentChannel, evt); err != nil {
		e.logger.Warn().Err(err).Str("product_id", p.CanonicalProductID).Msg("Failed to publish enrichment event")
	}
}
