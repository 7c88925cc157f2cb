package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/connectors"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

var here = catalog.NewGeoPoint(30.2672, -97.7431)

type stubSearcher struct {
	name     string
	products []catalog.Product
	delay    time.Duration
	calls    atomic.Int32
}

func (s *stubSearcher) Name() string { return s.name }
func (s *stubSearcher) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{Search: true, Geo: true}
}
func (s *stubSearcher) Search(ctx context.Context, query string, loc *catalog.GeoPoint) []catalog.Product {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return []catalog.Product{}
		}
	}
	return s.products
}

type stubEnricher struct {
	name   string
	result *catalog.Enrichment
	mu     sync.Mutex
	seen   []string
}

func (e *stubEnricher) Name() string { return e.name }
func (e *stubEnricher) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{Enrich: true}
}
func (e *stubEnricher) Enrich(ctx context.Context, p catalog.Product) *catalog.Enrichment {
	e.mu.Lock()
	e.seen = append(e.seen, p.CanonicalProductID)
	e.mu.Unlock()
	return e.result
}

type failingStore struct{ geocache.Store }

func (failingStore) QueryNear(context.Context, catalog.GeoPoint, float64, string, int) ([]catalog.Product, error) {
	return nil, geocache.ErrStoreUnavailable
}

type brokenWriteStore struct{ *geocache.MemoryStore }

func (brokenWriteStore) Upsert(context.Context, []catalog.Product) (*geocache.BulkResult, error) {
	return nil, geocache.ErrStoreUnavailable
}

func place(provider, id, title string) catalog.Product {
	return catalog.Product{
		CanonicalProductID: catalog.ProductID(provider, id),
		Title:              title,
		Location:           catalog.NewGeoPoint(30.2680, -97.7430),
		Sources:            []catalog.Source{{Provider: provider, ProviderProductID: id}},
	}
}

func newOrchestrator(t *testing.T, store geocache.Store, enricher *Enricher, cs ...connectors.Connector) *Orchestrator {
	t.Helper()
	reg, err := connectors.NewRegistry(cs...)
	require.NoError(t, err)
	return NewOrchestrator(store, reg, enricher, Options{
		CacheRadiusMeters: 5000,
		Limit:             20,
		ProviderTimeout:   200 * time.Millisecond,
	}, observability.NopLogger())
}

func TestSearch_MissFetchesPersistsAndThenHits(t *testing.T) {
	store := geocache.NewMemoryStore()
	a := &stubSearcher{name: "geoapify", products: []catalog.Product{place("geoapify", "1", "Taco Town")}}
	b := &stubSearcher{name: "serpapi", products: []catalog.Product{place("serpapi", "9", "Taco Shack")}}
	o := newOrchestrator(t, store, nil, a, b)
	ctx := context.Background()

	first, err := o.Search(ctx, Query{Text: "taco", Location: here})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.Len(t, first.Products, 2)
	assert.Equal(t, "geoapify::1", first.Products[0].CanonicalProductID)
	assert.Equal(t, []string{"geoapify", "serpapi"}, first.Providers)
	assert.Equal(t, 2, store.Len())

	second, err := o.Search(ctx, Query{Text: "taco", Location: here})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Len(t, second.Products, 2)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestSearch_OffsetPages(t *testing.T) {
	store := geocache.NewMemoryStore()
	s := &stubSearcher{name: "geoapify", products: []catalog.Product{
		place("geoapify", "1", "Taco One"),
		place("geoapify", "2", "Taco Two"),
		place("geoapify", "3", "Taco Three"),
	}}
	o := newOrchestrator(t, store, nil, s)
	ctx := context.Background()

	miss, err := o.Search(ctx, Query{Text: "taco", Location: here, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.False(t, miss.CacheHit)
	require.Len(t, miss.Products, 2)
	assert.Equal(t, "geoapify::2", miss.Products[0].CanonicalProductID)

	hit, err := o.Search(ctx, Query{Text: "taco", Location: here, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.True(t, hit.CacheHit)
	require.Len(t, hit.Products, 1)
	assert.Equal(t, "geoapify::3", hit.Products[0].CanonicalProductID)

	past, err := o.Search(ctx, Query{Text: "taco", Location: here, Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past.Products)
}

func TestSearch_PersistsOnlyValidResults(t *testing.T) {
	store := geocache.NewMemoryStore()
	bad := place("geoapify", "2", "")
	s := &stubSearcher{name: "geoapify", products: []catalog.Product{
		place("geoapify", "1", "Pho Place"),
		bad,
		place("geoapify", "3", "Pho Real"),
	}}
	o := newOrchestrator(t, store, nil, s)

	res, err := o.Search(context.Background(), Query{Text: "pho", Location: here})
	require.NoError(t, err)
	assert.Len(t, res.Products, 2)
	assert.Equal(t, 2, store.Len())
}

func TestSearch_SlowProviderIsCutOff(t *testing.T) {
	fast := &stubSearcher{name: "fast", products: []catalog.Product{place("fast", "1", "Quick Bite")}}
	slow := &stubSearcher{name: "slow", delay: 5 * time.Second, products: []catalog.Product{place("slow", "1", "Slow Food")}}
	o := newOrchestrator(t, geocache.NewMemoryStore(), nil, slow, fast)

	start := time.Now()
	res, err := o.Search(context.Background(), Query{Text: "bite", Location: here})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, res.Products, 1)
	assert.Equal(t, []string{"fast"}, res.Providers)
}

func TestSearch_DeduplicatesByID(t *testing.T) {
	a := &stubSearcher{name: "a", products: []catalog.Product{place("geoapify", "1", "First Copy")}}
	b := &stubSearcher{name: "b", products: []catalog.Product{place("geoapify", "1", "Second Copy")}}
	o := newOrchestrator(t, geocache.NewMemoryStore(), nil, a, b)

	res, err := o.Search(context.Background(), Query{Text: "copy", Location: here})
	require.NoError(t, err)
	require.Len(t, res.Products, 1)
	assert.Equal(t, "First Copy", res.Products[0].Title)
}

func TestSearch_StoreUnavailable(t *testing.T) {
	o := newOrchestrator(t, failingStore{}, nil, &stubSearcher{name: "a"})
	_, err := o.Search(context.Background(), Query{Text: "x", Location: here})
	assert.True(t, errors.Is(err, geocache.ErrStoreUnavailable))

	o = newOrchestrator(t, brokenWriteStore{geocache.NewMemoryStore()}, nil,
		&stubSearcher{name: "a", products: []catalog.Product{place("a", "1", "Thing")}})
	_, err = o.Search(context.Background(), Query{Text: "thing", Location: here})
	assert.ErrorIs(t, err, geocache.ErrStoreUnavailable)
}

func TestSearch_StaleHitSchedulesRefresh(t *testing.T) {
	store := geocache.NewMemoryStore()
	old := place("geoapify", "1", "Old Diner")
	old.LastFetchedAt = time.Now().Add(-48 * time.Hour)
	_, err := store.Upsert(context.Background(), []catalog.Product{old})
	require.NoError(t, err)

	fresh := place("geoapify", "1", "Old Diner")
	s := &stubSearcher{name: "geoapify", products: []catalog.Product{fresh}}
	reg, err := connectors.NewRegistry(s)
	require.NoError(t, err)
	o := NewOrchestrator(store, reg, nil, Options{StaleAfter: 24 * time.Hour}, observability.NopLogger())

	res, err := o.Search(context.Background(), Query{Text: "diner", Location: here})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.True(t, res.Stale)

	require.Eventually(t, func() bool {
		p, err := store.FindByID(context.Background(), "geoapify::1")
		return err == nil && time.Since(p.LastFetchedAt) < time.Hour
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestEnricher_AppliesAndPublishes(t *testing.T) {
	store := geocache.NewMemoryStore()
	mem := cache.NewMemoryClient(10)
	defer mem.Close()

	events, unsubscribe, err := mem.Subscribe(context.Background(), cache.EnrichmentChannel)
	require.NoError(t, err)
	defer unsubscribe()

	en := &stubEnricher{name: "google_places", result: &catalog.Enrichment{
		Images:   []string{"https://img/extra.jpg"},
		Comments: []catalog.Comment{{ID: "r1", Text: "lovely", Origin: "google_places"}},
	}}
	enricher := NewEnricher(store, []connectors.Enricher{en}, mem, EnricherOptions{Workers: 2, QueueSize: 8, Timeout: time.Second}, observability.NopLogger())
	enricher.Start()

	s := &stubSearcher{name: "geoapify", products: []catalog.Product{place("geoapify", "1", "Dumpling Den")}}
	o := newOrchestrator(t, store, enricher, s)

	_, err = o.Search(context.Background(), Query{Text: "dumpling", Location: here})
	require.NoError(t, err)

	select {
	case msg := <-events:
		assert.Contains(t, string(msg), `"canonicalProductId":"geoapify::1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no enrichment event")
	}

	require.NoError(t, enricher.Stop(context.Background()))

	p, err := store.FindByID(context.Background(), "geoapify::1")
	require.NoError(t, err)
	assert.Contains(t, p.Images, "https://img/extra.jpg")
	require.Len(t, p.Comments, 1)
	assert.Len(t, p.Sources, 1)
}

func TestEnricher_FullQueueDropsWithoutBlocking(t *testing.T) {
	en := &stubEnricher{name: "e"}
	enricher := NewEnricher(geocache.NewMemoryStore(), []connectors.Enricher{en}, nil, EnricherOptions{Workers: 1, QueueSize: 1}, observability.NopLogger())

	assert.True(t, enricher.Submit(place("a", "1", "One")))
	assert.False(t, enricher.Submit(place("a", "2", "Two")))

	require.NoError(t, enricher.Stop(context.Background()))
	assert.False(t, enricher.Submit(place("a", "3", "Three")))
}

func TestEnricher_EmptyResultLeavesProductUntouched(t *testing.T) {
	store := geocache.NewMemoryStore()
	p := place("geoapify", "1", "Plain")
	_, err := store.Upsert(context.Background(), []catalog.Product{p})
	require.NoError(t, err)
	before, err := store.FindByID(context.Background(), "geoapify::1")
	require.NoError(t, err)

	en := &stubEnricher{name: "e"}
	enricher := NewEnricher(store, []connectors.Enricher{en}, nil, EnricherOptions{Workers: 1}, observability.NopLogger())
	enricher.Start()
	require.True(t, enricher.Submit(p))
	require.NoError(t, enricher.Stop(context.Background()))

	after, err := store.FindByID(context.Background(), "geoapify::1")
	require.NoError(t, err)
	assert.Equal(t, before.LastFetchedAt, after.LastFetchedAt)
	assert.Equal(t, []string{"geoapify::1"}, en.seen)
}
