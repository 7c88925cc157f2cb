// Package connectors adapts external data providers into canonical products.
//
// Every connector is best-effort: upstream failures are logged and turned into
// empty results, never returned to the caller. Connectors are stateless apart
// from their HTTP client and rate limiter and never persist anything.
package connectors

import (
	"context"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
)

// Capabilities describes what a connector can do.
type Capabilities struct {
	Search bool
	Enrich bool
	// Geo is true when search results carry locations and honour a search point.
	Geo bool
}

// Connector is the common surface of all provider adapters.
type Connector interface {
	Name() string
	Capabilities() Capabilities
}

// Searcher is a connector that produces products for a free-text query.
type Searcher interface {
	Connector
	Search(ctx context.Context, query string, loc *catalog.GeoPoint) []catalog.Product
}

// Enricher is a connector that adds secondary data to an existing product.
type Enricher interface {
	Connector
	// Enrich returns nil when the provider has nothing to add.
	Enrich(ctx context.Context, p catalog.Product) *catalog.Enrichment
}

var (
	_ Searcher = (*Geoapify)(nil)
	_ Searcher = (*SerpAPI)(nil)
	_ Searcher = (*CMS)(nil)
	_ Enricher = (*GooglePlaces)(nil)
)
