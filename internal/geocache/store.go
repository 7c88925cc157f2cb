// Package geocache persists canonical products and answers proximity and
// text queries over them. It is the only writer of product documents.
package geocache

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

var (
	// ErrStoreUnavailable reports that the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("geo-cache store unavailable")
	// ErrNotFound reports a missing product.
	ErrNotFound = errors.New("product not found")
)

// Store is the geo-cache persistence contract.
type Store interface {
	// Upsert merges products by canonical id. A returned error means the store
	// could not be reached; per-item failures are reported in the result.
	Upsert(ctx context.Context, products []catalog.Product) (*BulkResult, error)
	// QueryNear returns products within radiusMeters of point that match text.
	// An empty text matches everything in range.
	QueryNear(ctx context.Context, point catalog.GeoPoint, radiusMeters float64, text string, limit int) ([]catalog.Product, error)
	// SearchText matches text against every product, located or not.
	SearchText(ctx context.Context, text string, limit int) ([]catalog.Product, error)
	FindByID(ctx context.Context, id string) (*catalog.Product, error)
	FindBySlugOrID(ctx context.Context, key string) (*catalog.Product, error)
	DeleteMany(ctx context.Context, ids []string) (int64, error)
	// ApplyEnrichment appends enrichment data to a stored product without
	// replacing fields it does not carry.
	ApplyEnrichment(ctx context.Context, id string, e catalog.Enrichment) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// BulkResult summarises an Upsert.
type BulkResult struct {
	Matched  int64       `json:"matched"`
	Modified int64       `json:"modified"`
	Upserted int64       `json:"upserted"`
	Failed   int         `json:"failed"`
	Errors   []ItemError `json:"errors,omitempty"`
}

// ItemError is the failure of a single product within an Upsert.
type ItemError struct {
	Index     int    `json:"index"`
	ProductID string `json:"productId"`
	Message   string `json:"message"`
}

func (r *BulkResult) addError(index int, productID, msg string) {
	for _, e := range r.Errors {
		if e.Index == index {
			return
		}
	}
	r.Failed++
	r.Errors = append(r.Errors, ItemError{Index: index, ProductID: productID, Message: msg})
}

// New returns a MongoStore when a URI is configured and a MemoryStore otherwise.
func New(cfg config.MongoConfig, logger *observability.Logger) (Store, error) {
	if cfg.URI == "" {
		logger.Warn().Msg("MongoDB URI not configured, using in-memory geo-cache")
		return NewMemoryStore(), nil
	}
	store, err := NewMongoStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create mongo store: %w", err)
	}
	return store, nil
}
