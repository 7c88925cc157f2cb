package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
)

// ErrNoProvider is returned when an ingest batch names no provider.
var ErrNoProvider = errors.New("provider is required")

// Rejection describes a record that was not ingested.
type Rejection struct {
	Index     int    `json:"index"`
	ProductID string `json:"canonicalProductId,omitempty"`
	Reason    string `json:"reason"`
}

// IngestResult summarizes an ingest batch.
type IngestResult struct {
	Received int                  `json:"received"`
	Accepted int                  `json:"accepted"`
	Rejected []Rejection          `json:"rejected"`
	Bulk     *geocache.BulkResult `json:"bulk,omitempty"`
}

// Ingest validates each raw record independently and upserts the valid ones.
// Records without sources are attributed to provider. Only store
// unavailability is returned as an error; per-record problems are reported
// in the result.
func (o *Orchestrator) Ingest(ctx context.Context, provider string, raws []json.RawMessage) (*IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, ErrNoProvider
	}
	log := o.logger.WithContext(ctx)

	res := &IngestResult{Received: len(raws), Rejected: []Rejection{}}
	valid := make([]catalog.Product, 0, len(raws))
	indexes := make([]int, 0, len(raws))
	for i, raw := range raws {
		p, err := catalog.ValidateRaw(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, rejection(i, err))
			continue
		}
		if len(p.Sources) == 0 {
			_, providerID, _ := catalog.SplitProductID(p.CanonicalProductID)
			p.Sources = []catalog.Source{{
				Provider:          provider,
				ProviderProductID: providerID,
				Price:             p.Price.Amount,
				LastFetchedAt:     p.LastFetchedAt,
			}}
		}
		valid = append(valid, p)
		indexes = append(indexes, i)
	}

	if len(valid) == 0 {
		return res, nil
	}

	bulk, err := o.store.Upsert(ctx, valid)
	if err != nil && (bulk == nil || errors.Is(err, geocache.ErrStoreUnavailable)) {
		log.Error().Err(err).Str("provider", provider).Int("count", len(valid)).Msg("Ingest persist failed")
		if errors.Is(err, geocache.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, errors.Join(geocache.ErrStoreUnavailable, err)
	}
	res.Bulk = bulk

	failed := make(map[int]bool)
	for _, ie := range bulk.Errors {
		failed[ie.Index] = true
		res.Rejected = append(res.Rejected, Rejection{Index: indexes[ie.Index], ProductID: ie.ProductID, Reason: ie.Message})
	}
	for i, p := range valid {
		if failed[i] {
			continue
		}
		res.Accepted++
		if o.enricher != nil {
			o.enricher.Submit(p)
		}
	}

	log.Info().
		Str("provider", provider).
		Int("received", res.Received).
		Int("accepted", res.Accepted).
		Int("rejected", len(res.Rejected)).
		Msg("Provider data ingested")
	return res, nil
}

func rejection(i int, err error) Rejection {
	r := Rejection{Index: i, Reason: err.Error()}
	var ve *catalog.ValidationError
	if errors.As(err, &ve) {
		r.ProductID = ve.ProductID
		r.Reason = ve.Field + ": " + ve.Reason
	}
	return r
}
