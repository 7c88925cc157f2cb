package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
)

const maxSearchLimit = 100

// Searcher runs orchestrated searches.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

// Geocoder turns a free-text region into a point.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*catalog.GeoPoint, error)
}

// QueryClassifier reads the food query and the named region out of a free
// text search.
type QueryClassifier interface {
	Classify(ctx context.Context, message string) chat.Intent
}

// ProductFinder looks up a single stored product.
type ProductFinder interface {
	FindBySlugOrID(ctx context.Context, key string) (*catalog.Product, error)
}

// SearchHandler handles product search and lookup.
type SearchHandler struct {
	logger     *observability.Logger
	searcher   Searcher
	geocoder   Geocoder
	products   ProductFinder
	classifier QueryClassifier
}

// NewSearchHandler creates a new search handler. geocoder may be nil, in
// which case region lookups are rejected. classifier may be nil, in which
// case a search without coordinates or region is rejected.
func NewSearchHandler(logger *observability.Logger, searcher Searcher, geocoder Geocoder, products ProductFinder, classifier QueryClassifier) *SearchHandler {
	return &SearchHandler{
		logger:     logger,
		searcher:   searcher,
		geocoder:   geocoder,
		products:   products,
		classifier: classifier,
	}
}

// Search handles GET /api/v1/search?q&lat&lon[&region][&limit][&offset].
// Without lat, lon or region the region is read from q itself, as in
// "tacos in Austin".
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	q := strings.TrimSpace(params.Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required", "")
		return
	}

	limit := 0
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	offset := 0
	if raw := params.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", "")
			return
		}
		offset = n
	}

	q, loc, ok := h.resolveLocation(w, r, q)
	if !ok {
		return
	}

	res, err := h.searcher.Search(ctx, search.Query{Text: q, Location: loc, Limit: limit, Offset: offset})
	if err != nil {
		status, msg := statusFor(err)
		h.logger.WithContext(ctx).Error().Err(err).Str("query", q).Msg("Search failed")
		writeError(w, status, msg, "")
		return
	}

	if res.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, res.Products)
}

// resolveLocation reads lat/lon, or geocodes region when no coordinates are
// given. With neither, the classifier may find a region in q, in which case
// the search text narrows to the classified query. It writes the 400 itself
// and reports false on failure.
func (h *SearchHandler) resolveLocation(w http.ResponseWriter, r *http.Request, q string) (string, *catalog.GeoPoint, bool) {
	params := r.URL.Query()
	latRaw, lonRaw := params.Get("lat"), params.Get("lon")
	region := strings.TrimSpace(params.Get("region"))

	if latRaw == "" && lonRaw == "" && region == "" && h.classifier != nil {
		intent := h.classifier.Classify(r.Context(), q)
		if intent.IsSearch() && intent.Region != "" {
			q, region = *intent.Query, intent.Region
		}
	}

	if latRaw == "" && lonRaw == "" && region != "" {
		if h.geocoder == nil {
			writeError(w, http.StatusBadRequest, "region lookup is not available", "")
			return q, nil, false
		}
		loc, err := h.geocoder.Geocode(r.Context(), region)
		if err != nil {
			h.logger.WithContext(r.Context()).Warn().Err(err).Str("region", region).Msg("Region could not be geocoded")
			writeError(w, http.StatusBadRequest, "region could not be geocoded", region)
			return q, nil, false
		}
		return q, loc, true
	}

	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required numeric parameters", "")
		return q, nil, false
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required numeric parameters", "")
		return q, nil, false
	}

	loc := catalog.NewGeoPoint(lat, lon)
	if err := loc.Check(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid coordinates", err.Error())
		return q, nil, false
	}
	return q, loc, true
}

// GetProduct handles GET /api/v1/products/{id}. The key may be a canonical
// id or a slug.
func (h *SearchHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "id"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "product id is required", "")
		return
	}

	p, err := h.products.FindBySlugOrID(r.Context(), key)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithContext(r.Context()).Error().Err(err).Str("product_id", key).Msg("Product lookup failed")
		}
		writeError(w, status, msg, "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Ingester validates and stores provider records.
type Ingester interface {
	Ingest(ctx context.Context, provider string, raws []json.RawMessage) (*search.IngestResult, error)
}

// IngestionHandler handles bulk provider data ingestion.
type IngestionHandler struct {
	logger   *observability.Logger
	ingester Ingester
}

// NewIngestionHandler creates a new ingestion handler.
func NewIngestionHandler(logger *observability.Logger, ingester Ingester) *IngestionHandler {
	return &IngestionHandler{logger: logger, ingester: ingester}
}

// IngestRequestDTO is the body of an ingest request.
type IngestRequestDTO struct {
	Provider string            `json:"provider"`
	Products []json.RawMessage `json:"products"`
}

// IngestResponseDTO is the reply to an ingest request.
type IngestResponseDTO struct {
	Message string               `json:"message"`
	Result  *search.IngestResult `json:"result"`
}

// Ingest handles POST /api/v1/ingest/provider-data.
func (h *IngestionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		writeError(w, http.StatusBadRequest, "provider is required", "")
		return
	}
	if req.Products == nil {
		writeError(w, http.StatusBadRequest, "products must be an array", "")
		return
	}

	res, err := h.ingester.Ingest(r.Context(), req.Provider, req.Products)
	if err != nil {
		status, msg := statusFor(err)
		if !errors.Is(err, search.ErrNoProvider) {
			h.logger.WithContext(r.Context()).Error().Err(err).Str("provider", req.Provider).Msg("Ingest failed")
		}
		writeError(w, status, msg, "")
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponseDTO{
		Message: "Data ingested successfully",
		Result:  res,
	})
}
