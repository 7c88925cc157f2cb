package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

var testOpts = HTTPOptions{Timeout: 2 * time.Second, MaxRetries: 2}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	c := newHTTPClient(testOpts, observability.NopLogger())
	var out map[string]string
	err := c.getJSON(context.Background(), "test", srv.URL, nil, nil, &out)

	require.NoError(t, err)
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "secret upstream details", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newHTTPClient(testOpts, observability.NopLogger())
	var out map[string]any
	err := c.getJSON(context.Background(), "test", srv.URL, nil, nil, &out)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusForbidden, upstream.Status)
	assert.NotContains(t, err.Error(), "secret")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeoapify_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/places", r.URL.Path)
		assert.Equal(t, "circle:-97.7431,30.2672,5000", r.URL.Query().Get("filter"))
		assert.Equal(t, "tacos", r.URL.Query().Get("name"))
		writeJSON(t, w, map[string]any{
			"features": []map[string]any{
				{"properties": map[string]any{
					"place_id":   "p1",
					"name":       "Taco Palace",
					"formatted":  "1 Main St",
					"categories": []string{"catering.restaurant", "catering.restaurant.mexican"},
					"lat":        30.27,
					"lon":        -97.74,
				}},
				{"properties": map[string]any{"place_id": "", "name": "nameless id"}},
			},
		})
	}))
	defer srv.Close()

	g := NewGeoapify(config.GeoapifyConfig{APIKey: "k", BaseURL: srv.URL, RadiusMeters: 5000}, testOpts, observability.NopLogger())
	got := g.Search(context.Background(), "tacos", catalog.NewGeoPoint(30.2672, -97.7431))

	require.Len(t, got, 1)
	assert.Equal(t, "geoapify::p1", got[0].CanonicalProductID)
	assert.Equal(t, []string{"restaurant", "mexican"}, got[0].Tags)
	assert.InDelta(t, 30.27, got[0].Location.Lat(), 1e-9)
	assert.Equal(t, "p1", got[0].Sources[0].ProviderProductID)
}

func TestGeoapify_FailureReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGeoapify(config.GeoapifyConfig{APIKey: "k", BaseURL: srv.URL}, testOpts, observability.NopLogger())
	got := g.Search(context.Background(), "tacos", catalog.NewGeoPoint(1, 1))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGeoapify_MockWithoutKey(t *testing.T) {
	g := NewGeoapify(config.GeoapifyConfig{}, testOpts, observability.NopLogger())

	assert.Empty(t, g.Search(context.Background(), "pizza", nil))
	got := g.Search(context.Background(), "pizza", catalog.NewGeoPoint(10, 10))
	require.Len(t, got, 1)
	assert.Equal(t, "geoapify::mock-1", got[0].CanonicalProductID)
}

func TestSerpAPI_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "google_maps", r.URL.Query().Get("engine"))
		assert.Equal(t, "@30.2672,-97.7431,15z", r.URL.Query().Get("ll"))
		writeJSON(t, w, map[string]any{
			"local_results": []map[string]any{{
				"place_id":        "ChIJ1",
				"title":           "Burger Barn",
				"address":         "2 Side St",
				"rating":          4.4,
				"reviews":         120,
				"price":           "$10–20",
				"type":            "Hamburger restaurant",
				"thumbnail":       "https://img/burger.jpg",
				"gps_coordinates": map[string]float64{"latitude": 30.26, "longitude": -97.75},
			}},
		})
	}))
	defer srv.Close()

	s := NewSerpAPI(config.SerpAPIConfig{APIKey: "k", BaseURL: srv.URL, Zoom: 15}, testOpts, observability.NopLogger())
	got := s.Search(context.Background(), "burgers", catalog.NewGeoPoint(30.2672, -97.7431))

	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, "serpapi::ChIJ1", p.CanonicalProductID)
	assert.Equal(t, []string{"https://img/burger.jpg"}, p.Images)
	assert.Equal(t, 10.0, p.Price.Amount)
	require.NotNil(t, p.NumRatings)
	assert.Equal(t, 120, *p.NumRatings)
	assert.InDelta(t, -97.75, p.Location.Lon(), 1e-9)
}

func TestParsePriceAmount(t *testing.T) {
	assert.Equal(t, 0.0, parsePriceAmount("$$"))
	assert.Equal(t, 12.5, parsePriceAmount("$12.50"))
	assert.Equal(t, 10.0, parsePriceAmount("$10–20"))
	assert.Equal(t, 0.0, parsePriceAmount(""))
}

func TestGooglePlaces_Enrich(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/maps/api/place/findplacefromtext/json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Taco Palace", r.URL.Query().Get("input"))
		assert.Equal(t, "circle:2000@30.2672,-97.7431", r.URL.Query().Get("locationbias"))
		writeJSON(t, w, map[string]any{"status": "OK", "candidates": []map[string]string{{"place_id": "gp-1"}}})
	})
	mux.HandleFunc("/maps/api/place/details/json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gp-1", r.URL.Query().Get("place_id"))
		writeJSON(t, w, map[string]any{
			"status": "OK",
			"result": map[string]any{
				"photos":             []map[string]string{{"photo_reference": "ref-1"}},
				"reviews":            []map[string]any{{"author_name": "Ana", "rating": 5, "text": "Great al pastor", "time": 1700000000}},
				"website":            "https://tacos.example",
				"rating":             4.6,
				"user_ratings_total": 321,
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGooglePlaces(config.GooglePlacesConfig{APIKey: "k", BaseURL: srv.URL, BiasRadiusMeters: 2000, PhotoMaxWidth: 400}, testOpts, observability.NopLogger())
	e := g.Enrich(context.Background(), catalog.Product{
		CanonicalProductID: "geoapify::p1",
		Title:              "Taco Palace",
		Location:           catalog.NewGeoPoint(30.2672, -97.7431),
	})

	require.NotNil(t, e)
	require.Len(t, e.Images, 1)
	assert.True(t, strings.HasPrefix(e.Images[0], srv.URL+"/maps/api/place/photo?"))
	assert.Contains(t, e.Images[0], "photoreference=ref-1")
	assert.Contains(t, e.Images[0], "maxwidth=400")
	require.Len(t, e.Comments, 1)
	assert.Equal(t, GooglePlacesName, e.Comments[0].Origin)
	assert.Equal(t, "Ana", e.Comments[0].Author)
	assert.Equal(t, "https://tacos.example", e.Website)
	require.NotNil(t, e.Source)
	assert.Equal(t, "gp-1", e.Source.ProviderProductID)
	assert.Equal(t, 321, *e.NumRatings)
}

func TestGooglePlaces_NothingToEnrich(t *testing.T) {
	g := NewGooglePlaces(config.GooglePlacesConfig{}, testOpts, observability.NopLogger())
	assert.Nil(t, g.Enrich(context.Background(), catalog.Product{Title: "x", Location: catalog.NewGeoPoint(1, 1)}))

	g = NewGooglePlaces(config.GooglePlacesConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, testOpts, observability.NopLogger())
	assert.Nil(t, g.Enrich(context.Background(), catalog.Product{Title: "no location"}))
}

func TestCMS_SearchFiltersCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2022-03-10/data/query/production", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{"result": []map[string]any{
			{
				"_id": "doc-1", "name": "Jalapeño Chips", "price": 3.5, "details": "Crunchy and hot",
				"slug":  map[string]string{"current": "jalapeno-chips"},
				"image": []map[string]any{{"asset": map[string]string{"_ref": "image-abc123-800x600-jpg"}}},
			},
			{"_id": "doc-2", "name": "Pretzel Bites", "price": 2.0, "details": "Salty"},
		}})
	}))
	defer srv.Close()

	c := NewCMS(config.CMSConfig{ProjectID: "proj", Dataset: "production", APIVersion: "2022-03-10", Token: "tok", BaseURL: srv.URL}, testOpts, observability.NopLogger())

	all := c.Search(context.Background(), "", nil)
	assert.Len(t, all, 2)

	got := c.Search(context.Background(), "jalapeno", nil)
	require.Len(t, got, 1)
	assert.Equal(t, "cms::doc-1", got[0].CanonicalProductID)
	assert.Equal(t, "jalapeno-chips", got[0].Slug)
	assert.Equal(t, []string{"https://cdn.sanity.io/images/proj/production/abc123-800x600.jpg?w=400"}, got[0].Images)
	assert.Nil(t, got[0].Location)
}

func TestCMS_MockCatalogWithoutProject(t *testing.T) {
	c := NewCMS(config.CMSConfig{}, testOpts, observability.NopLogger())
	assert.Len(t, c.Catalog(context.Background()), 2)
	assert.Equal(t, "SnacksCo", c.Brand())
}

func TestGeocoder_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "nowhere" {
			writeJSON(t, w, []any{})
			return
		}
		writeJSON(t, w, []map[string]string{{"lat": "30.2672", "lon": "-97.7431", "display_name": "Austin"}})
	}))
	defer srv.Close()

	g := NewGeocoder(config.GeocoderConfig{BaseURL: srv.URL}, testOpts, observability.NopLogger())

	p, err := g.Geocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	assert.InDelta(t, 30.2672, p.Lat(), 1e-9)
	assert.InDelta(t, -97.7431, p.Lon(), 1e-9)

	_, err = g.Geocode(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNoGeocodeMatch)
}

func TestRegistry_FromConfigKeepsOrder(t *testing.T) {
	cfg := config.DefaultConfig().Providers
	cfg.Enabled = []string{"cms", "Geoapify", "google_places", " CMS "}

	r, err := NewRegistryFromConfig(cfg, observability.NopLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{CMSName, GeoapifyName, GooglePlacesName}, r.Names())
	require.Len(t, r.Searchers(), 2)
	assert.Equal(t, CMSName, r.Searchers()[0].Name())
	require.Len(t, r.Enrichers(), 1)

	_, ok := r.CMS()
	assert.True(t, ok)

	cfg.Enabled = []string{"doordash"}
	_, err = NewRegistryFromConfig(cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestRegistry_DuplicateName(t *testing.T) {
	logger := observability.NopLogger()
	_, err := NewRegistry(NewCMS(config.CMSConfig{}, testOpts, logger), NewCMS(config.CMSConfig{}, testOpts, logger))
	assert.Error(t, err)
}
