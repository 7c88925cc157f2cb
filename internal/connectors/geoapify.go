package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// GeoapifyName is the provider namespace for Geoapify places.
const GeoapifyName = "geoapify"

// Geoapify searches restaurants around a point with the Geoapify Places API.
// Without an API key it serves a small deterministic mock set.
type Geoapify struct {
	cfg    config.GeoapifyConfig
	http   *httpClient
	logger *observability.Logger
}

// NewGeoapify creates a Geoapify connector.
func NewGeoapify(cfg config.GeoapifyConfig, opts HTTPOptions, logger *observability.Logger) *Geoapify {
	logger = logger.WithComponent("connector.geoapify")
	return &Geoapify{cfg: cfg, http: newHTTPClient(opts, logger), logger: logger}
}

func (g *Geoapify) Name() string { return GeoapifyName }

func (g *Geoapify) Capabilities() Capabilities {
	return Capabilities{Search: true, Geo: true}
}

type geoapifyResponse struct {
	Features []struct {
		Properties struct {
			PlaceID    string   `json:"place_id"`
			Name       string   `json:"name"`
			Formatted  string   `json:"formatted"`
			Address2   string   `json:"address_line2"`
			Categories []string `json:"categories"`
			Lat        float64  `json:"lat"`
			Lon        float64  `json:"lon"`
			Website    string   `json:"website"`
			Contact    struct {
				Phone string `json:"phone"`
			} `json:"contact"`
			Catering struct {
				Cuisine string `json:"cuisine"`
			} `json:"catering"`
		} `json:"properties"`
	} `json:"features"`
}

// Search returns nearby restaurants matching query. A nil location yields no
// results since Geoapify has no useful non-geo mode.
func (g *Geoapify) Search(ctx context.Context, query string, loc *catalog.GeoPoint) []catalog.Product {
	if loc == nil {
		return []catalog.Product{}
	}
	if g.cfg.APIKey == "" {
		return g.mockResults(query, loc)
	}

	radius := g.cfg.RadiusMeters
	if radius <= 0 {
		radius = 5000
	}
	limit := g.cfg.Limit
	if limit <= 0 {
		limit = 20
	}
	categories := g.cfg.Categories
	if categories == "" {
		categories = "catering.restaurant"
	}

	lon := strconv.FormatFloat(loc.Lon(), 'f', -1, 64)
	lat := strconv.FormatFloat(loc.Lat(), 'f', -1, 64)
	q := url.Values{}
	q.Set("categories", categories)
	q.Set("filter", fmt.Sprintf("circle:%s,%s,%d", lon, lat, int(radius)))
	q.Set("bias", fmt.Sprintf("proximity:%s,%s", lon, lat))
	q.Set("limit", strconv.Itoa(limit))
	if strings.TrimSpace(query) != "" {
		q.Set("name", strings.TrimSpace(query))
	}
	q.Set("apiKey", g.cfg.APIKey)

	var resp geoapifyResponse
	if err := g.http.getJSON(ctx, "geoapify.places", strings.TrimRight(g.cfg.BaseURL, "/")+"/v2/places", q, nil, &resp); err != nil {
		logFailure(g.logger, GeoapifyName, "search", err)
		return []catalog.Product{}
	}

	now := time.Now().UTC()
	products := make([]catalog.Product, 0, len(resp.Features))
	for _, f := range resp.Features {
		p := f.Properties
		if p.PlaceID == "" || p.Name == "" {
			continue
		}
		address := p.Formatted
		if address == "" {
			address = p.Address2
		}
		products = append(products, catalog.Product{
			CanonicalProductID: catalog.ProductID(GeoapifyName, p.PlaceID),
			Title:              p.Name,
			Description:        address,
			Tags:               geoapifyTags(p.Categories, p.Catering.Cuisine),
			Location:           catalog.NewGeoPoint(p.Lat, p.Lon),
			Address:            address,
			Website:            p.Website,
			Phone:              p.Contact.Phone,
			Sources: []catalog.Source{{
				Provider:          GeoapifyName,
				ProviderProductID: p.PlaceID,
				LastFetchedAt:     now,
			}},
			LastFetchedAt: now,
		})
	}
	return products
}

// geoapifyTags keeps the leaf of each dotted category plus any cuisines.
func geoapifyTags(categories []string, cuisine string) []string {
	tags := make([]string, 0, len(categories)+1)
	for _, c := range categories {
		if i := strings.LastIndex(c, "."); i >= 0 {
			c = c[i+1:]
		}
		tags = append(tags, c)
	}
	for _, c := range strings.Split(cuisine, ";") {
		if c = strings.TrimSpace(c); c != "" {
			tags = append(tags, c)
		}
	}
	return tags
}

func (g *Geoapify) mockResults(query string, loc *catalog.GeoPoint) []catalog.Product {
	title := "Neighbourhood Kitchen"
	if q := strings.TrimSpace(query); q != "" {
		title = q + " spot"
	}
	now := time.Now().UTC()
	return []catalog.Product{{
		CanonicalProductID: catalog.ProductID(GeoapifyName, "mock-1"),
		Title:              title,
		Description:        "Sample result served without a Geoapify API key",
		Tags:               []string{"restaurant"},
		Location:           catalog.NewGeoPoint(loc.Lat()+0.001, loc.Lon()+0.001),
		Sources: []catalog.Source{{
			Provider:          GeoapifyName,
			ProviderProductID: "mock-1",
			LastFetchedAt:     now,
		}},
		LastFetchedAt: now,
	}}
}
