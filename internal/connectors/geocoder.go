package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// ErrNoGeocodeMatch is returned when an address resolves to nothing.
var ErrNoGeocodeMatch = errors.New("address not found")

// Geocoder resolves free-form addresses into points. Unlike search
// connectors it reports failures, since callers need to tell the user.
type Geocoder struct {
	cfg    config.GeocoderConfig
	http   *httpClient
	logger *observability.Logger
}

// NewGeocoder creates a forward geocoder.
func NewGeocoder(cfg config.GeocoderConfig, opts HTTPOptions, logger *observability.Logger) *Geocoder {
	logger = logger.WithComponent("connector.geocoder")
	return &Geocoder{cfg: cfg, http: newHTTPClient(opts, logger), logger: logger}
}

type geocodeResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the point of the best match for address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*catalog.GeoPoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNoGeocodeMatch
	}

	q := url.Values{}
	q.Set("q", address)
	if g.cfg.APIKey != "" {
		q.Set("api_key", g.cfg.APIKey)
	}

	var results []geocodeResult
	if err := g.http.getJSON(ctx, "geocoder.search", strings.TrimRight(g.cfg.BaseURL, "/")+"/search", q, nil, &results); err != nil {
		logFailure(g.logger, "geocoder", "search", err)
		return nil, fmt.Errorf("geocode address: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoGeocodeMatch
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode address: bad latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode address: bad longitude: %w", err)
	}

	point := catalog.NewGeoPoint(lat, lon)
	if err := point.Check(); err != nil {
		return nil, fmt.Errorf("geocode address: %w", err)
	}
	return point, nil
}
