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

// GooglePlacesName is the provider namespace for Google Places enrichment.
const GooglePlacesName = "google_places"

const googlePlacesDetailFields = "photos,reviews,website,international_phone_number,rating,user_ratings_total"

// GooglePlaces enriches products with photos, reviews and contact details.
type GooglePlaces struct {
	cfg    config.GooglePlacesConfig
	http   *httpClient
	logger *observability.Logger
}

// NewGooglePlaces creates a Google Places enricher.
func NewGooglePlaces(cfg config.GooglePlacesConfig, opts HTTPOptions, logger *observability.Logger) *GooglePlaces {
	logger = logger.WithComponent("connector.google_places")
	return &GooglePlaces{cfg: cfg, http: newHTTPClient(opts, logger), logger: logger}
}

func (g *GooglePlaces) Name() string { return GooglePlacesName }

func (g *GooglePlaces) Capabilities() Capabilities {
	return Capabilities{Enrich: true}
}

type placesFindResponse struct {
	Status     string `json:"status"`
	Candidates []struct {
		PlaceID string `json:"place_id"`
	} `json:"candidates"`
}

type placesDetailsResponse struct {
	Status string `json:"status"`
	Result struct {
		Photos []struct {
			PhotoReference string `json:"photo_reference"`
		} `json:"photos"`
		Reviews []struct {
			AuthorName string  `json:"author_name"`
			Rating     float64 `json:"rating"`
			Text       string  `json:"text"`
			Time       int64   `json:"time"`
		} `json:"reviews"`
		Website          string   `json:"website"`
		Phone            string   `json:"international_phone_number"`
		Rating           *float64 `json:"rating"`
		UserRatingsTotal *int     `json:"user_ratings_total"`
	} `json:"result"`
}

// Enrich looks the product up by title near its location, or by a place id
// already recorded in its sources, and returns the place details.
func (g *GooglePlaces) Enrich(ctx context.Context, p catalog.Product) *catalog.Enrichment {
	if g.cfg.APIKey == "" {
		return nil
	}

	placeID := ""
	if s, ok := p.SourceFor(GooglePlacesName); ok {
		placeID = s.ProviderProductID
	}
	if placeID == "" {
		if p.Location == nil {
			return nil
		}
		var err error
		placeID, err = g.findPlace(ctx, p.Title, *p.Location)
		if err != nil {
			logFailure(g.logger, GooglePlacesName, "find_place", err)
			return nil
		}
		if placeID == "" {
			return nil
		}
	}

	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", googlePlacesDetailFields)
	q.Set("key", g.cfg.APIKey)

	var resp placesDetailsResponse
	if err := g.http.getJSON(ctx, "google_places.details", g.endpoint("/maps/api/place/details/json"), q, nil, &resp); err != nil {
		logFailure(g.logger, GooglePlacesName, "details", err)
		return nil
	}
	if resp.Status != "" && resp.Status != "OK" {
		g.logger.Debug().Str("status", resp.Status).Str("place_id", placeID).Msg("Place details unavailable")
		return nil
	}

	now := time.Now().UTC()
	out := &catalog.Enrichment{
		Website:    resp.Result.Website,
		Phone:      resp.Result.Phone,
		Rating:     resp.Result.Rating,
		NumRatings: resp.Result.UserRatingsTotal,
		Source: &catalog.Source{
			Provider:          GooglePlacesName,
			ProviderProductID: placeID,
			LastFetchedAt:     now,
		},
	}
	for _, photo := range resp.Result.Photos {
		if photo.PhotoReference == "" {
			continue
		}
		out.Images = append(out.Images, g.photoURL(photo.PhotoReference))
	}
	for i, r := range resp.Result.Reviews {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		created := now
		if r.Time > 0 {
			created = time.Unix(r.Time, 0).UTC()
		}
		out.Comments = append(out.Comments, catalog.Comment{
			ID:        fmt.Sprintf("%s-%s-%d", GooglePlacesName, placeID, i),
			Text:      r.Text,
			Author:    r.AuthorName,
			Origin:    GooglePlacesName,
			Rating:    catalog.Float64(r.Rating),
			CreatedAt: created,
		})
	}
	return out
}

func (g *GooglePlaces) findPlace(ctx context.Context, title string, loc catalog.GeoPoint) (string, error) {
	radius := g.cfg.BiasRadiusMeters
	if radius <= 0 {
		radius = 2000
	}
	q := url.Values{}
	q.Set("input", title)
	q.Set("inputtype", "textquery")
	q.Set("fields", "place_id")
	q.Set("locationbias", fmt.Sprintf("circle:%d@%s,%s", int(radius),
		strconv.FormatFloat(loc.Lat(), 'f', -1, 64),
		strconv.FormatFloat(loc.Lon(), 'f', -1, 64)))
	q.Set("key", g.cfg.APIKey)

	var resp placesFindResponse
	if err := g.http.getJSON(ctx, "google_places.find", g.endpoint("/maps/api/place/findplacefromtext/json"), q, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	return resp.Candidates[0].PlaceID, nil
}

func (g *GooglePlaces) photoURL(ref string) string {
	width := g.cfg.PhotoMaxWidth
	if width <= 0 {
		width = 400
	}
	q := url.Values{}
	q.Set("maxwidth", strconv.Itoa(width))
	q.Set("photoreference", ref)
	q.Set("key", g.cfg.APIKey)
	return g.endpoint("/maps/api/place/photo") + "?" + q.Encode()
}

func (g *GooglePlaces) endpoint(path string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + path
}
