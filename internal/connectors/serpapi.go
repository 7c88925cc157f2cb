package connectors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// SerpAPIName is the provider namespace for SerpApi Google Maps results.
const SerpAPIName = "serpapi"

// SerpAPI searches Google Maps local results through SerpApi.
type SerpAPI struct {
	cfg    config.SerpAPIConfig
	http   *httpClient
	logger *observability.Logger
}

// NewSerpAPI creates a SerpApi connector.
func NewSerpAPI(cfg config.SerpAPIConfig, opts HTTPOptions, logger *observability.Logger) *SerpAPI {
	logger = logger.WithComponent("connector.serpapi")
	return &SerpAPI{cfg: cfg, http: newHTTPClient(opts, logger), logger: logger}
}

func (s *SerpAPI) Name() string { return SerpAPIName }

func (s *SerpAPI) Capabilities() Capabilities {
	return Capabilities{Search: true, Geo: true}
}

type serpLocalResult struct {
	PlaceID        string   `json:"place_id"`
	DataID         string   `json:"data_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Address        string   `json:"address"`
	Phone          string   `json:"phone"`
	Website        string   `json:"website"`
	Rating         *float64 `json:"rating"`
	Reviews        *int     `json:"reviews"`
	Price          string   `json:"price"`
	Type           string   `json:"type"`
	Types          []string `json:"types"`
	Thumbnail      string   `json:"thumbnail"`
	GPSCoordinates *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"gps_coordinates"`
}

type serpResponse struct {
	LocalResults []serpLocalResult `json:"local_results"`
	Error        string            `json:"error"`
}

// Search queries the google_maps engine centred on loc. Without a location
// the query is sent as-is and Google picks the area.
func (s *SerpAPI) Search(ctx context.Context, query string, loc *catalog.GeoPoint) []catalog.Product {
	if s.cfg.APIKey == "" {
		s.logger.Debug().Msg("SerpApi key not configured, skipping")
		return []catalog.Product{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		query = "restaurants"
	}

	zoom := s.cfg.Zoom
	if zoom <= 0 {
		zoom = 15
	}

	q := url.Values{}
	q.Set("engine", "google_maps")
	q.Set("type", "search")
	q.Set("q", query)
	if loc != nil {
		q.Set("ll", fmt.Sprintf("@%s,%s,%dz",
			strconv.FormatFloat(loc.Lat(), 'f', -1, 64),
			strconv.FormatFloat(loc.Lon(), 'f', -1, 64),
			zoom))
	}
	q.Set("api_key", s.cfg.APIKey)

	var resp serpResponse
	if err := s.http.getJSON(ctx, "serpapi.google_maps", strings.TrimRight(s.cfg.BaseURL, "/")+"/search.json", q, nil, &resp); err != nil {
		logFailure(s.logger, SerpAPIName, "search", err)
		return []catalog.Product{}
	}
	if resp.Error != "" {
		s.logger.Warn().Str("provider", SerpAPIName).Msg("SerpApi reported an error, returning empty result")
		return []catalog.Product{}
	}

	now := time.Now().UTC()
	products := make([]catalog.Product, 0, len(resp.LocalResults))
	for _, r := range resp.LocalResults {
		id := r.PlaceID
		if id == "" {
			id = r.DataID
		}
		if id == "" || r.Title == "" {
			continue
		}

		p := catalog.Product{
			CanonicalProductID: catalog.ProductID(SerpAPIName, id),
			Title:              r.Title,
			Description:        r.Description,
			Address:            r.Address,
			Website:            r.Website,
			Phone:              r.Phone,
			Tags:               serpTags(r.Type, r.Types),
			Rating:             r.Rating,
			NumRatings:         r.Reviews,
			Price:              catalog.Price{Amount: parsePriceAmount(r.Price)},
			Sources: []catalog.Source{{
				Provider:          SerpAPIName,
				ProviderProductID: id,
				Price:             parsePriceAmount(r.Price),
				LastFetchedAt:     now,
			}},
			LastFetchedAt: now,
		}
		if p.Description == "" {
			p.Description = r.Address
		}
		if r.Thumbnail != "" {
			p.Images = []string{r.Thumbnail}
		}
		if r.GPSCoordinates != nil {
			p.Location = catalog.NewGeoPoint(r.GPSCoordinates.Latitude, r.GPSCoordinates.Longitude)
		}
		products = append(products, p)
	}
	return products
}

func serpTags(primary string, types []string) []string {
	tags := make([]string, 0, len(types)+1)
	if primary != "" {
		tags = append(tags, strings.ToLower(primary))
	}
	for _, t := range types {
		tags = append(tags, strings.ToLower(t))
	}
	return tags
}

var priceNumber = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// parsePriceAmount extracts the lowest number from strings like "$10–20".
// Symbol-only price levels such as "$$" carry no amount.
func parsePriceAmount(price string) float64 {
	m := priceNumber.FindString(price)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}
