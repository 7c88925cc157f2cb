package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// CMSName is the provider namespace for the first-party snack catalog.
const CMSName = "cms"

const cmsProductsQuery = `*[_type == "product" && defined(slug.current)]{_id, name, image, price, details, slug} | order(_createdAt desc)`

// CMS reads the first-party product catalog from the Sanity query API.
// Catalog products have no location.
type CMS struct {
	cfg    config.CMSConfig
	http   *httpClient
	logger *observability.Logger
}

// NewCMS creates a CMS connector.
func NewCMS(cfg config.CMSConfig, opts HTTPOptions, logger *observability.Logger) *CMS {
	logger = logger.WithComponent("connector.cms")
	if cfg.Brand == "" {
		cfg.Brand = "SnacksCo"
	}
	return &CMS{cfg: cfg, http: newHTTPClient(opts, logger), logger: logger}
}

func (c *CMS) Name() string { return CMSName }

func (c *CMS) Capabilities() Capabilities {
	return Capabilities{Search: true}
}

// Brand is the display name shown for catalog products.
func (c *CMS) Brand() string { return c.cfg.Brand }

type cmsDocument struct {
	ID      string  `json:"_id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Details string  `json:"details"`
	Slug    struct {
		Current string `json:"current"`
	} `json:"slug"`
	Image []struct {
		Asset struct {
			Ref string `json:"_ref"`
		} `json:"asset"`
	} `json:"image"`
}

type cmsQueryResponse struct {
	Result []cmsDocument `json:"result"`
}

// Search returns catalog products whose name or details contain any query
// term. An empty query returns the whole catalog. The location is ignored.
func (c *CMS) Search(ctx context.Context, query string, _ *catalog.GeoPoint) []catalog.Product {
	products := c.Catalog(ctx)
	terms := catalog.Terms(query)
	if len(terms) == 0 {
		return products
	}

	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		haystack := catalog.NormalizeText(p.Title + " " + p.Description)
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Catalog returns every published catalog product, newest first.
func (c *CMS) Catalog(ctx context.Context) []catalog.Product {
	if c.cfg.ProjectID == "" && c.cfg.BaseURL == "" {
		return c.mockCatalog()
	}

	q := url.Values{}
	q.Set("query", cmsProductsQuery)

	var headers map[string]string
	if c.cfg.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.cfg.Token}
	}

	var resp cmsQueryResponse
	if err := c.http.getJSON(ctx, "cms.query", c.queryEndpoint(), q, headers, &resp); err != nil {
		logFailure(c.logger, CMSName, "catalog", err)
		return []catalog.Product{}
	}

	now := time.Now().UTC()
	products := make([]catalog.Product, 0, len(resp.Result))
	for _, d := range resp.Result {
		if d.ID == "" || d.Name == "" {
			continue
		}
		p := catalog.Product{
			CanonicalProductID: catalog.ProductID(CMSName, d.ID),
			Title:              d.Name,
			Description:        d.Details,
			Slug:               d.Slug.Current,
			Tags:               []string{"snack"},
			Price:              catalog.Price{Amount: d.Price, Currency: catalog.DefaultCurrency},
			Sources: []catalog.Source{{
				Provider:          CMSName,
				ProviderProductID: d.ID,
				Price:             d.Price,
				LastFetchedAt:     now,
			}},
			LastFetchedAt: now,
		}
		if len(d.Image) > 0 {
			if img := c.imageURL(d.Image[0].Asset.Ref, 400); img != "" {
				p.Images = []string{img}
			}
		}
		products = append(products, p)
	}
	return products
}

func (c *CMS) queryEndpoint() string {
	version := c.cfg.APIVersion
	if version == "" {
		version = "2022-03-10"
	}
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.api.sanity.io", c.cfg.ProjectID)
	}
	return fmt.Sprintf("%s/v%s/data/query/%s", base, version, c.cfg.Dataset)
}

// imageURL converts an asset reference such as "image-abc123-800x600-jpg"
// into a CDN URL scaled to width.
func (c *CMS) imageURL(ref string, width int) string {
	parts := strings.Split(ref, "-")
	if len(parts) < 4 || parts[0] != "image" {
		return ""
	}
	ext := parts[len(parts)-1]
	dims := parts[len(parts)-2]
	id := strings.Join(parts[1:len(parts)-2], "-")
	return fmt.Sprintf("https://cdn.sanity.io/images/%s/%s/%s-%s.%s?w=%d",
		c.cfg.ProjectID, c.cfg.Dataset, id, dims, ext, width)
}

func (c *CMS) mockCatalog() []catalog.Product {
	now := time.Now().UTC()
	mk := func(id, name, details, slug string, price float64) catalog.Product {
		return catalog.Product{
			CanonicalProductID: catalog.ProductID(CMSName, id),
			Title:              name,
			Description:        details,
			Slug:               slug,
			Tags:               []string{"snack"},
			Price:              catalog.Price{Amount: price, Currency: catalog.DefaultCurrency},
			Sources: []catalog.Source{{
				Provider:          CMSName,
				ProviderProductID: id,
				Price:             price,
				LastFetchedAt:     now,
			}},
			LastFetchedAt: now,
		}
	}
	return []catalog.Product{
		mk("mock-product-1", "Spicy Mock-a-roni", "A fiery twist on a classic favorite. Not for the faint of heart!", "spicy-mock-a-roni", 5.99),
		mk("mock-product-2", "Sweet & Salty Mockcorn", "The perfect balance of sweet and savory. A crowd-pleaser!", "sweet-salty-mockcorn", 4.99),
	}
}
