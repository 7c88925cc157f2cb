// Package catalog defines the canonical product representation shared by every
// provider connector, the geo-cache and the chat pipeline, and validates raw
// provider payloads into it.
package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDSeparator separates the provider namespace from the provider's own id.
const IDSeparator = "::"

// DefaultCurrency is applied when a provider omits the price currency.
const DefaultCurrency = "USD"

// Product is the provider-agnostic normalized unit of search result data.
type Product struct {
	CanonicalProductID string    `json:"canonicalProductId" bson:"canonicalProductId"`
	Title              string    `json:"title" bson:"title"`
	Description        string    `json:"description" bson:"description"`
	Slug               string    `json:"slug,omitempty" bson:"slug,omitempty"`
	Images             []string  `json:"images" bson:"images"`
	Tags               []string  `json:"tags" bson:"tags"`
	Location           *GeoPoint `json:"location,omitempty" bson:"location,omitempty"`
	Address            string    `json:"address,omitempty" bson:"address,omitempty"`
	Website            string    `json:"website,omitempty" bson:"website,omitempty"`
	Phone              string    `json:"phone,omitempty" bson:"phone,omitempty"`
	Price              Price     `json:"price" bson:"price"`
	Rating             *float64  `json:"rating,omitempty" bson:"rating,omitempty"`
	NumRatings         *int      `json:"numRatings,omitempty" bson:"numRatings,omitempty"`
	PopularityScore    *float64  `json:"popularityScore,omitempty" bson:"popularityScore,omitempty"`
	Sources            []Source  `json:"sources" bson:"sources"`
	Comments           []Comment `json:"comments" bson:"comments"`
	LastFetchedAt      time.Time `json:"lastFetchedAt" bson:"lastFetchedAt"`

	// Store-managed.
	CreatedAt      *time.Time `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	LastIngestedAt *time.Time `json:"lastIngestedAt,omitempty" bson:"lastIngestedAt,omitempty"`
}

// Price is an amount in a currency.
type Price struct {
	Amount   float64 `json:"amount" bson:"amount"`
	Currency string  `json:"currency" bson:"currency"`
}

// Source records one contributing provider for a product.
type Source struct {
	Provider          string    `json:"provider" bson:"provider"`
	ProviderProductID string    `json:"providerProductId" bson:"providerProductId"`
	Price             float64   `json:"price" bson:"price"`
	DeliveryEtaMin    *int      `json:"deliveryEtaMin,omitempty" bson:"deliveryEtaMin,omitempty"`
	LastFetchedAt     time.Time `json:"lastFetchedAt" bson:"lastFetchedAt"`
}

// SameAs reports whether two source entries describe the same provider record.
func (s Source) SameAs(other Source) bool {
	return s.Provider == other.Provider && s.ProviderProductID == other.ProviderProductID
}

// Comment is a provenance-tagged review or remark.
type Comment struct {
	ID        string    `json:"id" bson:"id"`
	Text      string    `json:"text" bson:"text"`
	Author    string    `json:"author" bson:"author"`
	Origin    string    `json:"origin" bson:"origin"`
	Rating    *float64  `json:"rating,omitempty" bson:"rating,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// StableID derives an id from origin, author and text, so a comment a
// provider returns on every fetch always maps to the same entry.
func (c Comment) StableID() string {
	name := c.Origin + "\x00" + c.Author + "\x00" + strings.TrimSpace(c.Text)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// NormalizeComments drops blank comments, fills in missing ids and removes
// entries whose id repeats.
func NormalizeComments(comments []Comment) []Comment {
	out := make([]Comment, 0, len(comments))
	seen := make(map[string]struct{}, len(comments))
	for _, c := range comments {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		if c.ID = strings.TrimSpace(c.ID); c.ID == "" {
			c.ID = c.StableID()
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ProductID builds a namespaced canonical product id.
func ProductID(provider, providerID string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + IDSeparator + strings.TrimSpace(providerID)
}

// SplitProductID returns the provider namespace and provider id of a canonical id.
func SplitProductID(id string) (provider, providerID string, ok bool) {
	provider, providerID, ok = strings.Cut(id, IDSeparator)
	if !ok || provider == "" || providerID == "" {
		return "", "", false
	}
	return provider, providerID, true
}

// Provider returns the namespace portion of the canonical id.
func (p Product) Provider() string {
	provider, _, _ := SplitProductID(p.CanonicalProductID)
	return provider
}

// SourceFor returns the first source entry contributed by provider.
func (p Product) SourceFor(provider string) (Source, bool) {
	for _, s := range p.Sources {
		if strings.EqualFold(s.Provider, provider) {
			return s, true
		}
	}
	return Source{}, false
}

// MinPrice returns the lowest non-zero price across the product and its sources.
func (p Product) MinPrice() float64 {
	best := p.Price.Amount
	for _, s := range p.Sources {
		if s.Price > 0 && (best == 0 || s.Price < best) {
			best = s.Price
		}
	}
	return best
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
