package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ValidationError describes why a raw record could not become a Product.
type ValidationError struct {
	ProductID string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("invalid product: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid product %s: %s: %s", e.ProductID, e.Field, e.Reason)
}

// Validate normalizes p and checks the fields every canonical product must carry.
// Fields a provider cannot supply are defaulted rather than rejected.
func Validate(p Product) (Product, error) {
	now := time.Now().UTC()

	p.CanonicalProductID = strings.TrimSpace(p.CanonicalProductID)
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Slug = strings.TrimSpace(p.Slug)
	p.Address = strings.TrimSpace(p.Address)

	fail := func(field, reason string) (Product, error) {
		return Product{}, &ValidationError{ProductID: p.CanonicalProductID, Field: field, Reason: reason}
	}

	if p.CanonicalProductID == "" {
		return fail("canonicalProductId", "required")
	}
	if _, _, ok := SplitProductID(p.CanonicalProductID); !ok {
		return fail("canonicalProductId", "must be namespaced as <provider>::<id>")
	}
	if p.Title == "" {
		return fail("title", "required")
	}

	if p.Location != nil {
		if len(p.Location.Coordinates) == 0 && p.Location.Type == "" {
			p.Location = nil
		} else if err := p.Location.Check(); err != nil {
			return fail("location", err.Error())
		}
	}

	if p.Price.Amount < 0 || math.IsNaN(p.Price.Amount) {
		return fail("price.amount", "must not be negative")
	}
	p.Price.Currency = strings.ToUpper(strings.TrimSpace(p.Price.Currency))
	if p.Price.Currency == "" {
		p.Price.Currency = DefaultCurrency
	}

	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		return fail("rating", "must be between 0 and 5")
	}
	if p.NumRatings != nil && *p.NumRatings < 0 {
		return fail("numRatings", "must not be negative")
	}

	p.Images = dedupe(p.Images)
	p.Tags = dedupe(p.Tags)

	sources := make([]Source, 0, len(p.Sources))
	for i, s := range p.Sources {
		s.Provider = strings.TrimSpace(s.Provider)
		s.ProviderProductID = strings.TrimSpace(s.ProviderProductID)
		if s.Provider == "" {
			return fail(fmt.Sprintf("sources[%d].provider", i), "required")
		}
		if s.Price < 0 {
			return fail(fmt.Sprintf("sources[%d].price", i), "must not be negative")
		}
		if s.LastFetchedAt.IsZero() {
			s.LastFetchedAt = now
		}
		sources = append(sources, s)
	}
	p.Sources = sources

	p.Comments = NormalizeComments(p.Comments)
	for i := range p.Comments {
		if p.Comments[i].CreatedAt.IsZero() {
			p.Comments[i].CreatedAt = now
		}
	}

	if p.LastFetchedAt.IsZero() {
		p.LastFetchedAt = now
	}

	return p, nil
}

// ValidateRaw decodes a single raw record and validates it.
func ValidateRaw(raw json.RawMessage) (Product, error) {
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, &ValidationError{Field: "body", Reason: err.Error()}
	}
	return Validate(p)
}

// ValidateBatch validates each product independently. A failing record is
// reported in failures and never prevents its siblings from validating.
func ValidateBatch(products []Product) (valid []Product, failures []error) {
	valid = make([]Product, 0, len(products))
	for _, p := range products {
		v, err := Validate(p)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		valid = append(valid, v)
	}
	return valid, failures
}

// NormalizeText case-folds s and strips diacritics so "Crème Brûlée" matches "creme brulee".
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}

// Terms splits s into normalized search terms.
func Terms(s string) []string {
	return strings.FieldsFunc(NormalizeText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
