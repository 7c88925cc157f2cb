package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProduct() Product {
	return Product{
		CanonicalProductID: "geoapify::abc",
		Title:              "  Taco Palace ",
		Images:             []string{"https://img/1.jpg", "", "https://img/1.jpg"},
		Location:           NewGeoPoint(30.2672, -97.7431),
		Sources:            []Source{{Provider: "geoapify", ProviderProductID: "abc"}},
	}
}

func TestValidate_NormalizesAndDefaults(t *testing.T) {
	p, err := Validate(validProduct())
	require.NoError(t, err)

	assert.Equal(t, "Taco Palace", p.Title)
	assert.Equal(t, []string{"https://img/1.jpg"}, p.Images)
	assert.Equal(t, DefaultCurrency, p.Price.Currency)
	assert.False(t, p.LastFetchedAt.IsZero())
	require.Len(t, p.Sources, 1)
	assert.False(t, p.Sources[0].LastFetchedAt.IsZero())
}

func TestValidate_OptionalLocation(t *testing.T) {
	p := validProduct()
	p.CanonicalProductID = "cms::snack-1"
	p.Location = nil

	got, err := Validate(p)
	require.NoError(t, err)
	assert.Nil(t, got.Location)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Product)
		field  string
	}{
		{"missing id", func(p *Product) { p.CanonicalProductID = "" }, "canonicalProductId"},
		{"id without namespace", func(p *Product) { p.CanonicalProductID = "abc" }, "canonicalProductId"},
		{"missing title", func(p *Product) { p.Title = "   " }, "title"},
		{"latitude out of range", func(p *Product) { p.Location = NewGeoPoint(123, 0) }, "location"},
		{"wrong geo type", func(p *Product) { p.Location = &GeoPoint{Type: "Polygon", Coordinates: []float64{0, 0}} }, "location"},
		{"negative price", func(p *Product) { p.Price.Amount = -1 }, "price.amount"},
		{"rating too high", func(p *Product) { p.Rating = Float64(7) }, "rating"},
		{"negative rating count", func(p *Product) { p.NumRatings = Int(-2) }, "numRatings"},
		{"source without provider", func(p *Product) { p.Sources = []Source{{ProviderProductID: "x"}} }, "sources[0].provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validProduct()
			tc.mutate(&p)

			_, err := Validate(p)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidate_CommentIDsAreStable(t *testing.T) {
	withComments := func() Product {
		p := validProduct()
		p.Comments = []Comment{
			{Text: " great al pastor ", Author: "ana", Origin: "geoapify"},
			{Text: "great al pastor", Author: "ana", Origin: "geoapify"},
			{Text: "   "},
			{ID: "rev-9", Text: "too salty", Origin: "google_places"},
		}
		return p
	}

	first, err := Validate(withComments())
	require.NoError(t, err)
	require.Len(t, first.Comments, 2)
	assert.NotEmpty(t, first.Comments[0].ID)
	assert.Equal(t, "rev-9", first.Comments[1].ID)
	assert.False(t, first.Comments[0].CreatedAt.IsZero())

	second, err := Validate(withComments())
	require.NoError(t, err)
	assert.Equal(t, first.Comments[0].ID, second.Comments[0].ID)

	other := Comment{Text: "great al pastor", Author: "ben", Origin: "geoapify"}
	assert.NotEqual(t, first.Comments[0].ID, other.StableID())
}

func TestValidateBatch_PartialTolerant(t *testing.T) {
	bad := validProduct()
	bad.Title = ""
	second := validProduct()
	second.CanonicalProductID = "geoapify::def"

	valid, failures := ValidateBatch([]Product{validProduct(), bad, second})
	assert.Len(t, valid, 2)
	assert.Len(t, failures, 1)
}

func TestValidateRaw(t *testing.T) {
	p, err := ValidateRaw(json.RawMessage(`{"canonicalProductId":"cms::2","title":"Pretzels","price":{"amount":2.5}}`))
	require.NoError(t, err)
	assert.Equal(t, 2.5, p.Price.Amount)

	_, err = ValidateRaw(json.RawMessage(`{"canonicalProductId":`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "body", verr.Field)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "creme brulee", NormalizeText("  Crème Brûlée "))
	assert.Equal(t, []string{"pho", "near", "me"}, Terms("Phở, near me!"))
}

func TestProductID_RoundTrip(t *testing.T) {
	id := ProductID("SerpApi", " place-1 ")
	assert.Equal(t, "serpapi::place-1", id)

	provider, providerID, ok := SplitProductID(id)
	require.True(t, ok)
	assert.Equal(t, "serpapi", provider)
	assert.Equal(t, "place-1", providerID)

	_, _, ok = SplitProductID("::x")
	assert.False(t, ok)
}

func TestProduct_MinPrice(t *testing.T) {
	p := Product{
		Price:   Price{Amount: 12},
		Sources: []Source{{Price: 0}, {Price: 9.5}, {Price: 11}},
	}
	assert.Equal(t, 9.5, p.MinPrice())
}

func TestDistanceMeters(t *testing.T) {
	austin := NewGeoPoint(30.2672, -97.7431)
	nearby := NewGeoPoint(30.2772, -97.7431) // ~1.1km north

	d := DistanceMeters(*austin, *nearby)
	assert.InDelta(t, 1113, d, 15)
	assert.Zero(t, DistanceMeters(*austin, *austin))
}
