package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadIngestFile(t *testing.T) {
	t.Run("bare array needs provider flag", func(t *testing.T) {
		path := writeFile(t, "products.json", `[{"title":"a"},{"title":"b"}]`)

		prov, raws, err := readIngestFile(path, "partner")
		require.NoError(t, err)
		assert.Equal(t, "partner", prov)
		assert.Len(t, raws, 2)

		_, _, err = readIngestFile(path, "")
		assert.ErrorContains(t, err, "provider is required")
	})

	t.Run("document carries provider", func(t *testing.T) {
		path := writeFile(t, "doc.json", `{"provider":"geoapify","products":[{"title":"a"}]}`)

		prov, raws, err := readIngestFile(path, "")
		require.NoError(t, err)
		assert.Equal(t, "geoapify", prov)
		assert.Len(t, raws, 1)
	})

	t.Run("flag overrides document", func(t *testing.T) {
		path := writeFile(t, "doc.json", `{"provider":"geoapify","products":[]}`)

		prov, raws, err := readIngestFile(path, "cms")
		require.NoError(t, err)
		assert.Equal(t, "cms", prov)
		assert.Empty(t, raws)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeFile(t, "bad.json", `[{"title":`)
		_, _, err := readIngestFile(path, "partner")
		assert.ErrorContains(t, err, "parse ingest file")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := readIngestFile(filepath.Join(t.TempDir(), "nope.json"), "partner")
		assert.ErrorContains(t, err, "read ingest file")
	})
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want [][2]int
	}{
		{"empty", 0, 10, nil},
		{"single partial", 3, 10, [][2]int{{0, 3}}},
		{"exact", 4, 2, [][2]int{{0, 2}, {2, 4}}},
		{"remainder", 5, 2, [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{"non-positive size means one batch", 5, 0, [][2]int{{0, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, batches(tt.n, tt.size))
		})
	}
}

func TestLoadWarmPlan(t *testing.T) {
	path := writeFile(t, "plan.yaml", `
queries: [tacos, pizza]
locations:
  - name: Austin
    lat: 30.2672
    lon: -97.7431
  - lat: 40.6782
    lon: -73.9442
    queries: [bagels]
`)

	plan, err := loadWarmPlan(path)
	require.NoError(t, err)
	require.Len(t, plan.Locations, 2)

	assert.Equal(t, "Austin", plan.Locations[0].Name)
	assert.Equal(t, "40.6782,-73.9442", plan.Locations[1].Name)
	assert.Equal(t, []string{"tacos", "pizza"}, plan.queriesFor(plan.Locations[0]))
	assert.Equal(t, []string{"bagels"}, plan.queriesFor(plan.Locations[1]))
}

func TestLoadWarmPlan_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no locations", "queries: [tacos]\n", "no locations"},
		{"bad latitude", "queries: [tacos]\nlocations:\n  - name: Nowhere\n    lat: 123\n    lon: 0\n", "Nowhere"},
		{"no queries", "locations:\n  - name: Austin\n    lat: 30.2\n    lon: -97.7\n", "has no queries"},
		{"not yaml", "locations: [", "parse warm plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWarmPlan(writeFile(t, "plan.yaml", tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestProductRows(t *testing.T) {
	from := catalog.NewGeoPoint(30.2672, -97.7431)
	products := []catalog.Product{
		{
			CanonicalProductID: "geoapify::1",
			Title:              "Taco Town",
			Location:           catalog.NewGeoPoint(30.2672, -97.7431),
			Price:              catalog.Price{Amount: 7.5, Currency: "USD"},
			Rating:             catalog.Float64(4.3),
		},
		{CanonicalProductID: "cms::2", Title: "Mystery Snack"},
	}

	rows := productRows(products, from)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"geoapify::1", "Taco Town", "4.3", "7.50 USD", "0 m"}, rows[0])
	assert.Equal(t, []string{"cms::2", "Mystery Snack", "-", "-", "-"}, rows[1])
}

func TestPurgeProducts(t *testing.T) {
	ctx := context.Background()
	store := geocache.NewMemoryStore()
	_, err := store.Upsert(ctx, []catalog.Product{
		{CanonicalProductID: "geoapify::1", Title: "Taco Town"},
		{CanonicalProductID: "geoapify::2", Title: "Pizza Place"},
	})
	require.NoError(t, err)

	ids := []string{"geoapify::1", "geoapify::1", " ", "geoapify::404"}

	n, err := purgeProducts(ctx, store, ids, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, store.Len(), "dry run must not delete")

	n, err = purgeProducts(ctx, store, ids, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	n, err = purgeProducts(ctx, store, nil, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}
