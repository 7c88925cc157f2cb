package search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
)

func TestIngest_MixedBatch(t *testing.T) {
	store := geocache.NewMemoryStore()
	o := newOrchestrator(t, store, nil)

	raws := []json.RawMessage{
		json.RawMessage(`{"canonicalProductId":"partner::1","title":"Crunchy Tacos","price":{"amount":7.5}}`),
		json.RawMessage(`{"canonicalProductId":"partner::2"}`),
		json.RawMessage(`not json`),
		json.RawMessage(`{"canonicalProductId":"partner::3","title":"Pho Bowl","sources":[{"provider":"partner","providerProductId":"3","price":11}]}`),
	}

	res, err := o.Ingest(context.Background(), " Partner ", raws)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 2, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.Equal(t, "partner::2", res.Rejected[0].ProductID)
	assert.Equal(t, 2, res.Rejected[1].Index)
	assert.Equal(t, 2, store.Len())

	p, err := store.FindByID(context.Background(), "partner::1")
	require.NoError(t, err)
	require.Len(t, p.Sources, 1)
	assert.Equal(t, "partner", p.Sources[0].Provider)
	assert.Equal(t, "1", p.Sources[0].ProviderProductID)
	assert.Equal(t, 7.5, p.Sources[0].Price)
}

func TestIngest_RequiresProvider(t *testing.T) {
	o := newOrchestrator(t, geocache.NewMemoryStore(), nil)
	_, err := o.Ingest(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestIngest_StoreUnavailable(t *testing.T) {
	o := newOrchestrator(t, brokenWriteStore{geocache.NewMemoryStore()}, nil)
	_, err := o.Ingest(context.Background(), "partner", []json.RawMessage{
		json.RawMessage(`{"canonicalProductId":"partner::1","title":"Tacos"}`),
	})
	assert.ErrorIs(t, err, geocache.ErrStoreUnavailable)
}

func TestIngest_AllInvalidSkipsStore(t *testing.T) {
	o := newOrchestrator(t, brokenWriteStore{geocache.NewMemoryStore()}, nil)
	res, err := o.Ingest(context.Background(), "partner", []json.RawMessage{json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	assert.Len(t, res.Rejected, 1)
}
