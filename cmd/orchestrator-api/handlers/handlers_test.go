package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/cmd/orchestrator-api/middleware"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/cache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/chat"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/connectors"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/geocache"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/llm"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/search"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/session"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/storage"
)

type fakeProvider struct{ products []catalog.Product }

func (p *fakeProvider) Name() string { return "geoapify" }
func (p *fakeProvider) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{Search: true, Geo: true}
}
func (p *fakeProvider) Search(context.Context, string, *catalog.GeoPoint) []catalog.Product {
	return p.products
}

type fakeGeocoder struct {
	point *catalog.GeoPoint
	err   error
}

func (g fakeGeocoder) Geocode(context.Context, string) (*catalog.GeoPoint, error) {
	return g.point, g.err
}

type brokenStore struct{ *geocache.MemoryStore }

func (brokenStore) QueryNear(context.Context, catalog.GeoPoint, float64, string, int) ([]catalog.Product, error) {
	return nil, geocache.ErrStoreUnavailable
}

func tacoTown() catalog.Product {
	return catalog.Product{
		CanonicalProductID: "geoapify::1",
		Title:              "Taco Town",
		Slug:               "taco-town",
		Location:           catalog.NewGeoPoint(30.2680, -97.7430),
		Sources:            []catalog.Source{{Provider: "geoapify", ProviderProductID: "1"}},
	}
}

type fixture struct {
	server *httptest.Server
	store  *geocache.MemoryStore
	chat   *chat.Service
	model  *llm.MockClient
}

// newFixture wires real services over in-memory backends. The model answers
// intent prompts with a CHAT intent unless intentReply is given.
func newFixture(t *testing.T, store geocache.Store, intentReply string) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := observability.NopLogger()

	reg, err := connectors.NewRegistry(&fakeProvider{products: []catalog.Product{tacoTown()}})
	require.NoError(t, err)
	orch := search.NewOrchestrator(store, reg, nil, search.Options{ProviderTimeout: time.Second}, logger)

	db, err := storage.Open(ctx, config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = storage.NewMigrationManager(db, "sqlite").Migrate(ctx)
	require.NoError(t, err)

	mem := cache.NewMemoryClient(100)
	t.Cleanup(func() { mem.Close() })

	if intentReply == "" {
		intentReply = `{"intent":"CHAT","query":null}`
	}
	model := llm.NewMockClient()
	model.CompleteFunc = func(_ context.Context, msgs []llm.Message) (string, error) {
		if len(msgs) > 0 && strings.Contains(msgs[0].Content, `"intent"`) {
			return intentReply, nil
		}
		return "Happy to help!", nil
	}
	model.StreamFunc = func(_ context.Context, _ []llm.Message, onChunk func(string) error) (string, error) {
		for _, c := range []string{"Happy ", "to help!"} {
			if err := onChunk(c); err != nil {
				return "", err
			}
		}
		return "Happy to help!", nil
	}

	svc := chat.NewService(
		chat.NewRouter(model, orch, 5, logger),
		storage.NewThreadRepository(db),
		session.NewStore(mem, time.Minute, logger),
		nil,
		logger,
	)
	t.Cleanup(func() { svc.Drain(context.Background()) })

	searchH := NewSearchHandler(logger, orch, fakeGeocoder{err: connectors.ErrNoGeocodeMatch}, store, chat.NewClassifier(model, logger))
	ingestH := NewIngestionHandler(logger, orch)
	chatH := NewChatHandler(logger, svc)
	rtH := NewRealtimeHandler(logger, svc, []string{"*"})

	r := chi.NewRouter()
	r.Use(middleware.CurrentUser(config.AuthConfig{DevUserID: "dev-user"}))
	r.Get("/search", searchH.Search)
	r.Get("/products/{id}", searchH.GetProduct)
	r.Post("/ingest/provider-data", ingestH.Ingest)
	r.Post("/chat/message", chatH.SendMessage)
	r.Post("/chat/initiate-stream", chatH.InitiateStream)
	r.Get("/chat/stream/{streamId}", chatH.Stream)
	r.Get("/chat/threads", chatH.ListThreads)
	r.Get("/chat/history", chatH.History)
	r.Put("/chat/threads/{id}", chatH.RenameThread)
	r.Delete("/chat/threads/{id}", chatH.DeleteThread)
	r.Post("/chat/recommend", chatH.Recommend)
	r.Get("/chat/ws", rtH.Connect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	mstore, _ := store.(*geocache.MemoryStore)
	return &fixture{server: srv, store: mstore, chat: svc, model: model}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSearch(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), "")

	t.Run("miss then hit", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/search?q=taco&lat=30.2672&lon=-97.7431", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		products := decode[[]catalog.Product](t, resp)
		require.Len(t, products, 1)
		assert.Equal(t, "geoapify::1", products[0].CanonicalProductID)

		resp = f.do(t, http.MethodGet, "/search?q=taco&lat=30.2672&lon=-97.7431", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	})

	tests := []struct {
		name  string
		query string
	}{
		{"missing q", "/search?lat=30&lon=-97"},
		{"missing coordinates", "/search?q=taco"},
		{"bad latitude", "/search?q=taco&lat=abc&lon=-97"},
		{"latitude out of range", "/search?q=taco&lat=95&lon=-97"},
		{"bad limit", "/search?q=taco&lat=30&lon=-97&limit=0"},
		{"unknown region", "/search?q=taco&region=Atlantis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, tt.query, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestSearch_StoreUnavailable(t *testing.T) {
	f := newFixture(t, brokenStore{geocache.NewMemoryStore()}, "")
	resp := f.do(t, http.MethodGet, "/search?q=taco&lat=30.2672&lon=-97.7431", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "product store unavailable", body.Message)
}

func TestSearch_Region(t *testing.T) {
	logger := observability.NopLogger()
	reg, err := connectors.NewRegistry(&fakeProvider{products: []catalog.Product{tacoTown()}})
	require.NoError(t, err)
	orch := search.NewOrchestrator(geocache.NewMemoryStore(), reg, nil, search.Options{}, logger)
	h := NewSearchHandler(logger, orch, fakeGeocoder{point: catalog.NewGeoPoint(30.27, -97.74)}, nil, nil)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/search?q=taco&region=Austin,TX", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geoapify::1")
}

type recordingSearcher struct {
	last search.Query
}

func (s *recordingSearcher) Search(_ context.Context, q search.Query) (*search.Result, error) {
	s.last = q
	return &search.Result{Products: []catalog.Product{}}, nil
}

type recordingGeocoder struct {
	point   *catalog.GeoPoint
	address string
}

func (g *recordingGeocoder) Geocode(_ context.Context, address string) (*catalog.GeoPoint, error) {
	g.address = address
	return g.point, nil
}

func TestSearch_RegionFromQueryText(t *testing.T) {
	logger := observability.NopLogger()
	searcher := &recordingSearcher{}
	geocoder := &recordingGeocoder{point: catalog.NewGeoPoint(30.27, -97.74)}
	h := NewSearchHandler(logger, searcher, geocoder, nil, chat.NewClassifier(llm.NewDevClient(), logger))

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/search?q=best+tacos+in+Austin", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Austin", geocoder.address)
	assert.Equal(t, "tacos", searcher.last.Text)
	assert.Equal(t, geocoder.point, searcher.last.Location)

	t.Run("explicit coordinates skip classification", func(t *testing.T) {
		geocoder.address = ""
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, "/search?q=tacos+in+Austin&lat=30.2&lon=-97.7", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, geocoder.address)
		assert.Equal(t, "tacos in Austin", searcher.last.Text)
	})

	t.Run("no region anywhere", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, "/search?q=tacos", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSearch_Offset(t *testing.T) {
	logger := observability.NopLogger()
	searcher := &recordingSearcher{}
	h := NewSearchHandler(logger, searcher, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/search?q=taco&lat=30.2&lon=-97.7&limit=5&offset=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, searcher.last.Limit)
	assert.Equal(t, 10, searcher.last.Offset)

	for _, bad := range []string{"-1", "x"} {
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, "/search?q=taco&lat=30.2&lon=-97.7&offset="+bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestIngestAndGetProduct(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), "")

	body := `{"provider":"partner","products":[
		{"canonicalProductId":"partner::1","title":"Crunchy Tacos","slug":"crunchy-tacos"},
		{"canonicalProductId":"partner::2"},
		{"canonicalProductId":"partner::3","title":"Pho Bowl"}
	]}`
	resp := f.do(t, http.MethodPost, "/ingest/provider-data", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[IngestResponseDTO](t, resp)
	assert.Equal(t, 2, out.Result.Accepted)
	require.Len(t, out.Result.Rejected, 1)
	assert.Equal(t, "partner::2", out.Result.Rejected[0].ProductID)

	resp = f.do(t, http.MethodGet, "/products/crunchy-tacos", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decode[catalog.Product](t, resp)
	assert.Equal(t, "partner::1", p.CanonicalProductID)

	resp = f.do(t, http.MethodGet, "/products/partner::404", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, bad := range []string{`{"products":[]}`, `{"provider":"x"}`, `not json`} {
		resp = f.do(t, http.MethodPost, "/ingest/provider-data", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestChatMessage(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), "")

	resp := f.do(t, http.MethodPost, "/chat/message", `{"text":"hi there"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	threadID := resp.Header.Get(ThreadIDHeader)
	require.NotEmpty(t, threadID)
	reply := decode[chat.Reply](t, resp)
	assert.Equal(t, "Happy to help!", reply.FullText)

	require.NoError(t, f.chat.Drain(context.Background()))

	resp = f.do(t, http.MethodGet, "/chat/threads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	threads := decode[[]storage.Thread](t, resp)
	require.Len(t, threads, 1)
	assert.Equal(t, "dev-user", threads[0].UserID)

	resp = f.do(t, http.MethodGet, "/chat/history?threadId="+threadID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[storage.History](t, resp)
	assert.Len(t, history.Messages, 2)

	resp = f.do(t, http.MethodPost, "/chat/message", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatMessage_SearchWithLocation(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), `{"intent":"SEARCH","query":"taco"}`)

	resp := f.do(t, http.MethodPost, "/chat/message", `{"text":"find me tacos","lat":30.2672,"lon":-97.7431}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := decode[chat.Reply](t, resp)
	assert.Equal(t, `I found a few options for "taco" near you!`, reply.FullText)
	require.Len(t, reply.Recommendations, 1)
	assert.Equal(t, "geoapify::1", reply.Recommendations[0].CanonicalProductID)
}

func TestThreadManagement(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), "")

	resp := f.do(t, http.MethodPost, "/chat/message", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(ThreadIDHeader)
	require.NoError(t, f.chat.Drain(context.Background()))

	resp = f.do(t, http.MethodPut, "/chat/threads/"+id, `{"title":"Lunch plans"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/chat/threads/"+id, `{"title":" "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/chat/threads/missing", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/chat/threads/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/chat/threads/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/chat/history", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readEvents(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") && len(events) > 0 {
			events[len(events)-1] += " " + strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestChatStream(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), "")

	resp := f.do(t, http.MethodPost, "/chat/initiate-stream", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	handle := decode[chat.StreamHandle](t, resp)
	require.NotEmpty(t, handle.StreamID)
	require.NotEmpty(t, handle.ThreadID)

	resp = f.do(t, http.MethodGet, "/chat/stream/"+handle.StreamID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, []string{
		`text-chunk {"text":"Happy "}`,
		`text-chunk {"text":"to help!"}`,
		`end {}`,
	}, readEvents(t, resp))

	resp = f.do(t, http.MethodGet, "/chat/stream/"+handle.StreamID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/chat/history?threadId="+handle.ThreadID, "")
	history := decode[storage.History](t, resp)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "Happy to help!", history.Messages[1].Text)
}

func TestChatStream_ErrorEvent(t *testing.T) {
	f := newFixture(t, brokenStore{geocache.NewMemoryStore()}, `{"intent":"SEARCH","query":"taco"}`)

	resp := f.do(t, http.MethodPost, "/chat/initiate-stream", `{"text":"tacos","lat":30.2,"lon":-97.7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	handle := decode[chat.StreamHandle](t, resp)

	resp = f.do(t, http.MethodGet, "/chat/stream/"+handle.StreamID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`error {"message":"product store unavailable"}`}, readEvents(t, resp))

	resp = f.do(t, http.MethodGet, "/chat/stream/"+handle.StreamID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecommend(t *testing.T) {
	f := newFixture(t, geocache.NewMemoryStore(), "")

	resp := f.do(t, http.MethodPost, "/chat/recommend", `{"query":"something crunchy"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[RecommendResponseDTO](t, resp)
	assert.NotNil(t, out.Recommendations)

	resp = f.do(t, http.MethodPost, "/chat/recommend", `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurrentUser_AuthEnabled(t *testing.T) {
	h := middleware.CurrentUser(config.AuthConfig{Enabled: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(middleware.UserFromContext(r.Context())))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.UserHeader, "alice")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{chat.ErrEmptyMessage, http.StatusBadRequest},
		{&catalog.ValidationError{Field: "title", Reason: "required"}, http.StatusBadRequest},
		{storage.ErrNotFound, http.StatusNotFound},
		{session.ErrNotFound, http.StatusNotFound},
		{geocache.ErrNotFound, http.StatusNotFound},
		{geocache.ErrStoreUnavailable, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, msg := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}
