package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

func testRouter(checks map[string]Pinger) http.Handler {
	cfg := config.DefaultConfig()
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Auth.Enabled = true
	return NewRouter(observability.NopLogger(), cfg, Dependencies{Checks: checks})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestReady(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	testRouter(map[string]Pinger{"geocache": ok, "database": ok}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	testRouter(map[string]Pinger{"geocache": ok, "database": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"unavailable"`)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat/message", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Thread-Id", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestAPIRequiresUserWhenAuthEnabled(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat/threads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
