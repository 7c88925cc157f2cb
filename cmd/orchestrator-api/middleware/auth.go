// Package middleware provides HTTP middleware for the orchestrator API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
)

// Context keys for request-scoped values.
type contextKey string

// UserIDKey is the context key for the current user id.
const UserIDKey contextKey = "user_id"

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// CurrentUser resolves the user for every request. With auth disabled the
// header is optional and falls back to the configured development user.
// With auth enabled a missing header is rejected.
func CurrentUser(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserHeader))

			if userID == "" {
				if cfg.Enabled {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"error":"unauthorized","message":"missing user identity"}`))
					return
				}
				userID = cfg.DevUserID
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// WithUser stores userID in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserFromContext extracts the user ID from context.
func UserFromContext(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CORS returns CORS middleware for browser clients.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID, X-Thread-Id")
				w.Header().Set("Access-Control-Expose-Headers", "X-Thread-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
