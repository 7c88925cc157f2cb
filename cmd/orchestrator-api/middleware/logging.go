package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// RequestLogger logs one line per request and propagates chi's request id
// into the context so downstream loggers pick it up.
func RequestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if id := chimiddleware.GetReqID(ctx); id != "" {
				ctx = observability.ContextWithRequestID(ctx, id)
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			event := logger.WithContext(ctx).Info()
			if status >= http.StatusInternalServerError {
				event = logger.WithContext(ctx).Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("Request completed")
		})
	}
}
