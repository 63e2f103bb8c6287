package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/agoradebate/agora/internal/metrics"
)

// Metrics records one latency sample per request, keyed by the matched
// route pattern so path parameters collapse into a single series.
func Metrics(store *metrics.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			path := chi.RouteContext(r.Context()).RoutePattern()
			if path == "" {
				path = r.URL.Path
			}

			store.Record(metrics.Sample{
				Path:        r.Method + " " + path,
				DurationMs:  time.Since(start).Milliseconds(),
				TimestampMs: start.UnixMilli(),
				StatusCode:  ww.Status(),
				IsError:     ww.Status() >= 500,
			})
		})
	}
}
