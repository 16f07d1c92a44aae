package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	"github.com/ingeniumai/outreach/internal/instrumentation"
	"github.com/ingeniumai/outreach/internal/logging"
)

func limitAuth() func(http.Handler) http.Handler {
	return limitByIP(10, 5*time.Minute)
}

func limitSend() func(http.Handler) http.Handler {
	return limitByIP(60, time.Minute)
}

func limitUpload() func(http.Handler) http.Handler {
	return limitByIP(30, time.Minute)
}

func limitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.LimitByIP(limit, window)
}

// requestLogger logs one line per request at debug, or at warn for server
// errors.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				logging.Duration(time.Since(start)),
			)
		})
	}
}

// recordMetrics records request counts and latency by route pattern.
func recordMetrics(m *instrumentation.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			m.RecordHTTPRequest(r.Context(), r.Method, pattern, ww.Status(), time.Since(start))
		})
	}
}
