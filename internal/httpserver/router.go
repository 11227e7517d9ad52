package httpserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// ParseOrigins splits a comma-separated origin list, trimming whitespace.
// An empty or "*" input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter mounts the demo routes behind the standard middleware
// stack: recovery, request-id, timeout, access log, Prometheus metrics,
// CORS, and a per-IP rate limit on the mutating routes.
func BuildRouter(s *Server, logger *slog.Logger, corsOrigins string, requestTimeout time.Duration, ratePerMinute int) http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer())
	r.Use(RequestID(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(AccessLog())
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(corsOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(ratePerMinute, time.Minute))
		wr.Post("/generate", s.GenerateHandler())
		wr.Post("/admin/cache/invalidate", s.CacheInvalidateHandler())
	})

	r.Get("/health", s.HealthHandler())
	r.Get("/stats", s.StatsHandler())
	r.Get("/admin/quota/{userId}", s.QuotaHandler())

	return SecurityHeaders(r)
}
