package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTPRequestsTotal counts requests on the thin demo controller.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations on the thin demo controller.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// AIRequestsTotal counts orchestrator requests by provider and outcome.
	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	// AIRequestDuration records provider call latency.
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	// AITokenUsage tracks token consumption by provider, type, and model.
	AITokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total AI tokens used",
		},
		[]string{"provider", "type", "model"},
	)

	// AICostTotal tracks estimated dollar cost by provider and model.
	AICostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_cost_total",
			Help: "Total estimated AI spend in dollars",
		},
		[]string{"provider", "model"},
	)

	// CircuitBreakerState is a gauge of the current breaker state per
	// circuit (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed,1=half-open,2=open)",
		},
		[]string{"circuit"},
	)

	// CacheHitsTotal and CacheMissesTotal count cache outcomes per tier.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits by tier",
		},
		[]string{"tier"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{},
	)

	// QuotaDeniedTotal and RateLimitDeniedTotal count enforcement denials.
	QuotaDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denied_total",
			Help: "Total quota denials by period and dimension",
		},
		[]string{"period", "dimension"},
	)
	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Total rate-limit denials by dimension",
		},
		[]string{"dimension"},
	)
)

// MustRegisterAll registers every collector above on reg. Safe to call
// once at process start; intended for cmd/server wiring.
func MustRegisterAll(reg *prometheus.Registry) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		AIRequestsTotal, AIRequestDuration, AITokenUsage, AICostTotal,
		CircuitBreakerState, CacheHitsTotal, CacheMissesTotal,
		QuotaDeniedTotal, RateLimitDeniedTotal,
	)
}
