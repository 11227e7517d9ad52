// Package telemetry is the orchestrator's in-memory request/provider
// statistics collector (C11): counters guarded by a single RWMutex, an
// incremental-mean per-provider latency, and a capped response-time sample
// buffer. It subscribes to an eventsink.Memory fan-out and never blocks the
// request path doing so.
package telemetry

import (
	"log/slog"
	"sync"

	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/eventsink"
	"github.com/aiorchestrator/orchestrator/internal/observability"
)

// responseBufferSize bounds the overall response-time sample buffer; the
// oldest sample is dropped on overflow.
const responseBufferSize = 1000

// ProviderStats is the running per-provider counters, updated with an
// incremental mean so no per-call allocation is needed to recompute the
// average.
type ProviderStats struct {
	Requests       int64
	Successes      int64
	Failures       int64
	AverageLatency float64 // milliseconds
}

// Snapshot is a point-in-time, copied view of the collector's counters,
// safe to read without holding any lock.
type Snapshot struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	CacheHits          int64
	CacheMisses        int64
	Fallbacks          int64
	Providers          map[string]ProviderStats
	AverageResponseMs  float64
}

// Collector accumulates request/provider telemetry behind a single
// RWMutex: reads are cheap, writes are brief, matching the locking
// discipline for telemetry counters.
type Collector struct {
	mu sync.RWMutex

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	cacheHits          int64
	cacheMisses        int64
	fallbacks          int64

	providers map[string]*ProviderStats

	responseTimes []float64 // ring-ish buffer, capped at responseBufferSize
	responseHead  int
	responseFull  bool
	responseSum   float64

	logger *slog.Logger
}

// New constructs an empty Collector.
func New(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		providers:     make(map[string]*ProviderStats),
		responseTimes: make([]float64, responseBufferSize),
		logger:        logger,
	}
}

// Subscribe attaches the collector to sink as a fire-and-forget listener:
// it never blocks Emit, and a slow or absent consumer simply misses
// events (telemetry is observational, not authoritative).
func (c *Collector) Subscribe(sink *eventsink.Memory) func() {
	ch, unsubscribe := sink.Subscribe(256)
	go func() {
		for evt := range ch {
			c.handle(evt)
		}
	}()
	return unsubscribe
}

func (c *Collector) handle(evt eventsink.Event) {
	switch evt.Type {
	case domain.EventRequestCompleted:
		c.recordOutcome(evt.Payload, true)
	case domain.EventRequestFailed:
		c.recordOutcome(evt.Payload, false)
	case domain.EventRequestFallback:
		c.mu.Lock()
		c.fallbacks++
		c.mu.Unlock()
		observability.AIRequestsTotal.WithLabelValues(stringField(evt.Payload, "provider", "none"), "fallback").Inc()
	case domain.EventRequestCacheHit:
		c.mu.Lock()
		c.cacheHits++
		c.mu.Unlock()
		observability.CacheHitsTotal.WithLabelValues(stringField(evt.Payload, "tier", "unknown")).Inc()
	case domain.EventCircuitStateChange:
		gaugeValues := map[string]float64{"closed": 0, "half-open": 1, "open": 2}
		if v, ok := gaugeValues[stringField(evt.Payload, "next", "")]; ok {
			observability.CircuitBreakerState.WithLabelValues(stringField(evt.Payload, "circuitId", "unknown")).Set(v)
		}
	case domain.EventQuotaExceeded, domain.EventRateLimitExceeded, domain.EventProviderHealth, domain.EventCacheInvalidated:
		// Observed but not aggregated into Snapshot; left for a future
		// dashboard panel rather than dropped silently.
	default:
		c.logger.Debug("telemetry: unrecognized event type", "type", evt.Type)
	}
}

// recordOutcome updates totals, the per-provider incremental mean, and the
// capped response-time buffer for one completed or failed request.
func (c *Collector) recordOutcome(payload map[string]any, success bool) {
	provider := stringField(payload, "provider", "unknown")
	latencyMs := floatField(payload, "latency_ms", 0)
	cacheHit := boolField(payload, "cached", false)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if success {
		c.successfulRequests++
	} else {
		c.failedRequests++
	}
	if cacheHit {
		c.cacheHits++
	} else if success {
		c.cacheMisses++
	}

	ps, ok := c.providers[provider]
	if !ok {
		ps = &ProviderStats{}
		c.providers[provider] = ps
	}
	ps.Requests++
	if success {
		ps.Successes++
	} else {
		ps.Failures++
	}
	n := float64(ps.Requests)
	ps.AverageLatency += (latencyMs - ps.AverageLatency) / n

	c.pushResponseTimeLocked(latencyMs)

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	observability.AIRequestsTotal.WithLabelValues(provider, outcome).Inc()
	observability.AIRequestDuration.WithLabelValues(provider, "generate").Observe(latencyMs / 1000)

	if tokens, ok := payload["tokens"].(domain.TokenUsage); ok {
		model := stringField(payload, "model", "unknown")
		observability.AITokenUsage.WithLabelValues(provider, "prompt", model).Add(float64(tokens.Prompt))
		observability.AITokenUsage.WithLabelValues(provider, "completion", model).Add(float64(tokens.Completion))
	}
	if cost, ok := payload["cost"].(domain.Cost); ok {
		observability.AICostTotal.WithLabelValues(provider, stringField(payload, "model", "unknown")).Add(cost.Total)
	}
}

// pushResponseTimeLocked appends a sample to the capped buffer, dropping
// the oldest one on overflow. Callers must hold c.mu.
func (c *Collector) pushResponseTimeLocked(v float64) {
	if c.responseFull {
		c.responseSum -= c.responseTimes[c.responseHead]
	}
	c.responseTimes[c.responseHead] = v
	c.responseSum += v
	c.responseHead = (c.responseHead + 1) % responseBufferSize
	if c.responseHead == 0 {
		c.responseFull = true
	}
}

// RecordCacheMiss lets callers outside the event path (e.g. the
// orchestrator itself, before it has a request ID to attach to an event)
// record a bare cache miss.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
	observability.CacheMissesTotal.WithLabelValues().Inc()
}

// Snapshot returns a copy of the current counters, safe to read without
// holding the collector's internal lock.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make(map[string]ProviderStats, len(c.providers))
	for name, ps := range c.providers {
		providers[name] = *ps
	}

	count := responseBufferSize
	if !c.responseFull {
		count = c.responseHead
	}
	avg := 0.0
	if count > 0 {
		avg = c.responseSum / float64(count)
	}

	return Snapshot{
		TotalRequests:      c.totalRequests,
		SuccessfulRequests: c.successfulRequests,
		FailedRequests:     c.failedRequests,
		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		Fallbacks:          c.fallbacks,
		Providers:          providers,
		AverageResponseMs:  avg,
	}
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func floatField(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolField(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}
