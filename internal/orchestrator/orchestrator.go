// Package orchestrator wires the circuit breaker, health monitor,
// selection strategy, quota/rate-limit enforcement, and cache into the
// public Generate/GenerateWithFallback contract (C10), gluing C3 through
// C9 into the single request pipeline.
package orchestrator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aiorchestrator/orchestrator/internal/breaker"
	"github.com/aiorchestrator/orchestrator/internal/cache"
	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/health"
	"github.com/aiorchestrator/orchestrator/internal/quota"
	"github.com/aiorchestrator/orchestrator/internal/ratelimit"
	"github.com/aiorchestrator/orchestrator/internal/selector"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// Orchestrator is the request router: it enforces quota and rate limits,
// consults the cache, selects a healthy provider, and calls it through a
// per-provider circuit breaker.
type Orchestrator struct {
	Providers map[string]domain.ProviderClient
	Breakers  *breaker.Registry
	Health    *health.Monitor
	Strategy  selector.Strategy
	Quota     *quota.Service
	QuotaCfg  quota.Limits
	RateLimit *ratelimit.Window
	RateCfg   ratelimit.Config
	Cache     *cache.Cache
	Sink      domain.EventSink
	Clock     domain.Clock
	Logger    *slog.Logger
}

// New constructs an Orchestrator from its already-built collaborators.
func New(providers map[string]domain.ProviderClient, breakers *breaker.Registry, healthMon *health.Monitor,
	strategy selector.Strategy, quotaSvc *quota.Service, quotaCfg quota.Limits,
	rateLimit *ratelimit.Window, rateCfg ratelimit.Config, respCache *cache.Cache,
	sink domain.EventSink, clk domain.Clock, logger *slog.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Providers: providers,
		Breakers:  breakers,
		Health:    healthMon,
		Strategy:  strategy,
		Quota:     quotaSvc,
		QuotaCfg:  quotaCfg,
		RateLimit: rateLimit,
		RateCfg:   rateCfg,
		Cache:     respCache,
		Sink:      sink,
		Clock:     clk,
		Logger:    logger,
	}
}

func (o *Orchestrator) providerConfigs() map[string]domain.ProviderConfig {
	out := make(map[string]domain.ProviderConfig, len(o.Providers))
	for name, p := range o.Providers {
		out[name] = p.GetConfig()
	}
	return out
}

// Generate runs the full pipeline for one request: quota/rate-limit
// enforcement, cache lookup, provider selection, breaker-wrapped call,
// and post-call bookkeeping. It returns an error on any pipeline
// rejection or unrecovered provider failure; callers wanting a
// never-fails degraded response should call GenerateWithFallback instead.
func (o *Orchestrator) Generate(ctx domain.Context, prompt string, options domain.RequestOptions) (domain.Response, error) {
	if err := getValidator().Struct(options); err != nil {
		return domain.Response{}, &domain.ProviderError{Kind: domain.ErrKindBadRequest, Message: "invalid request options", Err: err}
	}

	model := options.Model
	if options.UserID != "" {
		if _, err := o.Quota.Enforce(ctx, options.UserID, options.SessionID, o.QuotaCfg); err != nil {
			return domain.Response{}, err
		}
		result, err := o.RateLimit.Check(ctx, options.UserID, 0, 0, o.RateCfg)
		if err != nil {
			return domain.Response{}, err
		}
		if !result.CanMakeRequest {
			return domain.Response{}, domain.ErrRateLimited
		}
	}

	var cacheKey string
	if options.UseCache {
		cacheKey = cache.Key(prompt, model)
		if val, ok, err := o.Cache.Get(ctx, cacheKey); err == nil && ok {
			o.Sink.Emit(ctx, domain.EventRequestCacheHit, map[string]any{
				"model": model, "requestId": options.RequestID,
			})
			return domain.Response{
				Content:   val,
				Model:     model,
				Cached:    true,
				RequestID: options.RequestID,
				Timestamp: o.Clock.Now(),
			}, nil
		}
	}

	resp, providerName, latency, err := o.generateOnce(ctx, prompt, options, model, nil)
	if err != nil {
		o.Sink.Emit(ctx, domain.EventRequestFailed, map[string]any{
			"provider": providerName, "latency_ms": latency, "error": err.Error(), "requestId": options.RequestID,
		})
		return domain.Response{}, err
	}

	o.finishSuccess(ctx, &resp, options, cacheKey, prompt, model, latency)
	return resp, nil
}

// generateOnce selects one provider (excluding names in excluded), wraps
// the call in that provider's circuit breaker, and returns the observed
// latency in milliseconds alongside the result. It never enforces
// quota/rate-limit/cache — those are Generate's concern.
func (o *Orchestrator) generateOnce(ctx domain.Context, prompt string, options domain.RequestOptions, model string, excluded map[string]bool) (domain.Response, string, float64, error) {
	candidates := selector.FilterHealthy(o.Health.All(), excluded)
	providerName, err := (selector.ModelPinned{Inner: o.Strategy}).Select(candidates, o.providerConfigs(), model)
	if err != nil {
		return domain.Response{}, "", 0, err
	}

	client, ok := o.Providers[providerName]
	if !ok {
		return domain.Response{}, providerName, 0, fmt.Errorf("op=orchestrator.generateOnce: %w: provider %q not configured", domain.ErrNoHealthyProvider, providerName)
	}

	start := o.Clock.Now()
	br := o.Breakers.Get(providerName)
	resp, err := br.Execute(ctx, func(opCtx domain.Context) (domain.Response, error) {
		cfg := client.GetConfig()
		callCtx, cancel := effectiveDeadline(opCtx, cfg.TimeoutMs)
		defer cancel()
		return client.Generate(callCtx, prompt, options)
	}, nil)
	latencyMs := float64(o.Clock.Now().Sub(start)) / float64(time.Millisecond)

	resp.Provider = providerName
	return resp, providerName, latencyMs, err
}

// finishSuccess performs the post-call bookkeeping common to Generate and
// GenerateWithFallback: cache write, quota/rate-limit recording, and
// event emission.
func (o *Orchestrator) finishSuccess(ctx domain.Context, resp *domain.Response, options domain.RequestOptions, cacheKey, prompt, model string, latencyMs float64) {
	resp.RequestID = options.RequestID
	resp.Timestamp = o.Clock.Now()

	if options.UseCache && cacheKey != "" && !resp.Cached {
		ttl := options.CacheTTL
		if ttl <= 0 {
			ttl = cache.DefaultTTL
		}
		if err := o.Cache.Set(ctx, cacheKey, prompt, model, resp.Content, ttl); err != nil {
			o.Logger.Warn("cache write failed", "key", cacheKey, "model", model, "error", err)
		}
	}
	if options.RecordQuota && options.UserID != "" {
		_ = o.Quota.Record(ctx, options.UserID, options.SessionID, int64(resp.Tokens.Total), resp.Cost.Total)
		_ = o.RateLimit.RecordRequest(ctx, options.UserID, int64(resp.Tokens.Total), resp.Cost.Total)
	}

	o.Sink.Emit(ctx, domain.EventRequestCompleted, map[string]any{
		"provider":   resp.Provider,
		"model":      resp.Model,
		"cached":     resp.Cached,
		"latency_ms": latencyMs,
		"tokens":     resp.Tokens,
		"cost":       resp.Cost,
		"requestId":  options.RequestID,
	})
}
