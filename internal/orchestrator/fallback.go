package orchestrator

import (
	"github.com/aiorchestrator/orchestrator/internal/cache"
	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// GenerateWithFallback runs the same pipeline as Generate but, on any
// provider or breaker failure, retries against the remaining healthy
// providers in strategy order until one succeeds or every candidate has
// been tried. It never returns an error: if every provider fails it
// returns the static degraded response instead.
func (o *Orchestrator) GenerateWithFallback(ctx domain.Context, prompt string, options domain.RequestOptions) domain.Response {
	if err := getValidator().Struct(options); err != nil {
		return domain.Response{Content: domain.FallbackMessage, Model: options.Model}
	}

	model := options.Model
	if options.UserID != "" {
		if _, err := o.Quota.Enforce(ctx, options.UserID, options.SessionID, o.QuotaCfg); err != nil {
			return domain.Response{Content: domain.FallbackMessage, Model: model}
		}
		result, err := o.RateLimit.Check(ctx, options.UserID, 0, 0, o.RateCfg)
		if err != nil || !result.CanMakeRequest {
			return domain.Response{Content: domain.FallbackMessage, Model: model}
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
			}
		}
	}

	excluded := make(map[string]bool)
	attempt := 0
	for {
		resp, providerName, latency, err := o.generateOnce(ctx, prompt, options, model, excluded)
		if err == nil {
			o.finishSuccess(ctx, &resp, options, cacheKey, prompt, model, latency)
			return resp
		}

		o.Sink.Emit(ctx, domain.EventRequestFailed, map[string]any{
			"provider": providerName, "latency_ms": latency, "error": err.Error(), "requestId": options.RequestID,
		})
		if providerName == "" {
			// Selector found no healthy candidate left; exhausted.
			break
		}
		excluded[providerName] = true
		attempt++
		o.Sink.Emit(ctx, domain.EventRequestFallback, map[string]any{
			"provider": providerName, "attempt": attempt, "requestId": options.RequestID,
		})
	}

	return domain.Response{Content: domain.FallbackMessage, Model: model, Cached: false, Provider: ""}
}
