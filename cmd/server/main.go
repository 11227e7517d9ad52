// Command server runs the AI request orchestrator: it wires the
// providers, cache, quota/rate-limit enforcement, circuit breakers, and
// telemetry into a thin HTTP demo controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aiorchestrator/orchestrator/internal/breaker"
	"github.com/aiorchestrator/orchestrator/internal/cache"
	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/config"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/eventsink"
	"github.com/aiorchestrator/orchestrator/internal/health"
	"github.com/aiorchestrator/orchestrator/internal/httpserver"
	"github.com/aiorchestrator/orchestrator/internal/kv"
	"github.com/aiorchestrator/orchestrator/internal/observability"
	"github.com/aiorchestrator/orchestrator/internal/orchestrator"
	"github.com/aiorchestrator/orchestrator/internal/pgpool"
	"github.com/aiorchestrator/orchestrator/internal/provider"
	"github.com/aiorchestrator/orchestrator/internal/quota"
	"github.com/aiorchestrator/orchestrator/internal/ratelimit"
	"github.com/aiorchestrator/orchestrator/internal/selector"
	"github.com/aiorchestrator/orchestrator/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	observability.MustRegisterAll(reg)

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to set up tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	clk := clock.Real{}

	store := buildKVStore(cfg, logger)
	sink := buildEventSink(cfg, clk, logger)

	providers := buildProviders(cfg)
	if len(providers) == 0 {
		slog.Error("no provider API keys configured; refusing to start")
		os.Exit(1)
	}

	mon := health.NewMonitor(providers, clk, logger)
	mon.Start(ctx)
	defer mon.Stop()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:    cfg.BreakerFailureThreshold,
		TimeoutMs:           int(cfg.BreakerTimeout.Milliseconds()),
		ResetTimeoutMs:      int(cfg.BreakerResetTimeout.Milliseconds()),
		HalfOpenMaxAttempts: cfg.BreakerHalfOpenAttempts,
	}, clk, sink)

	quotaSvc := quota.NewService(store, clk, sink)
	if cfg.PostgresURL != "" {
		pool, err := pgpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			slog.Error("postgres connect failed; quota durability mirror disabled", slog.Any("error", err))
		} else {
			quotaSvc = quotaSvc.WithPostgresMirror(pool)
		}
	}
	quotaCfg := quota.Limits{
		MonthlyRequests: int64(cfg.QuotaMonthlyRequests), MonthlyTokens: int64(cfg.QuotaMonthlyTokens), MonthlyCost: cfg.QuotaMonthlyCost,
		DailyRequests: int64(cfg.QuotaDailyRequests), DailyTokens: int64(cfg.QuotaDailyTokens), DailyCost: cfg.QuotaDailyCost,
		SessionRequests: int64(cfg.QuotaSessionRequests), SessionTokens: int64(cfg.QuotaSessionTokens), SessionCost: cfg.QuotaSessionCost,
	}

	rateWindow := ratelimit.NewWindow(store, clk, sink)
	rateCfg := ratelimit.Config{
		MinuteLimit:   int64(cfg.RateLimitRPM),
		HourLimit:     int64(cfg.RateLimitRPH),
		BurstLimit:    int64(cfg.RateLimitBurstLimit),
		BurstWindowMs: cfg.RateLimitBurstWindow.Milliseconds(),
	}

	respCache := cache.New(store, clk, instanceID(), cache.WithMaxSize(cfg.CacheL1MaxSize))
	if err := respCache.LoadInvalidationRules(ctx, "configs/cache_rules.yaml"); err != nil {
		slog.Warn("cache invalidation rule table not loaded", slog.Any("error", err))
	}
	cacheCleanupCtx, cancelCacheCleanup := context.WithCancel(ctx)
	defer cancelCacheCleanup()
	respCache.StartCleanup(cacheCleanupCtx)
	defer respCache.StopCleanup()
	go func() {
		ticker := time.NewTicker(cache.ScheduleTickInterval())
		defer ticker.Stop()
		for {
			select {
			case <-cacheCleanupCtx.Done():
				return
			case <-ticker.C:
				if err := respCache.RunScheduledInvalidations(cacheCleanupCtx); err != nil {
					slog.Warn("scheduled cache invalidation failed", slog.Any("error", err))
				}
			}
		}
	}()

	tel := telemetry.New(logger)
	unsubscribe := tel.Subscribe(mustMemorySink(sink))
	defer unsubscribe()

	orch := orchestrator.New(providers, breakers, mon, selector.NewRoundRobin(), quotaSvc, quotaCfg,
		rateWindow, rateCfg, respCache, sink, clk, logger)

	srv := &httpserver.Server{
		Orchestrator: orch,
		Health:       mon,
		Breakers:     breakers,
		Telemetry:    tel,
		Quota:        quotaSvc,
		QuotaCfg:     quotaCfg,
		Cache:        respCache,
	}

	handler := httpserver.BuildRouter(srv, logger, cfg.CORSAllowOrigins, cfg.HTTPRequestTimeout, cfg.HTTPRatePerMinute)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

func buildKVStore(cfg config.Config, logger *slog.Logger) domain.KeyValueStore {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis unreachable; falling back to in-process store (not shared across instances)", slog.Any("error", err))
		return kv.NewMemory()
	}
	return kv.NewRedisStore(cli)
}

// buildEventSink wires an in-memory fan-out sink (required — telemetry
// subscribes to it) plus an optional durable Kafka sink, composed behind
// eventsink.Multi when Kafka brokers are configured.
func buildEventSink(cfg config.Config, clk domain.Clock, logger *slog.Logger) domain.EventSink {
	mem := eventsink.NewMemory()
	if len(cfg.KafkaBrokers) == 0 {
		return mem
	}
	kafka, err := eventsink.NewKafka(cfg.KafkaBrokers, eventsink.DefaultTopic, clk, logger)
	if err != nil {
		logger.Warn("kafka event sink unavailable; continuing with in-memory sink only", slog.Any("error", err))
		return mem
	}
	return eventsink.NewMulti(mem, kafka)
}

// mustMemorySink recovers the *eventsink.Memory telemetry needs to
// subscribe to, whether buildEventSink returned it bare or composed
// inside a Multi.
func mustMemorySink(sink domain.EventSink) *eventsink.Memory {
	switch s := sink.(type) {
	case *eventsink.Memory:
		return s
	case *eventsink.Multi:
		if mem := s.MemorySink(); mem != nil {
			return mem
		}
	}
	return eventsink.NewMemory()
}

// buildProviders constructs one domain.ProviderClient per vendor with a
// configured API key, merging the static YAML model table (D11) with
// runtime credentials and validating the result (D10) before use.
func buildProviders(cfg config.Config) map[string]domain.ProviderClient {
	rc := cfg.GetRetryConfig()
	table, err := config.LoadProviderTable("configs/providers.yaml")
	if err != nil {
		slog.Error("provider table not loaded; no providers will be available", slog.Any("error", err))
		return nil
	}

	clients := make(map[string]domain.ProviderClient, len(table.Providers))
	validate := validator.New()

	add := func(name, apiKey string, build func(domain.ProviderConfig) domain.ProviderClient) {
		if apiKey == "" {
			return
		}
		entry, ok := table.Providers[name]
		if !ok {
			slog.Warn("provider has an API key but no static table entry", slog.String("provider", name))
			return
		}
		pc := entry.ToProviderConfig(name, apiKey, rc)
		if err := validate.Struct(pc); err != nil {
			slog.Error("provider config failed validation; skipping", slog.String("provider", name), slog.Any("error", err))
			return
		}
		clients[name] = build(pc)
	}

	add("openai", cfg.OpenAIAPIKey, func(pc domain.ProviderConfig) domain.ProviderClient { return provider.NewOpenAIClient(pc, rc) })
	add("anthropic", cfg.AnthropicAPIKey, func(pc domain.ProviderConfig) domain.ProviderClient { return provider.NewAnthropicClient(pc, rc) })
	add("google", cfg.GoogleAPIKey, func(pc domain.ProviderConfig) domain.ProviderClient { return provider.NewGoogleClient(pc, rc) })
	if cfg.AzureAPIKey != "" && cfg.AzureEndpoint != "" {
		pc := domain.ProviderConfig{
			Name: "azure", APIKey: cfg.AzureAPIKey, BaseURL: cfg.AzureEndpoint,
			DefaultModel: cfg.AzureDeployment, TimeoutMs: int(cfg.ProviderTimeout.Milliseconds()),
			MaxRetries: rc.MaxRetries, RetryDelayMs: int(rc.InitialDelay.Milliseconds()),
			Models: map[string]domain.ModelConfig{
				cfg.AzureDeployment: {MaxTokens: 4096, ContextWindow: 128000, InputCostPerToken: 0.00001, OutputCostPerToken: 0.00003},
			},
		}
		if err := validate.Struct(pc); err != nil {
			slog.Error("azure provider config failed validation; skipping", slog.Any("error", err))
		} else {
			clients["azure"] = provider.NewAzureClient(pc, rc, cfg.AzureAPIVersion)
		}
	}

	for name, c := range clients {
		if err := c.Initialize(); err != nil {
			slog.Error("provider initialization failed; removing from pool", slog.String("provider", name), slog.Any("error", err))
			delete(clients, name)
		}
	}
	return clients
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return clock.NewUUID()
	}
	return host
}
