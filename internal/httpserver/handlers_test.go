package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/breaker"
	"github.com/aiorchestrator/orchestrator/internal/cache"
	"github.com/aiorchestrator/orchestrator/internal/clock"
	"github.com/aiorchestrator/orchestrator/internal/domain"
	"github.com/aiorchestrator/orchestrator/internal/eventsink"
	"github.com/aiorchestrator/orchestrator/internal/health"
	"github.com/aiorchestrator/orchestrator/internal/httpserver"
	"github.com/aiorchestrator/orchestrator/internal/kv"
	"github.com/aiorchestrator/orchestrator/internal/orchestrator"
	"github.com/aiorchestrator/orchestrator/internal/quota"
	"github.com/aiorchestrator/orchestrator/internal/ratelimit"
	"github.com/aiorchestrator/orchestrator/internal/selector"
	"github.com/aiorchestrator/orchestrator/internal/telemetry"
)

type stubProvider struct {
	name string
	cfg  domain.ProviderConfig
}

func newStubProvider(name string) *stubProvider {
	return &stubProvider{
		name: name,
		cfg: domain.ProviderConfig{
			Name: name, BaseURL: "https://example.test", DefaultModel: "test-model",
			TimeoutMs: 5000,
			Models: map[string]domain.ModelConfig{
				"test-model": {MaxTokens: 100, ContextWindow: 1000, InputCostPerToken: 0.001, OutputCostPerToken: 0.002},
			},
		},
	}
}

func (p *stubProvider) Initialize() error { return nil }
func (p *stubProvider) Generate(_ domain.Context, _ string, _ domain.RequestOptions) (domain.Response, error) {
	return domain.Response{Content: "stub response", Model: p.cfg.DefaultModel, Provider: p.name}, nil
}
func (p *stubProvider) HealthCheck(domain.Context) (domain.ProviderHealth, error) {
	return domain.ProviderHealth{Provider: p.name, Status: domain.HealthHealthy}, nil
}
func (p *stubProvider) GetModelConfig(name string) (domain.ModelConfig, bool) {
	mc, ok := p.cfg.Models[name]
	return mc, ok
}
func (p *stubProvider) GetName() string                 { return p.name }
func (p *stubProvider) GetDefaultModel() string          { return p.cfg.DefaultModel }
func (p *stubProvider) GetConfig() domain.ProviderConfig { return p.cfg }

func newTestServer(t *testing.T) *httpserver.Server {
	t.Helper()
	clk := clock.NewFake(time.Now())
	store := kv.NewMemory()
	sink := eventsink.NewMemory()
	provider := newStubProvider("openai")
	providers := map[string]domain.ProviderClient{"openai": provider}

	mon := health.NewMonitor(providers, clk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mon.Start(ctx)
	t.Cleanup(mon.Stop)

	reg := breaker.NewRegistry(breaker.DefaultConfig(), clk, sink)
	quotaSvc := quota.NewService(store, clk, sink)
	rateWindow := ratelimit.NewWindow(store, clk, sink)
	respCache := cache.New(store, clk, "test-instance")
	tel := telemetry.New(nil)
	t.Cleanup(tel.Subscribe(sink))

	o := orchestrator.New(providers, reg, mon, selector.NewRoundRobin(), quotaSvc,
		quota.Limits{MonthlyRequests: 1000, DailyRequests: 100, SessionRequests: 50},
		rateWindow, ratelimit.Config{MinuteLimit: 100, HourLimit: 1000, BurstLimit: 50},
		respCache, sink, clk, nil)

	return &httpserver.Server{
		Orchestrator: o,
		Health:       mon,
		Breakers:     reg,
		Telemetry:    tel,
		Quota:        quotaSvc,
		QuotaCfg:     quota.Limits{MonthlyRequests: 1000},
		Cache:        respCache,
	}
}

func TestGenerateHandler_ReturnsProviderResponse(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"prompt": "hi", "model": "test-model"})
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.GenerateHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "openai", resp.Provider)
}

func TestGenerateHandler_RejectsMissingPrompt(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"model": "test-model"})
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.GenerateHandler()(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateHandler_FallbackNeverErrors(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"prompt": "hi", "fallback": true})
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.GenerateHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_ReportsProviders(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.HealthHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	providers, ok := body["providers"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, providers, "openai")
}

func TestStatsHandler_ReturnsSnapshotAndCircuits(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	s.StatsHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body, "requests")
	assert.Contains(t, body, "circuits")
}

func TestCacheInvalidateHandler_RequiresATarget(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.CacheInvalidateHandler()(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheInvalidateHandler_InvalidatesByKey(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"key": "some-key"})
	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.CacheInvalidateHandler()(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuotaHandler_ReturnsUsageSnapshot(t *testing.T) {
	s := newTestServer(t)
	r := chi.NewRouter()
	r.Get("/admin/quota/{userId}", s.QuotaHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/quota/user-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body, "Monthly")
}
