package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

func googleProviderConfig(baseURL string) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:         "google",
		APIKey:       "test-key",
		BaseURL:      baseURL,
		DefaultModel: "gemini-1.5-pro",
		TimeoutMs:    2000,
		Models: map[string]domain.ModelConfig{
			"gemini-1.5-pro": {MaxTokens: 8192, ContextWindow: 1000000, InputCostPerToken: 0.0000035, OutputCostPerToken: 0.0000105},
		},
	}
}

func TestGoogleClient_GenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-pro:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"parts":[{"text":"hi from gemini"}]}}],
			"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":4,"totalTokenCount":6}
		}`))
	}))
	defer srv.Close()

	c := NewGoogleClient(googleProviderConfig(srv.URL), testRetryConfig())
	resp, err := c.Generate(context.Background(), "hi", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi from gemini", resp.Content)
	assert.Equal(t, "google", resp.Provider)
	assert.Equal(t, 6, resp.Tokens.Total)
}

func TestGoogleClient_GenerateEmptyCandidatesIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := NewGoogleClient(googleProviderConfig(srv.URL), testRetryConfig())
	_, err := c.Generate(context.Background(), "hi", domain.RequestOptions{})
	require.Error(t, err)
}
