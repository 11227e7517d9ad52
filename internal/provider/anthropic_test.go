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

func anthropicProviderConfig(baseURL string) domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:         "anthropic",
		APIKey:       "test-key",
		BaseURL:      baseURL,
		DefaultModel: "claude-3-sonnet",
		TimeoutMs:    2000,
		Models: map[string]domain.ModelConfig{
			"claude-3-sonnet": {MaxTokens: 4096, ContextWindow: 200000, InputCostPerToken: 0.000003, OutputCostPerToken: 0.000015},
		},
	}
}

func TestAnthropicClient_GenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content":[{"text":"hi from claude"}],
			"usage":{"input_tokens":4,"output_tokens":6},
			"stop_reason":"end_turn"
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(anthropicProviderConfig(srv.URL), testRetryConfig())
	resp, err := c.Generate(context.Background(), "hi", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi from claude", resp.Content)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, 10, resp.Tokens.Total)
	assert.Equal(t, "end_turn", resp.Metadata["stop_reason"])
}

func TestAnthropicClient_GenerateSurfacesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicClient(anthropicProviderConfig(srv.URL), testRetryConfig())
	_, err := c.Generate(context.Background(), "hi", domain.RequestOptions{})
	require.Error(t, err)

	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.ErrKindAuth, perr.Kind)
	assert.False(t, perr.Kind.Retryable())
}
